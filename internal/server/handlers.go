package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/groupfolio/paper-engine/internal/engine"
	"github.com/groupfolio/paper-engine/internal/model"
	"github.com/groupfolio/paper-engine/internal/symbol"
	"github.com/groupfolio/paper-engine/internal/valuation"
)

// tradeRequest is the JSON body for POST .../buy and .../sell.
// The price is resolved through the oracle server-side; clients never
// supply one.
type tradeRequest struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

// tradeResponse wraps an engine TradeResult with the resolved quote and, on
// a partial commit, a warning the caller must surface.
type tradeResponse struct {
	*engine.TradeResult
	Quote   *model.Quote `json:"quote"`
	Warning string       `json:"warning,omitempty"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	sym, err := symbol.Normalize(chi.URLParam(r, "symbol"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	quote, err := s.oracle.Lookup(r.Context(), sym)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.engine.Buy)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.engine.Sell)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request,
	exec func(ctx context.Context, communityID, memberID, sym string, quantity int64, price decimal.Decimal) (*engine.TradeResult, error),
) {
	communityID := chi.URLParam(r, "communityID")
	memberID := chi.URLParam(r, "memberID")

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sym, err := symbol.Normalize(req.Symbol)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Resolve the execution price first; the engine never fetches prices.
	quote, err := s.oracle.Lookup(r.Context(), sym)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	res, err := exec(r.Context(), communityID, memberID, sym, req.Quantity, quote.Price)

	var partial *engine.PartialCommitError
	if errors.As(err, &partial) {
		// Cash genuinely moved; report the trade with a warning instead of
		// pretending it failed.
		writeJSON(w, http.StatusOK, tradeResponse{
			TradeResult: res,
			Quote:       quote,
			Warning:     "trade recorded on account but missing from transaction history",
		})
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{TradeResult: res, Quote: quote})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	memberID := chi.URLParam(r, "memberID")

	if err := s.engine.Reset(r.Context(), communityID, memberID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "reset",
		"starting_balance": s.engine.StartingBalance().String(),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.engine.GetAccount(r.Context(), chi.URLParam(r, "communityID"), chi.URLParam(r, "memberID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	account, err := s.engine.GetAccount(r.Context(), chi.URLParam(r, "communityID"), chi.URLParam(r, "memberID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.valuation.Valuate(r.Context(), account))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	txns, err := s.engine.ListTransactions(r.Context(), chi.URLParam(r, "communityID"), chi.URLParam(r, "memberID"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.engine.ListAccounts(r.Context(), chi.URLParam(r, "communityID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	by, ok := valuation.ParseCriterion(r.URL.Query().Get("by"))
	if !ok {
		writeError(w, "invalid leaderboard category: use value, gainers, or volume", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}

	entries, err := s.valuation.Leaderboard(r.Context(), chi.URLParam(r, "communityID"), by, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Watchlist ---

type watchAddRequest struct {
	Symbol      string `json:"symbol"`
	AddedByID   string `json:"added_by_id"`
	AddedByName string `json:"added_by_name"`
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.watchlist.List(r.Context(), chi.URLParam(r, "communityID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, quote, err := s.watchlist.Add(r.Context(), chi.URLParam(r, "communityID"), req.Symbol, req.AddedByID, req.AddedByName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entry": entry, "quote": quote})
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	err := s.watchlist.Remove(r.Context(), chi.URLParam(r, "communityID"), chi.URLParam(r, "symbol"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
