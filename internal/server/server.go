// Package server exposes the trading engine, aggregation layer, watchlist,
// and price oracle over an HTTP API. It owns the mapping from engine errors
// to HTTP statuses; the engine itself returns structured results and errors.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/groupfolio/paper-engine/internal/engine"
	"github.com/groupfolio/paper-engine/internal/oracle"
	"github.com/groupfolio/paper-engine/internal/store"
	"github.com/groupfolio/paper-engine/internal/symbol"
	"github.com/groupfolio/paper-engine/internal/valuation"
	"github.com/groupfolio/paper-engine/internal/watchlist"
)

// Server bundles the request handlers for the HTTP API.
type Server struct {
	engine    *engine.Service
	valuation *valuation.Service
	watchlist *watchlist.Service
	oracle    oracle.Oracle
	hub       *engine.WSHub
}

// New creates the HTTP API over the given services.
// Pass nil for hub to disable the WebSocket endpoint.
func New(eng *engine.Service, val *valuation.Service, wl *watchlist.Service, o oracle.Oracle, hub *engine.WSHub) *Server {
	return &Server{engine: eng, valuation: val, watchlist: wl, oracle: o, hub: hub}
}

// Register mounts all API routes under /api/v1.
func (s *Server) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Get("/quotes/{symbol}", s.handleQuote)

		r.Route("/communities/{communityID}", func(r chi.Router) {
			r.Get("/accounts", s.handleListAccounts)
			r.Get("/leaderboard", s.handleLeaderboard)

			r.Route("/watchlist", func(r chi.Router) {
				r.Get("/", s.handleWatchlist)
				r.Post("/", s.handleWatchlistAdd)
				r.Delete("/{symbol}", s.handleWatchlistRemove)
			})

			r.Route("/members/{memberID}", func(r chi.Router) {
				r.Post("/buy", s.handleBuy)
				r.Post("/sell", s.handleSell)
				r.Post("/reset", s.handleReset)
				r.Get("/account", s.handleAccount)
				r.Get("/portfolio", s.handlePortfolio)
				r.Get("/transactions", s.handleTransactions)
			})
		})
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps engine/store/oracle errors to HTTP statuses.
// Every failure carries a specific, human-readable reason.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, symbol.ErrInvalid):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientShares),
		errors.Is(err, engine.ErrNoPosition),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, oracle.ErrSymbolNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrNotConnected):
		writeError(w, "database features disabled: "+err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
