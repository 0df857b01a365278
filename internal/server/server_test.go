package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/groupfolio/paper-engine/internal/engine"
	"github.com/groupfolio/paper-engine/internal/model"
	"github.com/groupfolio/paper-engine/internal/oracle"
	"github.com/groupfolio/paper-engine/internal/server"
	"github.com/groupfolio/paper-engine/internal/store"
	"github.com/groupfolio/paper-engine/internal/valuation"
	"github.com/groupfolio/paper-engine/internal/watchlist"
)

type stubOracle struct {
	prices map[string]decimal.Decimal
}

func (o stubOracle) Lookup(_ context.Context, sym string) (*model.Quote, error) {
	p, ok := o.prices[sym]
	if !ok {
		return nil, fmt.Errorf("%w: %s", oracle.ErrSymbolNotFound, sym)
	}
	return &model.Quote{Symbol: sym, Price: p, Currency: "USD"}, nil
}

type testEnv struct {
	router http.Handler
	store  store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ms := store.NewMemoryStore()
	quotes := stubOracle{prices: map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(150),
		"TSLA": decimal.NewFromInt(250),
	}}

	eng := engine.NewService(ms, engine.Config{}, nil)
	val := valuation.NewService(ms, quotes, valuation.Config{StartingBalance: engine.DefaultStartingBalance})
	wl := watchlist.NewService(ms, quotes)

	r := chi.NewRouter()
	server.New(eng, val, wl, quotes, nil).Register(r)

	return &testEnv{router: r, store: ms}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestQuoteEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/quotes/aapl", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	q := decode[model.Quote](t, rec)
	if q.Symbol != "AAPL" || !q.Price.Equal(decimal.NewFromInt(150)) {
		t.Errorf("unexpected quote: %+v", q)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/quotes/NOPE", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown symbol: expected 404, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/quotes/bad!sym", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed symbol: expected 400, got %d", rec.Code)
	}
}

func TestBuyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/buy",
		map[string]any{"symbol": "AAPL", "quantity": 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	res := decode[struct {
		Transaction model.Transaction `json:"transaction"`
		Cash        decimal.Decimal   `json:"cash"`
		Position    *model.Position   `json:"position"`
		Quote       *model.Quote      `json:"quote"`
		Warning     string            `json:"warning"`
	}](t, rec)

	if !res.Cash.Equal(decimal.NewFromInt(98500)) {
		t.Errorf("expected cash 98500, got %s", res.Cash)
	}
	if res.Position == nil || res.Position.Quantity != 10 {
		t.Errorf("expected position of 10, got %+v", res.Position)
	}
	if res.Transaction.Action != model.ActionBuy || !res.Transaction.Total.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("unexpected transaction: %+v", res.Transaction)
	}
	if res.Quote == nil || !res.Quote.Price.Equal(decimal.NewFromInt(150)) {
		t.Errorf("response must carry the execution quote, got %+v", res.Quote)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning: %q", res.Warning)
	}
}

func TestBuyEndpoint_Rejections(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/communities/g1/members/alice/buy"

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"zero quantity", map[string]any{"symbol": "AAPL", "quantity": 0}, http.StatusBadRequest},
		{"negative quantity", map[string]any{"symbol": "AAPL", "quantity": -3}, http.StatusBadRequest},
		{"invalid symbol", map[string]any{"symbol": "not a ticker", "quantity": 1}, http.StatusBadRequest},
		{"unknown symbol", map[string]any{"symbol": "NOPE", "quantity": 1}, http.StatusNotFound},
		{"insufficient funds", map[string]any{"symbol": "AAPL", "quantity": 100000}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, path, tc.body)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestSellEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/sell",
		map[string]any{"symbol": "AAPL", "quantity": 1})
	if rec.Code != http.StatusConflict {
		t.Errorf("sell with no position: expected 409, got %d", rec.Code)
	}

	env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/buy",
		map[string]any{"symbol": "AAPL", "quantity": 10})

	rec = env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/sell",
		map[string]any{"symbol": "AAPL", "quantity": 20})
	if rec.Code != http.StatusConflict {
		t.Errorf("oversell: expected 409, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/sell",
		map[string]any{"symbol": "AAPL", "quantity": 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAccountAndPortfolioEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/communities/g1/members/alice/account", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	account := decode[model.Account](t, rec)
	if !account.Cash.Equal(engine.DefaultStartingBalance) {
		t.Errorf("fresh account cash: got %s", account.Cash)
	}

	env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/buy",
		map[string]any{"symbol": "AAPL", "quantity": 10})

	rec = env.do(t, http.MethodGet, "/api/v1/communities/g1/members/alice/portfolio", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	v := decode[model.Valuation](t, rec)
	if !v.HoldingsValue.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("expected holdings 1500, got %s", v.HoldingsValue)
	}
	if !v.TotalValue.Equal(engine.DefaultStartingBalance) {
		t.Errorf("buying at the mark price must not change total value, got %s", v.TotalValue)
	}
}

func TestTransactionsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/communities/g1/members/alice/transactions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("empty history must encode as [], got %q", body)
	}

	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/buy",
			map[string]any{"symbol": "AAPL", "quantity": 1})
	}

	rec = env.do(t, http.MethodGet, "/api/v1/communities/g1/members/alice/transactions?limit=2", nil)
	txns := decode[[]model.Transaction](t, rec)
	if len(txns) != 2 {
		t.Errorf("expected 2 transactions, got %d", len(txns))
	}
}

func TestResetEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/buy",
		map[string]any{"symbol": "AAPL", "quantity": 10})

	rec := env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[map[string]string](t, rec)
	if res["status"] != "reset" || res["starting_balance"] != "100000" {
		t.Errorf("unexpected reset response: %v", res)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/communities/g1/members/alice/account", nil)
	account := decode[model.Account](t, rec)
	if !account.Cash.Equal(engine.DefaultStartingBalance) || len(account.Positions) != 0 {
		t.Errorf("expected fresh account after reset, got %+v", account)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/buy",
		map[string]any{"symbol": "AAPL", "quantity": 10})
	env.do(t, http.MethodPost, "/api/v1/communities/g1/members/bob/buy",
		map[string]any{"symbol": "TSLA", "quantity": 1})
	env.do(t, http.MethodPost, "/api/v1/communities/g1/members/bob/sell",
		map[string]any{"symbol": "TSLA", "quantity": 1})

	rec := env.do(t, http.MethodGet, "/api/v1/communities/g1/leaderboard?by=volume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	entries := decode[[]model.LeaderboardEntry](t, rec)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].MemberID != "bob" || entries[0].Transactions != 2 {
		t.Errorf("expected bob first with 2 trades, got %+v", entries[0])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/communities/g1/leaderboard?by=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid category: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/communities/empty/leaderboard", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("empty community must yield 200 [], got %d %q", rec.Code, rec.Body.String())
	}
}

func TestWatchlistEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/communities/g1/watchlist",
		map[string]any{"symbol": "aapl", "added_by_id": "u1", "added_by_name": "Alice"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/communities/g1/watchlist",
		map[string]any{"symbol": "AAPL", "added_by_id": "u2"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate watch: expected 409, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/communities/g1/watchlist", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	entries := decode[[]watchlist.Entry](t, rec)
	if len(entries) != 1 || entries[0].Symbol != "AAPL" || entries[0].Quote == nil {
		t.Errorf("unexpected watchlist: %+v", entries)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/communities/g1/watchlist/AAPL", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/v1/communities/g1/watchlist/AAPL", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestDatabaseDisabled(t *testing.T) {
	quotes := stubOracle{prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(150)}}
	disabled := store.NewDisabled()

	eng := engine.NewService(disabled, engine.Config{}, nil)
	val := valuation.NewService(disabled, quotes, valuation.Config{StartingBalance: engine.DefaultStartingBalance})
	wl := watchlist.NewService(disabled, quotes)

	r := chi.NewRouter()
	server.New(eng, val, wl, quotes, nil).Register(r)
	env := &testEnv{router: r, store: disabled}

	rec := env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/buy",
		map[string]any{"symbol": "AAPL", "quantity": 1})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}

	// Quotes still work without a database.
	rec = env.do(t, http.MethodGet, "/api/v1/quotes/AAPL", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("quote lookup must not need the store, got %d", rec.Code)
	}
}

// appendFailStore wraps a working store but fails every ledger append.
type appendFailStore struct {
	store.Store
}

func (s appendFailStore) AppendTransaction(context.Context, *model.Transaction) error {
	return store.ErrNotConnected
}

func TestBuyEndpoint_PartialCommitWarning(t *testing.T) {
	quotes := stubOracle{prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(150)}}
	st := appendFailStore{store.NewMemoryStore()}

	eng := engine.NewService(st, engine.Config{}, nil)
	val := valuation.NewService(st, quotes, valuation.Config{StartingBalance: engine.DefaultStartingBalance})
	wl := watchlist.NewService(st, quotes)

	r := chi.NewRouter()
	server.New(eng, val, wl, quotes, nil).Register(r)
	env := &testEnv{router: r, store: st}

	rec := env.do(t, http.MethodPost, "/api/v1/communities/g1/members/alice/buy",
		map[string]any{"symbol": "AAPL", "quantity": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("partial commit must still report the executed trade, got %d: %s", rec.Code, rec.Body.String())
	}

	res := decode[map[string]any](t, rec)
	warning, _ := res["warning"].(string)
	if warning == "" {
		t.Error("partial commit response must carry a warning")
	}
}
