// Package model defines the core domain types shared across the paper engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Position is one holding inside an account. An account's position map never
// contains a zero-quantity entry; a fully sold position is removed.
type Position struct {
	Symbol   string          `json:"symbol" db:"symbol"`
	Quantity int64           `json:"quantity" db:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost" db:"avg_cost"` // weighted average purchase price
}

// Account is a member's paper-trading account within one community.
// Identified by the (community, member) pair, unique per pair.
type Account struct {
	CommunityID string              `json:"community_id" db:"community_id"`
	MemberID    string              `json:"member_id" db:"member_id"`
	Cash        decimal.Decimal     `json:"cash" db:"cash"`
	Positions   map[string]Position `json:"positions" db:"positions"` // keyed by symbol
	Version     int64               `json:"-" db:"version"`           // optimistic concurrency token
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Positions = make(map[string]Position, len(a.Positions))
	for sym, p := range a.Positions {
		cp.Positions[sym] = p
	}
	return &cp
}

// Transaction is an immutable record of an executed trade.
// Once created, these are never modified; they are deleted only by a
// member-scoped account reset.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	CommunityID string          `json:"community_id" db:"community_id"`
	MemberID    string          `json:"member_id" db:"member_id"`
	Action      string          `json:"action" db:"action"` // "BUY" or "SELL"
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"` // price at execution
	Total       decimal.Decimal `json:"total" db:"total"` // price × quantity
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// Quote is a point-in-time price for a symbol, as returned by the price
// oracle. The engine never produces prices itself.
type Quote struct {
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name,omitempty"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	DayChange        decimal.Decimal `json:"day_change"`
	DayChangePercent decimal.Decimal `json:"day_change_percent"`
}

// WatchEntry is one symbol on a community's shared watchlist.
type WatchEntry struct {
	CommunityID string    `json:"community_id" db:"community_id"`
	Symbol      string    `json:"symbol" db:"symbol"`
	AddedByID   string    `json:"added_by_id" db:"added_by_id"`
	AddedByName string    `json:"added_by_name" db:"added_by_name"`
	AddedAt     time.Time `json:"added_at" db:"added_at"`
}

// PositionValue is one position marked to market.
type PositionValue struct {
	Symbol       string          `json:"symbol"`
	Quantity     int64           `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Value        decimal.Decimal `json:"value"`       // currentPrice × quantity
	ProfitLoss   decimal.Decimal `json:"profit_loss"` // value − avgCost × quantity
	ProfitPct    decimal.Decimal `json:"profit_pct"`
}

// Valuation is a full mark-to-market view of one account. Symbols whose
// price lookup failed are listed in Unavailable and excluded from
// HoldingsValue; they are never silently dropped.
type Valuation struct {
	CommunityID   string          `json:"community_id"`
	MemberID      string          `json:"member_id"`
	Cash          decimal.Decimal `json:"cash"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"` // totalValue − startingBalance
	ProfitPct     decimal.Decimal `json:"profit_pct"`
	Positions     []PositionValue `json:"positions"`
	Unavailable   []string        `json:"unavailable,omitempty"`
}

// LeaderboardEntry is one ranked account on a community leaderboard.
type LeaderboardEntry struct {
	MemberID     string          `json:"member_id"`
	TotalValue   decimal.Decimal `json:"total_value"`
	ProfitLoss   decimal.Decimal `json:"profit_loss"`
	ProfitPct    decimal.Decimal `json:"profit_pct"`
	Transactions int64           `json:"transactions"`
}
