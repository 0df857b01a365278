// Package engine implements the paper-trading engine: it owns account cash,
// stock positions, and the append-only transaction history, and keeps the
// three consistent under concurrent buy/sell requests.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/groupfolio/paper-engine/internal/metrics"
	"github.com/groupfolio/paper-engine/internal/model"
	"github.com/groupfolio/paper-engine/internal/store"
	"github.com/groupfolio/paper-engine/internal/symbol"
)

// Defaults applied by NewService when the corresponding Config field is zero.
var (
	DefaultStartingBalance = decimal.NewFromInt(100000)
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// Config carries the values the presentation layer supplies to the engine.
// The engine never reads configuration files or the environment itself.
type Config struct {
	StartingBalance decimal.Decimal // cash granted to new accounts
	MaxHistoryLimit int             // upper bound on transaction history queries
}

// Service is the trading engine. It is stateless between calls (all state
// lives in the store) and safe for concurrent use: operations on the same
// (community, member) key serialize on a per-key mutex, unrelated keys
// proceed independently.
type Service struct {
	store store.Store
	cfg   Config
	locks *keyLock
	wsHub *WSHub // optional; nil disables trade broadcasts
}

// NewService creates a trading engine over the given store.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, cfg Config, hub *WSHub) *Service {
	if cfg.StartingBalance.LessThanOrEqual(decimal.Zero) {
		cfg.StartingBalance = DefaultStartingBalance
	}
	if cfg.MaxHistoryLimit <= 0 {
		cfg.MaxHistoryLimit = maxHistoryLimit
	}
	return &Service{
		store: st,
		cfg:   cfg,
		locks: newKeyLock(),
		wsHub: hub,
	}
}

// StartingBalance returns the configured starting cash for new accounts.
func (s *Service) StartingBalance() decimal.Decimal { return s.cfg.StartingBalance }

// TradeResult is the confirmation returned from Buy and Sell.
type TradeResult struct {
	Transaction model.Transaction `json:"transaction"`
	Cash        decimal.Decimal   `json:"cash"`                  // cash after the trade
	Position    *model.Position   `json:"position,omitempty"`    // nil once fully closed
	RealizedPnL decimal.Decimal   `json:"realized_pnl"`          // sells only
	RealizedPct decimal.Decimal   `json:"realized_pct"`          // relative to cost basis
}

// GetAccount loads a member's account, creating it with the starting balance
// on first access.
func (s *Service) GetAccount(ctx context.Context, communityID, memberID string) (*model.Account, error) {
	return s.getOrCreate(ctx, communityID, memberID)
}

// Buy purchases quantity shares of sym at the caller-resolved price.
//
// Validation failures (ErrInvalidQuantity, ErrInvalidPrice,
// ErrInsufficientFunds) occur before any mutation. A *PartialCommitError is
// returned alongside a non-nil result when the account debit committed but
// the ledger append failed; cash genuinely moved in that case.
func (s *Service) Buy(ctx context.Context, communityID, memberID, sym string, quantity int64, price decimal.Decimal) (*TradeResult, error) {
	started := time.Now()

	sym, err := s.validateTrade(sym, quantity, price)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(communityID + "/" + memberID)
	defer unlock()

	totalCost := price.Mul(decimal.NewFromInt(quantity))

	var account *model.Account
	for attempt := 0; ; attempt++ {
		account, err = s.getOrCreate(ctx, communityID, memberID)
		if err != nil {
			return nil, err
		}

		if account.Cash.LessThan(totalCost) {
			metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
			return nil, ErrInsufficientFunds
		}

		if pos, ok := account.Positions[sym]; ok {
			// Weighted average cost across all unreduced lots.
			oldValue := pos.AvgCost.Mul(decimal.NewFromInt(pos.Quantity))
			newQty := pos.Quantity + quantity
			pos.AvgCost = oldValue.Add(totalCost).Div(decimal.NewFromInt(newQty))
			pos.Quantity = newQty
			account.Positions[sym] = pos
		} else {
			account.Positions[sym] = model.Position{Symbol: sym, Quantity: quantity, AvgCost: price}
		}
		account.Cash = account.Cash.Sub(totalCost)

		err = s.store.SaveAccount(ctx, account)
		if errors.Is(err, store.ErrConflict) && attempt == 0 {
			// Lost a cross-process race; re-read and re-apply.
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	txn := s.newTransaction(communityID, memberID, model.ActionBuy, sym, quantity, price, totalCost)
	pos := account.Positions[sym]
	res := &TradeResult{Transaction: *txn, Cash: account.Cash, Position: &pos}

	if err := s.appendAndAnnounce(ctx, txn); err != nil {
		return res, err
	}

	metrics.TradeLatency.WithLabelValues(model.ActionBuy).Observe(time.Since(started).Seconds())
	slog.Info("buy executed",
		"community", communityID,
		"member", memberID,
		"symbol", sym,
		"quantity", quantity,
		"price", price.String(),
		"total", totalCost.String(),
	)
	return res, nil
}

// Sell sells quantity shares of sym at the caller-resolved price. Selling
// never changes the position's average cost; it only reduces quantity, and a
// position reaching zero is removed entirely.
func (s *Service) Sell(ctx context.Context, communityID, memberID, sym string, quantity int64, price decimal.Decimal) (*TradeResult, error) {
	started := time.Now()

	sym, err := s.validateTrade(sym, quantity, price)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(communityID + "/" + memberID)
	defer unlock()

	totalSale := price.Mul(decimal.NewFromInt(quantity))

	var account *model.Account
	var avgCost decimal.Decimal
	for attempt := 0; ; attempt++ {
		account, err = s.getOrCreate(ctx, communityID, memberID)
		if err != nil {
			return nil, err
		}

		pos, ok := account.Positions[sym]
		if !ok {
			metrics.TradeRejections.WithLabelValues("no_position").Inc()
			return nil, ErrNoPosition
		}
		if pos.Quantity < quantity {
			metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
			return nil, ErrInsufficientShares
		}
		avgCost = pos.AvgCost

		if pos.Quantity == quantity {
			delete(account.Positions, sym)
		} else {
			pos.Quantity -= quantity
			account.Positions[sym] = pos
		}
		account.Cash = account.Cash.Add(totalSale)

		err = s.store.SaveAccount(ctx, account)
		if errors.Is(err, store.ErrConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	costBasis := avgCost.Mul(decimal.NewFromInt(quantity))
	realized := totalSale.Sub(costBasis)
	realizedPct := realized.Div(costBasis).Mul(decimal.NewFromInt(100)).Round(2)

	txn := s.newTransaction(communityID, memberID, model.ActionSell, sym, quantity, price, totalSale)
	res := &TradeResult{
		Transaction: *txn,
		Cash:        account.Cash,
		RealizedPnL: realized,
		RealizedPct: realizedPct,
	}
	if pos, ok := account.Positions[sym]; ok {
		res.Position = &pos
	}

	if err := s.appendAndAnnounce(ctx, txn); err != nil {
		return res, err
	}

	metrics.TradeLatency.WithLabelValues(model.ActionSell).Observe(time.Since(started).Seconds())
	slog.Info("sell executed",
		"community", communityID,
		"member", memberID,
		"symbol", sym,
		"quantity", quantity,
		"price", price.String(),
		"realized_pnl", realized.String(),
	)
	return res, nil
}

// Reset deletes the account and purges all of the member's transactions in
// the community. Idempotent: resetting a never-traded member succeeds.
// Reset takes the same per-key lock as Buy/Sell, so a trade racing a reset
// lands entirely before the purge or entirely after it.
func (s *Service) Reset(ctx context.Context, communityID, memberID string) error {
	unlock := s.locks.acquire(communityID + "/" + memberID)
	defer unlock()

	if err := s.store.DeleteAccount(ctx, communityID, memberID); err != nil {
		return err
	}
	if err := s.store.PurgeTransactions(ctx, communityID, memberID); err != nil {
		return err
	}

	slog.Info("account reset", "community", communityID, "member", memberID)
	return nil
}

// ListTransactions returns a member's most recent transactions, newest
// first. A non-positive limit uses the default; limits above the configured
// maximum are clamped.
func (s *Service) ListTransactions(ctx context.Context, communityID, memberID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > s.cfg.MaxHistoryLimit {
		limit = s.cfg.MaxHistoryLimit
	}
	return s.store.ListTransactions(ctx, communityID, memberID, limit)
}

// CountTransactions returns the member's total number of transactions.
func (s *Service) CountTransactions(ctx context.Context, communityID, memberID string) (int64, error) {
	return s.store.CountTransactions(ctx, communityID, memberID)
}

// ListAccounts returns all accounts in a community, unordered.
func (s *Service) ListAccounts(ctx context.Context, communityID string) ([]model.Account, error) {
	return s.store.ListAccounts(ctx, communityID)
}

func (s *Service) validateTrade(sym string, quantity int64, price decimal.Decimal) (string, error) {
	if quantity <= 0 {
		metrics.TradeRejections.WithLabelValues("invalid_quantity").Inc()
		return "", ErrInvalidQuantity
	}
	if !price.IsPositive() {
		metrics.TradeRejections.WithLabelValues("invalid_price").Inc()
		return "", ErrInvalidPrice
	}
	sym, err := symbol.Normalize(sym)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_symbol").Inc()
		return "", err
	}
	return sym, nil
}

func (s *Service) getOrCreate(ctx context.Context, communityID, memberID string) (*model.Account, error) {
	account, err := s.store.GetAccount(ctx, communityID, memberID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	account = &model.Account{
		CommunityID: communityID,
		MemberID:    memberID,
		Cash:        s.cfg.StartingBalance,
		Positions:   make(map[string]model.Position),
		CreatedAt:   time.Now().UTC(),
	}
	err = s.store.SaveAccount(ctx, account)
	if errors.Is(err, store.ErrConflict) {
		// Another request created it first.
		return s.store.GetAccount(ctx, communityID, memberID)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("account created", "community", communityID, "member", memberID,
		"starting_balance", s.cfg.StartingBalance.String())
	return account, nil
}

func (s *Service) newTransaction(communityID, memberID, action, sym string, quantity int64, price, total decimal.Decimal) *model.Transaction {
	return &model.Transaction{
		ID:          uuid.New().String(),
		CommunityID: communityID,
		MemberID:    memberID,
		Action:      action,
		Symbol:      sym,
		Quantity:    quantity,
		Price:       price,
		Total:       total,
		Timestamp:   time.Now().UTC(),
	}
}

// appendAndAnnounce records the transaction in the ledger, then updates
// metrics and broadcasts. An append failure after the account commit is a
// partial commit: the trade stands, the discrepancy is surfaced.
func (s *Service) appendAndAnnounce(ctx context.Context, txn *model.Transaction) error {
	if err := s.store.AppendTransaction(ctx, txn); err != nil {
		metrics.PartialCommits.Inc()
		slog.Error("ledger append failed after account commit",
			"community", txn.CommunityID,
			"member", txn.MemberID,
			"action", txn.Action,
			"symbol", txn.Symbol,
			"quantity", txn.Quantity,
			"err", err,
		)
		return &PartialCommitError{Txn: txn, Err: err}
	}

	metrics.TradesTotal.WithLabelValues(txn.Action).Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "trade_executed",
			CommunityID: txn.CommunityID,
			MemberID:    txn.MemberID,
			Action:      txn.Action,
			Symbol:      txn.Symbol,
			Quantity:    txn.Quantity,
			Price:       txn.Price.String(),
			Total:       txn.Total.String(),
		})
	}
	return nil
}
