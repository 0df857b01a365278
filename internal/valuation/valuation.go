// Package valuation computes mark-to-market account values and community
// leaderboards. It is a pure read-side consumer of the store and the price
// oracle; it never mutates state.
package valuation

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/groupfolio/paper-engine/internal/model"
	"github.com/groupfolio/paper-engine/internal/oracle"
	"github.com/groupfolio/paper-engine/internal/store"
)

const defaultMaxLookups = 8

// Criterion selects the leaderboard ordering.
type Criterion string

const (
	ByTotalValue       Criterion = "value"
	ByProfitPercent    Criterion = "gainers"
	ByTransactionCount Criterion = "volume"
)

// ParseCriterion maps a query string to a Criterion; unknown values are
// rejected rather than defaulted so callers get a specific reason.
func ParseCriterion(s string) (Criterion, bool) {
	switch Criterion(s) {
	case ByTotalValue, ByProfitPercent, ByTransactionCount:
		return Criterion(s), true
	case "":
		return ByTotalValue, true
	}
	return "", false
}

// Config carries the values the presentation layer supplies.
type Config struct {
	StartingBalance decimal.Decimal
	MaxLookups      int // bound on concurrent oracle calls per request
}

// Service values accounts and ranks them.
type Service struct {
	store  store.Store
	oracle oracle.Oracle
	cfg    Config
}

// NewService creates the aggregation layer over a store and a price oracle.
func NewService(st store.Store, o oracle.Oracle, cfg Config) *Service {
	if cfg.MaxLookups <= 0 {
		cfg.MaxLookups = defaultMaxLookups
	}
	return &Service{store: st, oracle: o, cfg: cfg}
}

// Valuate marks one account to market. Position price lookups fan out with
// bounded concurrency; a failed lookup excludes that position from
// HoldingsValue and reports its symbol in Unavailable instead of dropping it.
func (s *Service) Valuate(ctx context.Context, account *model.Account) *model.Valuation {
	symbols := make([]string, 0, len(account.Positions))
	for sym := range account.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	quotes := s.lookupAll(ctx, symbols)

	v := &model.Valuation{
		CommunityID:   account.CommunityID,
		MemberID:      account.MemberID,
		Cash:          account.Cash,
		HoldingsValue: decimal.Zero,
	}

	for _, sym := range symbols {
		pos := account.Positions[sym]
		q := quotes[sym]
		if q == nil {
			v.Unavailable = append(v.Unavailable, sym)
			continue
		}

		qty := decimal.NewFromInt(pos.Quantity)
		value := q.Price.Mul(qty)
		costBasis := pos.AvgCost.Mul(qty)
		pnl := value.Sub(costBasis)
		pct := decimal.Zero
		if costBasis.IsPositive() {
			pct = pnl.Div(costBasis).Mul(decimal.NewFromInt(100)).Round(2)
		}

		v.HoldingsValue = v.HoldingsValue.Add(value)
		v.Positions = append(v.Positions, model.PositionValue{
			Symbol:       sym,
			Quantity:     pos.Quantity,
			AvgCost:      pos.AvgCost,
			CurrentPrice: q.Price,
			Value:        value,
			ProfitLoss:   pnl,
			ProfitPct:    pct,
		})
	}

	v.TotalValue = v.Cash.Add(v.HoldingsValue)
	v.ProfitLoss = v.TotalValue.Sub(s.cfg.StartingBalance)
	if s.cfg.StartingBalance.IsPositive() {
		v.ProfitPct = v.ProfitLoss.Div(s.cfg.StartingBalance).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return v
}

// Leaderboard values every account in the community and ranks them by the
// given criterion, descending, returning at most limit entries.
func (s *Service) Leaderboard(ctx context.Context, communityID string, by Criterion, limit int) ([]model.LeaderboardEntry, error) {
	accounts, err := s.store.ListAccounts(ctx, communityID)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxLookups)
	for i := range accounts {
		i := i
		g.Go(func() error {
			v := s.Valuate(gctx, &accounts[i])
			count, err := s.store.CountTransactions(gctx, accounts[i].CommunityID, accounts[i].MemberID)
			if err != nil {
				return err
			}
			entries[i] = model.LeaderboardEntry{
				MemberID:     accounts[i].MemberID,
				TotalValue:   v.TotalValue,
				ProfitLoss:   v.ProfitLoss,
				ProfitPct:    v.ProfitPct,
				Transactions: count,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	Rank(entries, by)

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Rank sorts entries by the criterion, descending. The sort is stable: ties
// keep their input order, no secondary key is defined.
func Rank(entries []model.LeaderboardEntry, by Criterion) {
	sort.SliceStable(entries, func(i, j int) bool {
		switch by {
		case ByProfitPercent:
			return entries[i].ProfitPct.GreaterThan(entries[j].ProfitPct)
		case ByTransactionCount:
			return entries[i].Transactions > entries[j].Transactions
		default:
			return entries[i].TotalValue.GreaterThan(entries[j].TotalValue)
		}
	})
}

// lookupAll resolves quotes for all symbols with bounded concurrency.
// Lookup failures yield a nil entry; they never fail the whole valuation.
func (s *Service) lookupAll(ctx context.Context, symbols []string) map[string]*model.Quote {
	results := make([]*model.Quote, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxLookups)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			q, err := s.oracle.Lookup(gctx, sym)
			if err == nil {
				results[i] = q
			}
			return nil
		})
	}
	g.Wait()

	quotes := make(map[string]*model.Quote, len(symbols))
	for i, sym := range symbols {
		quotes[sym] = results[i]
	}
	return quotes
}
