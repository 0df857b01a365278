// Package watchlist manages each community's shared list of tracked symbols.
package watchlist

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/groupfolio/paper-engine/internal/model"
	"github.com/groupfolio/paper-engine/internal/oracle"
	"github.com/groupfolio/paper-engine/internal/store"
	"github.com/groupfolio/paper-engine/internal/symbol"
)

const maxQuoteLookups = 8

// Service manages community watchlists. Symbols are validated against the
// price oracle before they are added, so the list never contains tickers
// that cannot be quoted.
type Service struct {
	store  store.Store
	oracle oracle.Oracle
}

// NewService creates a watchlist service.
func NewService(st store.Store, o oracle.Oracle) *Service {
	return &Service{store: st, oracle: o}
}

// Entry is a watchlist entry with its current quote. Quote is nil when the
// price lookup failed for this request.
type Entry struct {
	model.WatchEntry
	Quote *model.Quote `json:"quote,omitempty"`
}

// Add validates the symbol against the oracle and adds it to the community's
// watchlist. Returns the resolved quote so callers can confirm what was added.
func (s *Service) Add(ctx context.Context, communityID, rawSymbol, addedByID, addedByName string) (*model.WatchEntry, *model.Quote, error) {
	sym, err := symbol.Normalize(rawSymbol)
	if err != nil {
		return nil, nil, err
	}

	quote, err := s.oracle.Lookup(ctx, sym)
	if err != nil {
		return nil, nil, err
	}

	entry := &model.WatchEntry{
		CommunityID: communityID,
		Symbol:      sym,
		AddedByID:   addedByID,
		AddedByName: addedByName,
		AddedAt:     time.Now().UTC(),
	}
	if err := s.store.AddWatch(ctx, entry); err != nil {
		return nil, nil, err
	}

	slog.Info("watchlist add", "community", communityID, "symbol", sym, "added_by", addedByID)
	return entry, quote, nil
}

// Remove takes a symbol off the community's watchlist.
func (s *Service) Remove(ctx context.Context, communityID, rawSymbol string) error {
	sym, err := symbol.Normalize(rawSymbol)
	if err != nil {
		return err
	}
	if err := s.store.RemoveWatch(ctx, communityID, sym); err != nil {
		return err
	}
	slog.Info("watchlist remove", "community", communityID, "symbol", sym)
	return nil
}

// List returns the community's watchlist with current quotes, fetched with
// bounded concurrency. Entries whose lookup failed carry a nil Quote.
func (s *Service) List(ctx context.Context, communityID string) ([]Entry, error) {
	watches, err := s.store.ListWatchlist(ctx, communityID)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(watches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxQuoteLookups)
	for i := range watches {
		i := i
		entries[i].WatchEntry = watches[i]
		g.Go(func() error {
			if q, err := s.oracle.Lookup(gctx, watches[i].Symbol); err == nil {
				entries[i].Quote = q
			}
			return nil
		})
	}
	g.Wait()

	return entries, nil
}
