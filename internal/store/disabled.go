package store

import (
	"context"

	"github.com/groupfolio/paper-engine/internal/model"
)

// Disabled is the Store used when no database connection is configured.
// Every call fails with ErrNotConnected so the host process keeps running
// with database features disabled instead of crashing.
type Disabled struct{}

// NewDisabled creates a store whose every operation reports ErrNotConnected.
func NewDisabled() Disabled { return Disabled{} }

func (Disabled) GetAccount(context.Context, string, string) (*model.Account, error) {
	return nil, ErrNotConnected
}

func (Disabled) SaveAccount(context.Context, *model.Account) error { return ErrNotConnected }

func (Disabled) DeleteAccount(context.Context, string, string) error { return ErrNotConnected }

func (Disabled) ListAccounts(context.Context, string) ([]model.Account, error) {
	return nil, ErrNotConnected
}

func (Disabled) AppendTransaction(context.Context, *model.Transaction) error {
	return ErrNotConnected
}

func (Disabled) ListTransactions(context.Context, string, string, int) ([]model.Transaction, error) {
	return nil, ErrNotConnected
}

func (Disabled) CountTransactions(context.Context, string, string) (int64, error) {
	return 0, ErrNotConnected
}

func (Disabled) PurgeTransactions(context.Context, string, string) error { return ErrNotConnected }

func (Disabled) ListWatchlist(context.Context, string) ([]model.WatchEntry, error) {
	return nil, ErrNotConnected
}

func (Disabled) AddWatch(context.Context, *model.WatchEntry) error { return ErrNotConnected }

func (Disabled) RemoveWatch(context.Context, string, string) error { return ErrNotConnected }

var _ Store = Disabled{}
