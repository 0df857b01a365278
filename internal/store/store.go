// Package store defines the persistence interface for the paper engine.
// Implementations include PostgreSQL (source of truth), in-memory (for
// testing and development), and a disabled stub used when no database
// connection is configured.
package store

import (
	"context"
	"errors"

	"github.com/groupfolio/paper-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNotConnected is returned when the backing store is unreachable or
	// no connection was configured. Terminal per request; never retried here.
	ErrNotConnected = errors.New("store: database not connected")

	// ErrConflict is returned by SaveAccount when the account was modified
	// concurrently (version mismatch) or already exists on insert.
	ErrConflict = errors.New("store: version conflict")

	// ErrDuplicate is returned by AddWatch for a symbol already on the list.
	ErrDuplicate = errors.New("store: already exists")
)

// Store is the persistence interface. Accounts and the transaction ledger
// are the only mutable shared state in the system.
type Store interface {
	// --- Accounts ---

	// GetAccount retrieves one account, or ErrNotFound.
	GetAccount(ctx context.Context, communityID, memberID string) (*model.Account, error)

	// SaveAccount persists an account with optimistic concurrency:
	// Version 0 inserts (ErrConflict if the pair already exists); any other
	// version updates only if the stored version matches, else ErrConflict.
	// On success the account's Version is advanced in place.
	SaveAccount(ctx context.Context, account *model.Account) error

	// DeleteAccount removes an account. Deleting an absent account is a no-op.
	DeleteAccount(ctx context.Context, communityID, memberID string) error

	// ListAccounts returns all accounts in a community, unordered.
	ListAccounts(ctx context.Context, communityID string) ([]model.Account, error)

	// --- Immutable transaction ledger ---

	// AppendTransaction appends an immutable trade record.
	AppendTransaction(ctx context.Context, txn *model.Transaction) error

	// ListTransactions returns up to limit transactions for a member,
	// most recent first.
	ListTransactions(ctx context.Context, communityID, memberID string, limit int) ([]model.Transaction, error)

	// CountTransactions returns the total number of transactions for a member.
	CountTransactions(ctx context.Context, communityID, memberID string) (int64, error)

	// PurgeTransactions removes all of a member's transactions in a
	// community. Used only by account reset.
	PurgeTransactions(ctx context.Context, communityID, memberID string) error

	// --- Community watchlist ---

	// ListWatchlist returns a community's watchlist in insertion order.
	ListWatchlist(ctx context.Context, communityID string) ([]model.WatchEntry, error)

	// AddWatch adds a symbol to a community's watchlist, or ErrDuplicate.
	AddWatch(ctx context.Context, entry *model.WatchEntry) error

	// RemoveWatch removes a symbol from a community's watchlist, or
	// ErrNotFound if it was not on the list.
	RemoveWatch(ctx context.Context, communityID, symbol string) error
}
