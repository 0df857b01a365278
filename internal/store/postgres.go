package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/groupfolio/paper-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// positions are stored as a JSONB map keyed by symbol.
//
// Expected schema:
//
//	CREATE TABLE accounts (
//	    community_id TEXT NOT NULL,
//	    member_id    TEXT NOT NULL,
//	    cash         NUMERIC NOT NULL,
//	    positions    JSONB NOT NULL DEFAULT '{}',
//	    version      BIGINT NOT NULL,
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (community_id, member_id)
//	);
//	CREATE TABLE transactions (
//	    id           UUID PRIMARY KEY,
//	    community_id TEXT NOT NULL,
//	    member_id    TEXT NOT NULL,
//	    action       TEXT NOT NULL,
//	    symbol       TEXT NOT NULL,
//	    quantity     BIGINT NOT NULL,
//	    price        NUMERIC NOT NULL,
//	    total        NUMERIC NOT NULL,
//	    timestamp    TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX transactions_member_idx ON transactions (community_id, member_id, timestamp DESC);
//	CREATE TABLE watchlist (
//	    community_id  TEXT NOT NULL,
//	    symbol        TEXT NOT NULL,
//	    added_by_id   TEXT NOT NULL,
//	    added_by_name TEXT NOT NULL,
//	    added_at      TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (community_id, symbol)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetAccount(ctx context.Context, communityID, memberID string) (*model.Account, error) {
	var a model.Account
	var cash string
	var positions []byte

	err := s.pool.QueryRow(ctx,
		`SELECT community_id, member_id, cash::TEXT, positions, version, created_at
		 FROM accounts WHERE community_id = $1 AND member_id = $2`,
		communityID, memberID).
		Scan(&a.CommunityID, &a.MemberID, &cash, &positions, &a.Version, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s/%s: %w", communityID, memberID, err)
	}

	a.Cash, _ = decimal.NewFromString(cash)
	a.Positions = make(map[string]model.Position)
	if err := json.Unmarshal(positions, &a.Positions); err != nil {
		return nil, fmt.Errorf("decode positions %s/%s: %w", communityID, memberID, err)
	}
	return &a, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, a *model.Account) error {
	positions, err := json.Marshal(a.Positions)
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}

	if a.Version == 0 {
		ct, err := s.pool.Exec(ctx,
			`INSERT INTO accounts (community_id, member_id, cash, positions, version, created_at)
			 VALUES ($1, $2, $3::NUMERIC, $4, 1, $5)
			 ON CONFLICT (community_id, member_id) DO NOTHING`,
			a.CommunityID, a.MemberID, a.Cash.String(), positions, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ErrConflict
		}
		a.Version = 1
		return nil
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE accounts
		 SET cash = $3::NUMERIC, positions = $4, version = version + 1
		 WHERE community_id = $1 AND member_id = $2 AND version = $5`,
		a.CommunityID, a.MemberID, a.Cash.String(), positions, a.Version)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	a.Version++
	return nil
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, communityID, memberID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM accounts WHERE community_id = $1 AND member_id = $2`,
		communityID, memberID)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, communityID string) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT community_id, member_id, cash::TEXT, positions, version, created_at
		 FROM accounts WHERE community_id = $1`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var cash string
		var positions []byte
		if err := rows.Scan(&a.CommunityID, &a.MemberID, &cash, &positions, &a.Version, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Cash, _ = decimal.NewFromString(cash)
		a.Positions = make(map[string]model.Position)
		if err := json.Unmarshal(positions, &a.Positions); err != nil {
			return nil, fmt.Errorf("decode positions %s/%s: %w", a.CommunityID, a.MemberID, err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, community_id, member_id, action, symbol, quantity, price, total, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.ID, t.CommunityID, t.MemberID, t.Action, t.Symbol,
		t.Quantity, t.Price.String(), t.Total.String(), t.Timestamp)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, communityID, memberID string, limit int) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, community_id, member_id, action, symbol, quantity, price::TEXT, total::TEXT, timestamp
		 FROM transactions
		 WHERE community_id = $1 AND member_id = $2
		 ORDER BY timestamp DESC
		 LIMIT $3`, communityID, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var price, total string
		if err := rows.Scan(&t.ID, &t.CommunityID, &t.MemberID, &t.Action, &t.Symbol,
			&t.Quantity, &price, &total, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) CountTransactions(ctx context.Context, communityID, memberID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE community_id = $1 AND member_id = $2`,
		communityID, memberID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) PurgeTransactions(ctx context.Context, communityID, memberID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM transactions WHERE community_id = $1 AND member_id = $2`,
		communityID, memberID)
	if err != nil {
		return fmt.Errorf("purge transactions: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWatchlist(ctx context.Context, communityID string) ([]model.WatchEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT community_id, symbol, added_by_id, added_by_name, added_at
		 FROM watchlist WHERE community_id = $1 ORDER BY added_at`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	var entries []model.WatchEntry
	for rows.Next() {
		var e model.WatchEntry
		if err := rows.Scan(&e.CommunityID, &e.Symbol, &e.AddedByID, &e.AddedByName, &e.AddedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) AddWatch(ctx context.Context, e *model.WatchEntry) error {
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist (community_id, symbol, added_by_id, added_by_name, added_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (community_id, symbol) DO NOTHING`,
		e.CommunityID, e.Symbol, e.AddedByID, e.AddedByName, e.AddedAt)
	if err != nil {
		return fmt.Errorf("add watch: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) RemoveWatch(ctx context.Context, communityID, symbol string) error {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist WHERE community_id = $1 AND symbol = $2`,
		communityID, symbol)
	if err != nil {
		return fmt.Errorf("remove watch: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
