package store

import (
	"context"
	"sort"
	"sync"

	"github.com/groupfolio/paper-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account // keyed by communityID + "\x00" + memberID
	ledger   []model.Transaction
	watches  map[string][]model.WatchEntry // keyed by communityID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		watches:  make(map[string][]model.WatchEntry),
	}
}

func accountKey(communityID, memberID string) string {
	return communityID + "\x00" + memberID
}

func (s *MemoryStore) GetAccount(_ context.Context, communityID, memberID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountKey(communityID, memberID)]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey(account.CommunityID, account.MemberID)
	existing, ok := s.accounts[key]

	if account.Version == 0 {
		if ok {
			return ErrConflict
		}
	} else {
		if !ok || existing.Version != account.Version {
			return ErrConflict
		}
	}

	account.Version++
	s.accounts[key] = account.Clone()
	return nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, communityID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accounts, accountKey(communityID, memberID))
	return nil
}

func (s *MemoryStore) ListAccounts(_ context.Context, communityID string) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []model.Account
	for _, a := range s.accounts {
		if a.CommunityID == communityID {
			accounts = append(accounts, *a.Clone())
		}
	}
	return accounts, nil
}

func (s *MemoryStore) AppendTransaction(_ context.Context, txn *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *txn)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, communityID, memberID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.ledger {
		if t.CommunityID == communityID && t.MemberID == memberID {
			result = append(result, t)
		}
	}

	// Most recent first. The ledger is append-ordered; sort keeps equal
	// timestamps in insertion order.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) CountTransactions(_ context.Context, communityID, memberID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, t := range s.ledger {
		if t.CommunityID == communityID && t.MemberID == memberID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeTransactions(_ context.Context, communityID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.ledger[:0]
	for _, t := range s.ledger {
		if t.CommunityID != communityID || t.MemberID != memberID {
			kept = append(kept, t)
		}
	}
	s.ledger = kept
	return nil
}

func (s *MemoryStore) ListWatchlist(_ context.Context, communityID string) ([]model.WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.watches[communityID]
	out := make([]model.WatchEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) AddWatch(_ context.Context, entry *model.WatchEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.watches[entry.CommunityID] {
		if e.Symbol == entry.Symbol {
			return ErrDuplicate
		}
	}
	s.watches[entry.CommunityID] = append(s.watches[entry.CommunityID], *entry)
	return nil
}

func (s *MemoryStore) RemoveWatch(_ context.Context, communityID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.watches[communityID]
	for i, e := range entries {
		if e.Symbol == symbol {
			s.watches[communityID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
