package oracle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/groupfolio/paper-engine/internal/model"
)

// Cached wraps an Oracle with a Redis read-through cache. Quotes are the
// read-hot path (every valuation and leaderboard scan fans out over them),
// so a short TTL keeps upstream traffic bounded without going stale enough
// to matter for paper trading.
type Cached struct {
	next Oracle
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCached creates a cached wrapper around a primary oracle.
func NewCached(next Oracle, rdb *redis.Client, ttl time.Duration) *Cached {
	return &Cached{next: next, rdb: rdb, ttl: ttl}
}

func quoteKey(symbol string) string { return "quote:" + symbol }

func (c *Cached) Lookup(ctx context.Context, symbol string) (*model.Quote, error) {
	// Try cache. Redis errors fall through to the primary.
	data, err := c.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err == nil {
		var q model.Quote
		if json.Unmarshal(data, &q) == nil {
			return &q, nil
		}
	}

	q, err := c.next.Lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(q); err == nil {
		c.rdb.Set(ctx, quoteKey(symbol), data, c.ttl)
	}
	return q, nil
}

var _ Oracle = (*Cached)(nil)
