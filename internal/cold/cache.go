package cold

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Cached memoizes keyword queries in front of a remote backend for a short
// TTL. Any insert for an agent drops that agent's cached results.
type Cached struct {
	Store
	cache  *ristretto.Cache
	ttl    time.Duration
	mu     sync.Mutex
	gen    map[string]int // bumped per agent on insert
	logger *zap.Logger
}

// NewCached wraps s. A non-positive ttl returns s unchanged.
func NewCached(s Store, ttl time.Duration, logger *zap.Logger) (Store, error) {
	if ttl <= 0 {
		return s, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &Cached{Store: s, cache: cache, ttl: ttl, gen: map[string]int{}, logger: logger}, nil
}

func (c *Cached) key(agentID string, terms []string, limit int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("%s\x00%d\x00%d\x00%s", agentID, c.gen[agentID], limit, strings.ToLower(strings.Join(terms, "\x00")))
}

// Insert archives r and invalidates the agent's cached queries.
func (c *Cached) Insert(ctx context.Context, r Record) error {
	if err := c.Store.Insert(ctx, r); err != nil {
		return err
	}
	c.mu.Lock()
	c.gen[r.AgentID]++
	c.mu.Unlock()
	return nil
}

// QueryByKeyword serves repeated queries from the cache.
func (c *Cached) QueryByKeyword(ctx context.Context, agentID string, terms []string, limit int) ([]Record, error) {
	k := c.key(agentID, terms, limit)
	if v, ok := c.cache.Get(k); ok {
		c.logger.Debug("cold query cache hit", zap.String("agent", agentID))
		return slices.Clone(v.([]Record)), nil
	}
	records, err := c.Store.QueryByKeyword(ctx, agentID, terms, limit)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(k, records, int64(len(records)+1), c.ttl)
	c.cache.Wait()
	return slices.Clone(records), nil
}

// Close releases the cache and the wrapped backend.
func (c *Cached) Close() error {
	c.cache.Close()
	return c.Store.Close()
}
