package permission

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultBumpChannel carries cross-process invalidation messages.
const DefaultBumpChannel = "permiso.grants.bump"

// SnapshotLoader materializes the grant set for a principal from the store.
type SnapshotLoader func(ctx context.Context, principalID int64) (*Snapshot, error)

// GrantCache memoizes grant snapshots per principal within one process.
// Every mutation invalidates the affected principal before the mutation call
// returns, so a caller always reads its own writes. Across processes the
// cache publishes invalidations on a Redis channel; each message carries the
// origin instance id so a process does not re-evict what it already evicted.
// The Redis client is optional: without it the cache degrades to purely local
// memoization, which is sufficient for single-process deployments.
type GrantCache struct {
	mu        sync.RWMutex
	snapshots map[int64]*Snapshot
	// gens versions each principal's entry. An eviction bumps the
	// generation, so a load that started before the eviction cannot
	// publish its pre-mutation result into the map afterwards.
	gens map[int64]uint64

	group    singleflight.Group
	client   *redis.Client
	channel  string
	instance string

	hit  func()
	miss func()
}

// CacheOption customizes a GrantCache.
type CacheOption func(*GrantCache)

// WithBumpChannel overrides the invalidation channel name.
func WithBumpChannel(channel string) CacheOption {
	return func(c *GrantCache) {
		if channel != "" {
			c.channel = channel
		}
	}
}

// WithCacheMetrics installs hit and miss counters.
func WithCacheMetrics(hit, miss func()) CacheOption {
	return func(c *GrantCache) {
		c.hit = hit
		c.miss = miss
	}
}

// NewGrantCache constructs a cache. client may be nil.
func NewGrantCache(client *redis.Client, opts ...CacheOption) *GrantCache {
	c := &GrantCache{
		snapshots: make(map[int64]*Snapshot),
		gens:      make(map[int64]uint64),
		client:    client,
		channel:   DefaultBumpChannel,
		instance:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the memoized snapshot for a principal, loading it on miss.
// Concurrent misses for the same principal are collapsed into a single load.
func (c *GrantCache) Get(ctx context.Context, principalID int64, load SnapshotLoader) (*Snapshot, error) {
	c.mu.RLock()
	snap, ok := c.snapshots[principalID]
	c.mu.RUnlock()
	if ok {
		if c.hit != nil {
			c.hit()
		}
		return snap, nil
	}
	if c.miss != nil {
		c.miss()
	}

	key := strconv.FormatInt(principalID, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.RLock()
		gen := c.gens[principalID]
		c.mu.RUnlock()
		loaded, err := load(ctx, principalID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// An eviction may have raced the load; the loaded snapshot then
		// predates the mutation and must not be memoized.
		if c.gens[principalID] == gen {
			c.snapshots[principalID] = loaded
		}
		c.mu.Unlock()
		return loaded, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

// Invalidate evicts a principal's snapshot locally and signals other
// processes. The local eviction never depends on Redis availability; a
// publish failure is returned so callers can log it, but by then the calling
// process is already coherent.
func (c *GrantCache) Invalidate(ctx context.Context, principalID int64) error {
	c.evict(principalID)
	if c.client == nil {
		return nil
	}
	payload := fmt.Sprintf("%s:%d", c.instance, principalID)
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("permission: publish invalidation: %w", err)
	}
	return nil
}

// Listen subscribes to the invalidation channel and evicts principals named
// by other instances until the context is cancelled. It returns immediately
// when no Redis client is configured.
func (c *GrantCache) Listen(ctx context.Context) {
	if c.client == nil {
		return
	}
	pubsub := c.client.Subscribe(ctx, c.channel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.apply(msg.Payload)
			}
		}
	}()
}

func (c *GrantCache) apply(payload string) {
	instance, rest, found := strings.Cut(payload, ":")
	if !found || instance == c.instance {
		return
	}
	principalID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return
	}
	c.evict(principalID)
}

func (c *GrantCache) evict(principalID int64) {
	c.mu.Lock()
	delete(c.snapshots, principalID)
	c.gens[principalID]++
	c.mu.Unlock()
	// Callers arriving after the eviction must not join a load that
	// started before it.
	c.group.Forget(strconv.FormatInt(principalID, 10))
}

// Len reports the number of memoized principals.
func (c *GrantCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}
