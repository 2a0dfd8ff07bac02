package feeds

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT CACHE - Per-symbol TTL-bounded market snapshots
// ═══════════════════════════════════════════════════════════════════════════════
//
// Read-mostly with TTL-based refresh. Stale reads are acceptable and
// expected: the evaluator treats a snapshot as a point-in-time fact, not a
// live subscription. A symbol whose snapshot is older than the freshness
// bound is skipped for the cycle and retried on the next one.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	// ErrStaleSnapshot means the latest snapshot is older than the
	// freshness bound; skip the symbol this cycle
	ErrStaleSnapshot = errors.New("snapshot stale")
	// ErrNoSnapshot means no data has arrived for the symbol yet
	ErrNoSnapshot = errors.New("no snapshot")
)

// Source fetches a fresh snapshot on demand (data-ingestion collaborator)
type Source interface {
	FetchSnapshot(ctx context.Context, symbol string) (*types.Snapshot, error)
}

// SnapshotCache holds the latest snapshot per symbol
type SnapshotCache struct {
	mu        sync.RWMutex
	snaps     map[string]*types.Snapshot
	ttl       time.Duration
	fetchWait time.Duration
	source    Source
}

// NewSnapshotCache creates a cache. source may be nil when snapshots are
// only pushed (WS ingest).
func NewSnapshotCache(source Source, ttl, fetchTimeout time.Duration) *SnapshotCache {
	return &SnapshotCache{
		snaps:     make(map[string]*types.Snapshot),
		ttl:       ttl,
		fetchWait: fetchTimeout,
		source:    source,
	}
}

// SetSource wires the fetch source after construction (the WS feed needs
// the cache first)
func (c *SnapshotCache) SetSource(source Source) {
	c.mu.Lock()
	c.source = source
	c.mu.Unlock()
}

// Put stores the latest snapshot for its symbol
func (c *SnapshotCache) Put(snap *types.Snapshot) {
	if snap == nil || snap.Symbol == "" {
		return
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}

	c.mu.Lock()
	c.snaps[snap.Symbol] = snap
	c.mu.Unlock()
}

// Get returns the cached snapshot when it is inside the freshness bound
func (c *SnapshotCache) Get(symbol string) (*types.Snapshot, error) {
	c.mu.RLock()
	snap, ok := c.snaps[symbol]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrNoSnapshot
	}
	if !snap.IsFresh(c.ttl) {
		return nil, ErrStaleSnapshot
	}
	return snap, nil
}

// GetOrFetch returns a fresh snapshot, pulling from the source when the
// cache misses or is stale. The fetch carries a hard timeout; a timeout is
// reported as staleness, not an error state for the plan.
func (c *SnapshotCache) GetOrFetch(ctx context.Context, symbol string) (*types.Snapshot, error) {
	if snap, err := c.Get(symbol); err == nil {
		return snap, nil
	}

	c.mu.RLock()
	source := c.source
	c.mu.RUnlock()

	if source == nil {
		return nil, ErrStaleSnapshot
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchWait)
	defer cancel()

	snap, err := source.FetchSnapshot(fetchCtx, symbol)
	if err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("Snapshot fetch failed, skipping cycle")
		return nil, ErrStaleSnapshot
	}

	c.Put(snap)
	return snap, nil
}

// Symbols returns the symbols currently cached
func (c *SnapshotCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.snaps))
	for s := range c.snaps {
		out = append(out, s)
	}
	return out
}
