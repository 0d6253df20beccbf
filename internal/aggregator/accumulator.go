// Package aggregator owns the write path for click counts. Users are
// partitioned onto shards by a stable hash; each shard accumulates deltas
// in memory and flushes them to the store on a fixed cadence, so database
// write volume is bounded by user count per interval rather than click
// volume.
package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"clicker-backend/internal/domain"
	"clicker-backend/internal/shard"
	"clicker-backend/pkg/logger"
)

// FlushTarget applies accumulated deltas durably and returns the resulting
// per-user totals. The whole map must land atomically.
type FlushTarget interface {
	ApplyDeltas(ctx context.Context, users map[uuid.UUID]int64, sessions map[uuid.UUID]int32) (map[uuid.UUID]int64, error)
}

// TotalLoader reads a user's durable total, for lazily seeding the live
// counter.
type TotalLoader interface {
	TotalClicks(ctx context.Context, userID uuid.UUID) (int64, error)
}

// HotCache receives best-effort live total updates.
type HotCache interface {
	SetUserTotal(ctx context.Context, userID string, total int64) error
}

const (
	maxBackoff        = 30 * time.Second
	degradedThreshold = 5
)

// aggShard holds one shard's pending deltas. All fields are guarded by mu;
// the flush swaps the maps out and releases the lock before touching the
// store, so ingestion never waits on a database round trip.
type aggShard struct {
	idx int

	mu              sync.Mutex
	pendingUsers    map[uuid.UUID]int64
	pendingSessions map[uuid.UUID]int32
	pendingClicks   int64

	degraded     bool
	failures     int
	backoff      time.Duration
	retryAt      time.Time
	carriedUsers map[uuid.UUID]int64
	carriedSess  map[uuid.UUID]int32
}

// Accumulator is the in-memory counting stage. It answers reads from a
// live total map and periodically drains per-shard deltas to the store.
type Accumulator struct {
	shards   []*aggShard
	nShards  int
	maxQueue int64

	totals *xsync.Map[uuid.UUID, int64]
	users  *xsync.Map[uuid.UUID, *sync.Mutex]

	store  FlushTarget
	loader TotalLoader
	cache  HotCache
	pool   pond.Pool
	log    *logger.Logger

	interval time.Duration
}

// NewAccumulator creates an accumulator with nShards independent shards.
// maxQueue bounds unflushed clicks per shard.
func NewAccumulator(nShards int, maxQueue int64, interval time.Duration, store FlushTarget, loader TotalLoader, cache HotCache, log *logger.Logger) *Accumulator {
	shards := make([]*aggShard, nShards)
	for i := range shards {
		shards[i] = &aggShard{
			idx:             i,
			pendingUsers:    make(map[uuid.UUID]int64),
			pendingSessions: make(map[uuid.UUID]int32),
		}
	}
	return &Accumulator{
		shards:   shards,
		nShards:  nShards,
		maxQueue: maxQueue,
		totals:   xsync.NewMap[uuid.UUID, int64](),
		users:    xsync.NewMap[uuid.UUID, *sync.Mutex](),
		store:    store,
		loader:   loader,
		cache:    cache,
		pool:     pond.NewPool(nShards, pond.WithQueueSize(nShards*2)),
		log:      log,
		interval: interval,
	}
}

// Submit accumulates a click batch and returns the user's new live total.
// Rejected batches leave no trace: a degraded shard returns
// ErrShardDegraded, a full shard ErrQueueFull.
func (a *Accumulator) Submit(ctx context.Context, batch *domain.ClickBatch) (int64, error) {
	if batch.Count == 0 {
		return 0, domain.Validationf("click count must be positive")
	}

	_, err := a.Total(ctx, batch.UserID)
	if err != nil {
		return 0, err
	}

	s := a.shards[shard.ForUser(batch.UserID, a.nShards)]
	s.mu.Lock()
	if s.degraded {
		s.mu.Unlock()
		return 0, domain.ErrShardDegraded
	}
	if s.pendingClicks+int64(batch.Count) > a.maxQueue {
		s.mu.Unlock()
		return 0, domain.ErrQueueFull
	}
	s.pendingUsers[batch.UserID] += int64(batch.Count)
	s.pendingSessions[batch.SessionID] += int32(batch.Count)
	s.pendingClicks += int64(batch.Count)
	s.mu.Unlock()

	newTotal, _ := a.totals.Compute(batch.UserID, func(old int64, loaded bool) (int64, xsync.ComputeOp) {
		return old + int64(batch.Count), xsync.UpdateOp
	})

	if err := a.cache.SetUserTotal(ctx, batch.UserID.String(), newTotal); err != nil {
		a.log.WithError(err).Warn("failed to write live total to cache")
	}
	return newTotal, nil
}

// Total returns the user's live total, loading the durable value on first
// sight of the user.
func (a *Accumulator) Total(ctx context.Context, userID uuid.UUID) (int64, error) {
	if total, ok := a.totals.Load(userID); ok {
		return total, nil
	}
	durable, err := a.loader.TotalClicks(ctx, userID)
	if err != nil {
		return 0, err
	}
	total, _ := a.totals.Compute(userID, func(old int64, loaded bool) (int64, xsync.ComputeOp) {
		if loaded {
			return old, xsync.UpdateOp
		}
		return durable, xsync.UpdateOp
	})
	return total, nil
}

// SerializeUser runs fn while holding a per-user lock. Username changes go
// through here so concurrent renames of one user cannot interleave.
func (a *Accumulator) SerializeUser(userID uuid.UUID, fn func() error) error {
	mu, _ := a.users.LoadOrStore(userID, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// Degraded reports whether any shard is refusing writes.
func (a *Accumulator) Degraded() bool {
	for _, s := range a.shards {
		s.mu.Lock()
		d := s.degraded
		s.mu.Unlock()
		if d {
			return true
		}
	}
	return false
}

// Run flushes all shards on the configured cadence until ctx is cancelled,
// then performs a final drain.
func (a *Accumulator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.FlushAll(drainCtx)
			cancel()
			a.pool.StopAndWait()
			return
		case <-ticker.C:
			a.FlushAll(ctx)
		}
	}
}

// FlushAll flushes every shard in parallel and waits for completion.
func (a *Accumulator) FlushAll(ctx context.Context) {
	group := a.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, s := range a.shards {
		s := s
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			a.flushShard(groupCtx, s)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		a.log.WithError(err).Warn("shard flush group failed")
	}
}

// flushShard swaps out the shard's pending maps and applies them. On
// failure the deltas are merged back so no click is lost, and the shard
// backs off; after repeated failures it turns writes away until a flush
// succeeds again.
func (a *Accumulator) flushShard(ctx context.Context, s *aggShard) {
	s.mu.Lock()
	if !s.retryAt.IsZero() && time.Now().Before(s.retryAt) {
		s.mu.Unlock()
		return
	}
	users := s.pendingUsers
	sessions := s.pendingSessions
	if len(s.carriedUsers) > 0 {
		mergeUsers(users, s.carriedUsers)
		mergeSessions(sessions, s.carriedSess)
		s.carriedUsers = nil
		s.carriedSess = nil
	}
	s.pendingUsers = make(map[uuid.UUID]int64)
	s.pendingSessions = make(map[uuid.UUID]int32)
	pending := s.pendingClicks
	s.pendingClicks = 0
	s.mu.Unlock()

	if len(users) == 0 && len(sessions) == 0 {
		return
	}

	totals, err := a.store.ApplyDeltas(ctx, users, sessions)
	if err != nil {
		a.log.WithFields(map[string]interface{}{
			"shard": s.idx,
			"users": len(users),
			"error": err.Error(),
		}).Error("shard flush failed")

		s.mu.Lock()
		s.carriedUsers = users
		s.carriedSess = sessions
		s.pendingClicks += pending
		s.failures++
		if s.backoff == 0 {
			s.backoff = a.interval
		} else if s.backoff < maxBackoff {
			s.backoff *= 2
			if s.backoff > maxBackoff {
				s.backoff = maxBackoff
			}
		}
		s.retryAt = time.Now().Add(s.backoff)
		if s.failures >= degradedThreshold && !s.degraded {
			s.degraded = true
			a.log.WithField("shard", s.idx).Error("shard entering degraded mode")
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	wasDegraded := s.degraded
	s.failures = 0
	s.backoff = 0
	s.retryAt = time.Time{}
	s.degraded = false
	s.mu.Unlock()
	if wasDegraded {
		a.log.WithField("shard", s.idx).Info("shard recovered from degraded mode")
	}

	// Heal live totals from the durable values. Anything submitted since
	// the swap is re-added on top, so the counter stays monotonic for
	// readers.
	for userID, durable := range totals {
		s2 := a.shards[shard.ForUser(userID, a.nShards)]
		s2.mu.Lock()
		inFlight := s2.pendingUsers[userID]
		s2.mu.Unlock()
		healed := durable + inFlight
		a.totals.Compute(userID, func(old int64, loaded bool) (int64, xsync.ComputeOp) {
			if healed > old {
				return healed, xsync.UpdateOp
			}
			return old, xsync.UpdateOp
		})
	}
}

func mergeUsers(dst, src map[uuid.UUID]int64) {
	for id, delta := range src {
		dst[id] += delta
	}
}

func mergeSessions(dst, src map[uuid.UUID]int32) {
	for id, delta := range src {
		dst[id] += delta
	}
}
