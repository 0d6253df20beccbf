// Package ranker recomputes the leaderboard on a fixed cadence and
// publishes it to the hot cache, and serves rank queries over RPC.
package ranker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/logger"
	"clicker-backend/pkg/redis"
)

// LeaderboardStore is the persistence surface the ranker needs.
type LeaderboardStore interface {
	Refresh(ctx context.Context) error
	TopK(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	UserRank(ctx context.Context, userID uuid.UUID) (uint32, int64, bool, error)
	CountRanked(ctx context.Context) (int64, error)
}

// Refresher drives one refresh-and-publish cycle. Multiple rankers may run
// concurrently; the versioned publish keeps the newest snapshot installed.
type Refresher struct {
	store    LeaderboardStore
	cache    *redis.Client
	topK     int
	boardLen int
	log      *logger.Logger
}

func NewRefresher(store LeaderboardStore, cache *redis.Client, topK, boardLen int, log *logger.Logger) *Refresher {
	return &Refresher{
		store:    store,
		cache:    cache,
		topK:     topK,
		boardLen: boardLen,
		log:      log,
	}
}

// RefreshAndPublish recomputes the ranked window, replaces the rank hash,
// and publishes the display snapshot. A single failed cycle is logged and
// skipped; the next tick retries from scratch.
func (r *Refresher) RefreshAndPublish(ctx context.Context) error {
	start := time.Now()

	if err := r.store.Refresh(ctx); err != nil {
		return err
	}
	entries, err := r.store.TopK(ctx, r.topK)
	if err != nil {
		return err
	}

	if err := r.cache.PublishRanks(ctx, entries); err != nil {
		return err
	}

	board := entries
	if len(board) > r.boardLen {
		board = board[:r.boardLen]
	}
	snap := &domain.TopKSnapshot{
		Version:     uint64(start.UnixMilli()),
		PublishedAt: start.UnixMilli(),
		Entries:     board,
	}
	installed, err := r.cache.PublishTopK(ctx, snap)
	if err != nil {
		return err
	}
	if !installed {
		r.log.WithField("version", snap.Version).Debug("snapshot superseded by newer publish")
	}

	r.log.WithFields(map[string]interface{}{
		"ranked":      len(entries),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("leaderboard refreshed")
	return nil
}
