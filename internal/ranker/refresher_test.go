package ranker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/logger"
	"clicker-backend/pkg/redis"
)

// fakeBoardStore serves a fixed ranked window.
type fakeBoardStore struct {
	mu        sync.Mutex
	entries   []domain.LeaderboardEntry
	refreshes int
	failNext  bool
}

func (f *fakeBoardStore) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("refresh failed")
	}
	f.refreshes++
	return nil
}

func (f *fakeBoardStore) TopK(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.entries) {
		limit = len(f.entries)
	}
	return f.entries[:limit], nil
}

func (f *fakeBoardStore) UserRank(ctx context.Context, userID uuid.UUID) (uint32, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.UserID == userID.String() {
			return e.Rank, int64(e.TotalClicks), true, nil
		}
	}
	return domain.RankUnranked, 0, false, nil
}

func (f *fakeBoardStore) CountRanked(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries)), nil
}

func setupRanker(t *testing.T, store *fakeBoardStore) (*Refresher, *redis.Client) {
	mr := miniredis.RunT(t)
	log, err := logger.New("error")
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	cache := redis.NewClientFromRedis(rdb, "test", log)
	t.Cleanup(func() { cache.Close() })

	return NewRefresher(store, cache, 1000, 3, log), cache
}

func entries(n int) []domain.LeaderboardEntry {
	out := make([]domain.LeaderboardEntry, n)
	rank := uint32(0)
	for i := range out {
		// Ties share a dense rank.
		if i%2 == 0 {
			rank++
		}
		out[i] = domain.LeaderboardEntry{
			Rank:        rank,
			UserID:      uuid.New().String(),
			Username:    "player",
			TotalClicks: uint64(1000 - i),
		}
	}
	return out
}

func TestRefreshPublishesSnapshotAndRanks(t *testing.T) {
	store := &fakeBoardStore{entries: entries(10)}
	refresher, cache := setupRanker(t, store)
	ctx := context.Background()

	require.NoError(t, refresher.RefreshAndPublish(ctx))
	assert.Equal(t, 1, store.refreshes)

	snap, found, err := cache.TopK(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, snap.Entries, 3, "snapshot holds the display window only")
	assert.NotZero(t, snap.Version)

	// Every entry of the full window gets a rank, not just the display slice.
	rank, err := cache.UserRank(ctx, store.entries[9].UserID)
	require.NoError(t, err)
	assert.Equal(t, store.entries[9].Rank, rank)
}

func TestRefreshPreservesDenseRanks(t *testing.T) {
	store := &fakeBoardStore{entries: entries(6)}
	refresher, cache := setupRanker(t, store)
	ctx := context.Background()

	require.NoError(t, refresher.RefreshAndPublish(ctx))

	snap, _, err := cache.TopK(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), snap.Entries[0].Rank)
	assert.Equal(t, uint32(1), snap.Entries[1].Rank)
	assert.Equal(t, uint32(2), snap.Entries[2].Rank)
}

func TestRefreshDropsUsersOutOfWindow(t *testing.T) {
	all := entries(5)
	store := &fakeBoardStore{entries: all}
	refresher, cache := setupRanker(t, store)
	ctx := context.Background()

	require.NoError(t, refresher.RefreshAndPublish(ctx))

	dropped := all[4]
	store.mu.Lock()
	store.entries = all[:4]
	store.mu.Unlock()

	require.NoError(t, refresher.RefreshAndPublish(ctx))

	rank, err := cache.UserRank(ctx, dropped.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.RankUnranked, rank)
}

func TestRefreshFailureLeavesSnapshot(t *testing.T) {
	store := &fakeBoardStore{entries: entries(4)}
	refresher, cache := setupRanker(t, store)
	ctx := context.Background()

	require.NoError(t, refresher.RefreshAndPublish(ctx))
	before, _, err := cache.TopK(ctx)
	require.NoError(t, err)

	store.mu.Lock()
	store.failNext = true
	store.mu.Unlock()
	assert.Error(t, refresher.RefreshAndPublish(ctx))

	after, found, err := cache.TopK(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, before.Version, after.Version)
}
