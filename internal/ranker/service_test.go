package ranker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"clicker-backend/internal/domain"
	"clicker-backend/internal/rpc"
	"clicker-backend/pkg/logger"
	"clicker-backend/pkg/redis"
)

func setupService(t *testing.T, store *fakeBoardStore) (*Service, *redis.Client) {
	mr := miniredis.RunT(t)
	log, err := logger.New("error")
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	cache := redis.NewClientFromRedis(rdb, "test", log)
	t.Cleanup(func() { cache.Close() })

	return NewService(store, cache, 1000, 3, log), cache
}

// decodeFrom mimics the server's payload decode step.
func decodeFrom(req any) func(any) error {
	return func(dst any) error {
		payload, err := msgpack.Marshal(req)
		if err != nil {
			return err
		}
		return msgpack.Unmarshal(payload, dst)
	}
}

func TestGetRankPrefersCachedTotal(t *testing.T) {
	store := &fakeBoardStore{entries: entries(6)}
	svc, cache := setupService(t, store)
	ctx := context.Background()

	target := store.entries[4]
	require.NoError(t, cache.PublishRanks(ctx, store.entries))
	require.NoError(t, cache.SetUserTotal(ctx, target.UserID, 5555))

	resp, err := svc.getRank(ctx, decodeFrom(&rpc.GetRankRequest{UserID: target.UserID}))
	require.NoError(t, err)
	out := resp.(*rpc.GetRankResponse)
	assert.Equal(t, target.Rank, out.Rank)
	assert.Equal(t, int64(5555), out.TotalClicks)
}

func TestGetRankFallsBackToStoreOnTotalMiss(t *testing.T) {
	store := &fakeBoardStore{entries: entries(6)}
	svc, cache := setupService(t, store)
	ctx := context.Background()

	// Ranks published but no live total for anyone yet; the durable total
	// from the view must come back, not zero.
	target := store.entries[4]
	require.NoError(t, cache.PublishRanks(ctx, store.entries))

	resp, err := svc.getRank(ctx, decodeFrom(&rpc.GetRankRequest{UserID: target.UserID}))
	require.NoError(t, err)
	out := resp.(*rpc.GetRankResponse)
	assert.Equal(t, target.Rank, out.Rank)
	assert.Equal(t, int64(target.TotalClicks), out.TotalClicks)
}

func TestGetRankUnknownUserIsUnranked(t *testing.T) {
	store := &fakeBoardStore{entries: entries(4)}
	svc, cache := setupService(t, store)
	ctx := context.Background()

	require.NoError(t, cache.PublishRanks(ctx, store.entries))

	resp, err := svc.getRank(ctx, decodeFrom(&rpc.GetRankRequest{UserID: uuid.New().String()}))
	require.NoError(t, err)
	out := resp.(*rpc.GetRankResponse)
	assert.Equal(t, domain.RankUnranked, out.Rank)
	assert.Equal(t, int64(0), out.TotalClicks)
}
