package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/logger"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Client) {
	mr := miniredis.RunT(t)

	log, err := logger.New("error")
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := NewClientFromRedis(rdb, "test", log)
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func TestUserTotalRoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	total, found, err := client.UserTotal(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(0), total)

	require.NoError(t, client.SetUserTotal(ctx, "u1", 1234))

	total, found, err = client.UserTotal(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1234), total)
}

func TestUserMetaRoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	_, found, err := client.UserMeta(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.SetUserMeta(ctx, "u1", "alice"))

	name, found, err := client.UserMeta(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "alice", name)
}

func TestPublishRanksReplacesHash(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	err := client.PublishRanks(ctx, []domain.LeaderboardEntry{
		{Rank: 1, UserID: "u1", Username: "alice", TotalClicks: 100},
		{Rank: 2, UserID: "u2", Username: "bob", TotalClicks: 50},
	})
	require.NoError(t, err)

	rank, err := client.UserRank(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rank)

	// u2 falls out of the window; its rank entry must disappear.
	err = client.PublishRanks(ctx, []domain.LeaderboardEntry{
		{Rank: 1, UserID: "u1", Username: "alice", TotalClicks: 200},
	})
	require.NoError(t, err)

	rank, err = client.UserRank(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.RankUnranked, rank)
}

func TestPublishRanksEmptyClearsHash(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.PublishRanks(ctx, []domain.LeaderboardEntry{
		{Rank: 1, UserID: "u1", Username: "alice", TotalClicks: 1},
	}))
	require.NoError(t, client.PublishRanks(ctx, nil))

	rank, err := client.UserRank(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RankUnranked, rank)
}

func TestPublishTopKVersioning(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	older := &domain.TopKSnapshot{
		Version: 100,
		Entries: []domain.LeaderboardEntry{{Rank: 1, UserID: "u1", Username: "old", TotalClicks: 1}},
	}
	newer := &domain.TopKSnapshot{
		Version: 200,
		Entries: []domain.LeaderboardEntry{{Rank: 1, UserID: "u1", Username: "new", TotalClicks: 2}},
	}

	installed, err := client.PublishTopK(ctx, newer)
	require.NoError(t, err)
	assert.True(t, installed)

	// A stale publish must not roll the snapshot back.
	installed, err = client.PublishTopK(ctx, older)
	require.NoError(t, err)
	assert.False(t, installed)

	snap, found, err := client.TopK(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(200), snap.Version)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "new", snap.Entries[0].Username)
}

func TestTopKMissing(t *testing.T) {
	_, client := setupTestRedis(t)

	snap, found, err := client.TopK(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snap)
}
