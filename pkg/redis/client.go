package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/logger"
)

// publishTopKScript installs a snapshot only if its version is newer than
// the one already published. Concurrent rankers may race; the monotonic
// version keeps the winner deterministic.
var publishTopKScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
local version = tonumber(ARGV[2])
if version > current then
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('SET', KEYS[2], ARGV[2])
  return 1
end
return 0
`)

// Client is the hot cache: per-user live totals, canonical display names,
// and the published top-K. No TTLs; the periodic writers keep values fresh
// and readers tolerate staleness up to one refresh cycle.
type Client struct {
	rdb  *redis.Client
	Keys *KeyBuilder
	log  *logger.Logger
}

// NewClient creates a new hot cache client.
func NewClient(redisURL, environment string, log *logger.Logger) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb, Keys: NewKeyBuilder(environment), log: log}, nil
}

// NewClientFromRedis wraps an existing go-redis client. Used by tests with
// miniredis.
func NewClientFromRedis(rdb *redis.Client, environment string, log *logger.Logger) *Client {
	return &Client{rdb: rdb, Keys: NewKeyBuilder(environment), log: log}
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks connectivity.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetUserTotal overwrites a user's live total.
func (c *Client) SetUserTotal(ctx context.Context, userID string, total int64) error {
	return c.rdb.Set(ctx, c.Keys.UserTotal(userID), total, 0).Err()
}

// UserTotal reads a user's live total. The second return is false when the
// user has no cached total yet.
func (c *Client) UserTotal(ctx context.Context, userID string) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, c.Keys.UserTotal(userID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read user total: %w", err)
	}
	total, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed user total %q: %w", val, err)
	}
	return total, true, nil
}

// SetUserMeta overwrites a user's canonical display name.
func (c *Client) SetUserMeta(ctx context.Context, userID, username string) error {
	return c.rdb.Set(ctx, c.Keys.UserMeta(userID), username, 0).Err()
}

// UserMeta reads a user's canonical display name.
func (c *Client) UserMeta(ctx context.Context, userID string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, c.Keys.UserMeta(userID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read user meta: %w", err)
	}
	return val, true, nil
}

// UserRank reads a user's published rank. Missing entry means unranked.
func (c *Client) UserRank(ctx context.Context, userID string) (uint32, error) {
	val, err := c.rdb.HGet(ctx, c.Keys.Ranks(), userID).Result()
	if err == redis.Nil {
		return domain.RankUnranked, nil
	}
	if err != nil {
		return domain.RankUnranked, fmt.Errorf("failed to read user rank: %w", err)
	}
	rank, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return domain.RankUnranked, fmt.Errorf("malformed rank %q: %w", val, err)
	}
	return uint32(rank), nil
}

// PublishRanks atomically replaces the user->rank hash for the top-K. The
// old hash is dropped so users who fell out of the window read as
// unranked again.
func (c *Client) PublishRanks(ctx context.Context, entries []domain.LeaderboardEntry) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.Keys.Ranks())
	if len(entries) > 0 {
		fields := make([]interface{}, 0, len(entries)*2)
		for _, e := range entries {
			fields = append(fields, e.UserID, strconv.FormatUint(uint64(e.Rank), 10))
		}
		pipe.HSet(ctx, c.Keys.Ranks(), fields...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish ranks: %w", err)
	}
	return nil
}

// PublishTopK writes a versioned snapshot, discarding it when a newer
// version is already published.
func (c *Client) PublishTopK(ctx context.Context, snap *domain.TopKSnapshot) (bool, error) {
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("failed to encode top-K snapshot: %w", err)
	}
	res, err := publishTopKScript.Run(ctx, c.rdb,
		[]string{c.Keys.TopK(), c.Keys.TopKVersion()},
		payload, snap.Version,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to publish top-K snapshot: %w", err)
	}
	return res == 1, nil
}

// TopK reads the most recent published snapshot.
func (c *Client) TopK(ctx context.Context) (*domain.TopKSnapshot, bool, error) {
	payload, err := c.rdb.Get(ctx, c.Keys.TopK()).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read top-K snapshot: %w", err)
	}
	var snap domain.TopKSnapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return nil, false, fmt.Errorf("malformed top-K snapshot: %w", err)
	}
	return &snap, true, nil
}
