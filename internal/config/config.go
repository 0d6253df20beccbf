package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the services. One struct is
// shared by edge, aggregator and ranker; each binary reads the subset it
// needs.
type Config struct {
	Port        string
	RPCAddr     string
	LogLevel    string
	Environment string

	DatabaseURL string
	RedisURL    string

	// Topology. NShards must be stable cluster-wide: the edge routes
	// clicks with the same hash the aggregator uses to pick a local shard.
	NShards         int
	AggregatorAddrs []string
	RankerAddr      string
	RPCPoolSize     int
	RPCTimeout      time.Duration

	// Cadences.
	FlushInterval   time.Duration
	RankRefresh     time.Duration
	ScorePush       time.Duration
	LeaderboardPush time.Duration
	SweepInterval   time.Duration

	// Limits.
	MaxBatch        uint32
	SessionIdle     time.Duration
	ReconnectWindow time.Duration
	ShardQueueDepth int64
	TopKSize        int
	LeaderboardSize int
	DBMaxConns      int32
}

// Load reads configuration from environment variables, with a .env file as
// a development convenience.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		RPCAddr:     getEnv("RPC_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Environment: getEnv("ENVIRONMENT", "production"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		NShards:         getIntEnv("N_SHARDS", 3),
		AggregatorAddrs: splitAddrs(getEnv("AGGREGATOR_ADDRS", "localhost:9090")),
		RankerAddr:      getEnv("RANKER_ADDR", "localhost:9091"),
		RPCPoolSize:     getIntEnv("RPC_POOL_SIZE", 50),
		RPCTimeout:      getMillisEnv("RPC_TIMEOUT_MS", 2000),

		FlushInterval:   getMillisEnv("FLUSH_INTERVAL_MS", 1000),
		RankRefresh:     getMillisEnv("RANK_REFRESH_MS", 500),
		ScorePush:       getMillisEnv("SCORE_PUSH_MS", 500),
		LeaderboardPush: getMillisEnv("LEADERBOARD_PUSH_MS", 5000),
		SweepInterval:   getMillisEnv("SWEEP_INTERVAL_MS", 30000),

		MaxBatch:        uint32(getIntEnv("MAX_BATCH", 100)),
		SessionIdle:     getMillisEnv("SESSION_IDLE_MS", 90000),
		ReconnectWindow: getMillisEnv("RECONNECT_WINDOW_MS", 60000),
		ShardQueueDepth: int64(getIntEnv("SHARD_QUEUE_DEPTH", 100000)),
		TopKSize:        getIntEnv("TOPK_SIZE", 1000),
		LeaderboardSize: getIntEnv("LEADERBOARD_SIZE", 20),
		DBMaxConns:      int32(getIntEnv("DB_MAX_CONNS", 50)),
	}

	if cfg.NShards <= 0 {
		return nil, fmt.Errorf("N_SHARDS must be positive, got %d", cfg.NShards)
	}
	if len(cfg.AggregatorAddrs) == 0 {
		return nil, fmt.Errorf("AGGREGATOR_ADDRS must not be empty")
	}
	return cfg, nil
}

// getEnv gets an environment variable with a fallback value.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getIntEnv gets an integer environment variable with a fallback value.
func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getMillisEnv reads a millisecond knob into a time.Duration.
func getMillisEnv(key string, fallbackMS int) time.Duration {
	return time.Duration(getIntEnv(key, fallbackMS)) * time.Millisecond
}

// splitAddrs parses a comma-separated address list.
func splitAddrs(addrs string) []string {
	parts := strings.Split(addrs, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
