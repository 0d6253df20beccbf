package redis

import "fmt"

// Hot cache key templates. The aggregator shard owning a user is the sole
// writer of that user's total and meta; the ranker is the sole writer of
// rank data. All writes are idempotent overwrites.
const (
	KeyUserTotal = "user:total:%s"
	KeyUserMeta  = "user:meta:%s"

	KeyTopK        = "leaderboard:topk"
	KeyTopKVersion = "leaderboard:topk:version"
	KeyRanks       = "leaderboard:ranks"
)

// KeyBuilder creates environment-scoped cache keys so staging and
// production can share one Redis.
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates a key builder with the given environment prefix.
func NewKeyBuilder(environment string) *KeyBuilder {
	prefix := "clicker"
	if environment != "" && environment != "production" {
		prefix = fmt.Sprintf("clicker:%s", environment)
	}
	return &KeyBuilder{prefix: prefix}
}

// Key builds a prefixed key from a template and arguments.
func (kb *KeyBuilder) Key(template string, args ...interface{}) string {
	return fmt.Sprintf("%s:%s", kb.prefix, fmt.Sprintf(template, args...))
}

// UserTotal returns the key holding a user's live total.
func (kb *KeyBuilder) UserTotal(userID string) string {
	return kb.Key(KeyUserTotal, userID)
}

// UserMeta returns the key holding a user's canonical display name.
func (kb *KeyBuilder) UserMeta(userID string) string {
	return kb.Key(KeyUserMeta, userID)
}

// TopK returns the key holding the published top-K snapshot.
func (kb *KeyBuilder) TopK() string {
	return kb.Key(KeyTopK)
}

// TopKVersion returns the key holding the snapshot version.
func (kb *KeyBuilder) TopKVersion() string {
	return kb.Key(KeyTopKVersion)
}

// Ranks returns the key of the user-id -> rank hash for the top-K.
func (kb *KeyBuilder) Ranks() string {
	return kb.Key(KeyRanks)
}
