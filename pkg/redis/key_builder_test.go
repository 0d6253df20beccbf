package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBuilderPrefixes(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		expected    string
	}{
		{
			name:        "production has bare prefix",
			environment: "production",
			expected:    "clicker:user:total:u1",
		},
		{
			name:        "empty environment defaults to bare prefix",
			environment: "",
			expected:    "clicker:user:total:u1",
		},
		{
			name:        "staging is scoped",
			environment: "staging",
			expected:    "clicker:staging:user:total:u1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kb := NewKeyBuilder(tt.environment)
			assert.Equal(t, tt.expected, kb.UserTotal("u1"))
		})
	}
}

func TestKeyBuilderKeys(t *testing.T) {
	kb := NewKeyBuilder("test")

	assert.Equal(t, "clicker:test:user:meta:u1", kb.UserMeta("u1"))
	assert.Equal(t, "clicker:test:leaderboard:topk", kb.TopK())
	assert.Equal(t, "clicker:test:leaderboard:topk:version", kb.TopKVersion())
	assert.Equal(t, "clicker:test:leaderboard:ranks", kb.Ranks())
}
