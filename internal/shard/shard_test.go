package shard

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestForUserStable(t *testing.T) {
	id := uuid.MustParse("a2b9e0c4-7f13-4d2a-9b6e-5c8d1f0a3e72")

	first := ForUser(id, 8)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, ForUser(id, 8))
	}
}

func TestForUserBounds(t *testing.T) {
	for n := 1; n <= 16; n++ {
		for i := 0; i < 200; i++ {
			idx := ForUser(uuid.New(), n)
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, n)
		}
	}
}

func TestForUserSingleShard(t *testing.T) {
	assert.Equal(t, 0, ForUser(uuid.New(), 1))
	assert.Equal(t, 0, ForUser(uuid.New(), 0))
}

func TestForUserSpreads(t *testing.T) {
	counts := make(map[int]int)
	for i := 0; i < 1000; i++ {
		counts[ForUser(uuid.New(), 4)]++
	}
	for s := 0; s < 4; s++ {
		assert.Greater(t, counts[s], 100, "shard %d starved", s)
	}
}

func TestUserIDForChatDeterministic(t *testing.T) {
	a := UserIDForChat(42)
	b := UserIDForChat(42)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, UserIDForChat(43))
}

func TestUserIDForChatRoutesToOneShard(t *testing.T) {
	id := UserIDForChat(-7)
	assert.Equal(t, ForUser(id, 8), ForUser(UserIDForChat(-7), 8))
}
