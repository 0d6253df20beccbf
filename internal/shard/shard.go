// Package shard maps users onto aggregator shards. The mapping is the
// correctness foundation of the write path: all clicks for a user must
// reach the same shard, so the hash must be stable across processes and
// releases.
package shard

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// userNamespace seeds the deterministic chat-id to user-id derivation.
// Changing it reshards every user; never change it.
var userNamespace = uuid.MustParse("8f1c7a4e-3b2d-4f6a-9c5e-1d0b7e2a6f43")

// ForUser returns the shard index owning userID, in [0, n).
func ForUser(userID uuid.UUID, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64(userID[:]) % uint64(n))
}

// UserIDForChat derives the user id from the external chat id. The
// derivation is deterministic so a resolve call can be routed to the
// owning shard before the user row exists.
func UserIDForChat(chatID int64) uuid.UUID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(chatID))
	return uuid.NewSHA1(userNamespace, buf[:])
}
