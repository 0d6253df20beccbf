package domain

import (
	"time"

	"github.com/google/uuid"
)

// Username limits enforced at the aggregator. The schema caps usernames at
// 20 characters; anything longer is rejected rather than truncated.
const (
	MinUsernameLen = 1
	MaxUsernameLen = 20
)

// User is a player identified by their external chat-platform id.
// TotalClicks is monotonic; it only moves through accepted click batches.
type User struct {
	ID             uuid.UUID
	ExternalChatID int64
	Username       string
	TotalClicks    int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateUsername checks length and charset. Letters, digits, underscores
// and hyphens only.
func ValidateUsername(name string) error {
	if len(name) < MinUsernameLen {
		return Validationf("username must not be empty")
	}
	if len(name) > MaxUsernameLen {
		return Validationf("username must be at most %d characters", MaxUsernameLen)
	}
	for _, r := range name {
		if !isUsernameRune(r) {
			return Validationf("username can only contain letters, numbers, underscores, and hyphens")
		}
	}
	return nil
}

func isUsernameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}
