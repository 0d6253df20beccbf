package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"simple", "alice", false},
		{"single char", "a", false},
		{"digits and separators", "player_1-two", false},
		{"max length", strings.Repeat("x", MaxUsernameLen), false},
		{"empty", "", true},
		{"too long", strings.Repeat("x", MaxUsernameLen+1), true},
		{"spaces", "two words", true},
		{"punctuation", "nope!", true},
		{"unicode", "héllo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
