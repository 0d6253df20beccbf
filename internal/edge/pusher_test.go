package edge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/logger"
)

func newPushTestHandler(t *testing.T) (*Handler, *connState) {
	log, err := logger.New("error")
	require.NoError(t, err)

	h := &Handler{boardLen: 3, log: log}
	c := &connState{send: make(chan any, 8)}
	return h, c
}

func board(version uint64, n int) (uint64, []domain.LeaderboardEntry) {
	entries := make([]domain.LeaderboardEntry, n)
	for i := range entries {
		entries[i] = domain.LeaderboardEntry{
			Rank:        uint32(i + 1),
			UserID:      "u",
			Username:    "player",
			TotalClicks: uint64(100 - i),
		}
	}
	return version, entries
}

func TestSendBoardSuppressesRepeatedVersion(t *testing.T) {
	h, c := newPushTestHandler(t)
	var last uint64

	version, entries := board(7, 2)
	h.sendBoard(c, version, entries, false, &last)
	h.sendBoard(c, version, entries, false, &last)

	assert.Len(t, c.send, 1, "same version must be pushed once")
}

func TestSendBoardForceResends(t *testing.T) {
	h, c := newPushTestHandler(t)
	var last uint64

	version, entries := board(7, 2)
	h.sendBoard(c, version, entries, false, &last)
	h.sendBoard(c, version, entries, true, &last)

	assert.Len(t, c.send, 2)
}

func TestSendBoardNewVersionGoesOut(t *testing.T) {
	h, c := newPushTestHandler(t)
	var last uint64

	v1, entries := board(7, 2)
	h.sendBoard(c, v1, entries, false, &last)
	h.sendBoard(c, 8, entries, false, &last)

	assert.Len(t, c.send, 2)
}

func TestSendBoardClampsToDisplayWindow(t *testing.T) {
	h, c := newPushTestHandler(t)
	var last uint64

	version, entries := board(1, 10)
	h.sendBoard(c, version, entries, false, &last)

	msg := (<-c.send).(*LeaderboardUpdate)
	assert.Len(t, msg.Entries, 3)
	assert.Equal(t, uint32(1), msg.Entries[0].Rank)
}

func TestScoreUpdateWireFormat(t *testing.T) {
	data, err := json.Marshal(&ScoreUpdate{
		Type:     MsgScoreUpdate,
		Score:    7,
		Rank:     1,
		UserID:   "u1",
		Username: "player",
	})
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, float64(7), frame["score"])
	assert.Equal(t, "u1", frame["user_id"])
	assert.Equal(t, "player", frame["username"])
	assert.NotContains(t, frame, "total_clicks")

	// Periodic pushes omit the identity fields.
	data, err = json.Marshal(&ScoreUpdate{Type: MsgScoreUpdate, Score: 7, Rank: 1})
	require.NoError(t, err)
	var periodic map[string]any
	require.NoError(t, json.Unmarshal(data, &periodic))
	assert.NotContains(t, periodic, "user_id")
	assert.NotContains(t, periodic, "username")
}

func TestOwnsSession(t *testing.T) {
	msg := &ClientMessage{UserID: "u1", SessionID: "s1"}

	assert.True(t, ownsSession(msg, "u1", "s1"))
	assert.False(t, ownsSession(msg, "u2", "s1"))
	assert.False(t, ownsSession(msg, "u1", "s2"))

	// Omitted ids are accepted; the connection's own identity applies.
	assert.True(t, ownsSession(&ClientMessage{}, "u1", "s1"))
}
