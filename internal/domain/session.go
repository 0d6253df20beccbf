package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is one connected interaction period, bounded by WebSocket open
// and close (or expiry). At most one session per user is active at a time;
// reconnects either resume the previous session or replace it.
type Session struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	ChatID        int64
	MessageID     *int32
	StartedAt     time.Time
	LastHeartbeat time.Time
	EndedAt       *time.Time
	IsActive      bool
	TotalClicks   int32
}

// HeartbeatFresh reports whether the session saw a heartbeat within window.
func (s *Session) HeartbeatFresh(now time.Time, window time.Duration) bool {
	return now.Sub(s.LastHeartbeat) <= window
}

// ClickBatch is the unit of ingestion: a client-side batch of clicks for
// one session, collapsed into per-user deltas by the aggregator.
type ClickBatch struct {
	UserID      uuid.UUID
	SessionID   uuid.UUID
	Count       uint32
	SubmittedAt time.Time
}
