// Package edge terminates WebSocket connections, validates and forwards
// client traffic to the aggregator fleet, and pushes score and leaderboard
// updates back out.
package edge

// Client message types.
const (
	MsgInit      = "init"
	MsgClick     = "click"
	MsgHeartbeat = "heartbeat"
	MsgRefresh   = "refresh"
)

// Server message types.
const (
	MsgSessionInfo       = "session_info"
	MsgScoreUpdate       = "score_update"
	MsgLeaderboardUpdate = "leaderboard_update"
	MsgError             = "error"
	MsgRateLimited       = "rate_limited"
)

// ClientMessage is the single inbound envelope. Fields are populated per
// type: init carries external_chat_id and username; click carries user_id,
// session_id and click_count.
type ClientMessage struct {
	Type           string `json:"type"`
	ExternalChatID int64  `json:"external_chat_id,omitempty"`
	Username       string `json:"username,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	ClickCount     uint32 `json:"click_count,omitempty"`
}

// SessionInfo is sent once after a successful init.
type SessionInfo struct {
	Type           string `json:"type"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	SessionID      string `json:"session_id"`
	IsReconnection bool   `json:"is_reconnection"`
	SessionClicks  int32  `json:"session_clicks"`
	TotalClicks    int64  `json:"total_clicks"`
}

// ScoreUpdate pushes the user's own score and rank. Rank 0 means outside
// the ranked window. Identity fields ride along on the first push after
// init; periodic pushes omit them.
type ScoreUpdate struct {
	Type     string `json:"type"`
	Score    int64  `json:"score"`
	Rank     uint32 `json:"rank"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// BoardEntry is one leaderboard row as shown to clients.
type BoardEntry struct {
	Rank        uint32 `json:"rank"`
	Username    string `json:"username"`
	TotalClicks uint64 `json:"total_clicks"`
}

// LeaderboardUpdate pushes the display window.
type LeaderboardUpdate struct {
	Type    string       `json:"type"`
	Version uint64       `json:"version"`
	Entries []BoardEntry `json:"entries"`
}

// ErrorMessage reports a rejected request. The connection stays open.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RateLimitedMessage tells the client to slow down; the offending batch
// was dropped.
type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ownsSession checks that any ids a message names match the connection
// that sent it. Empty fields are allowed; lying ones are not.
func ownsSession(msg *ClientMessage, userID, sessionID string) bool {
	if msg.UserID != "" && msg.UserID != userID {
		return false
	}
	if msg.SessionID != "" && msg.SessionID != sessionID {
		return false
	}
	return true
}

func errorMsg(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgError, Code: code, Message: message}
}

func rateLimitedMsg(message string) *RateLimitedMessage {
	return &RateLimitedMessage{Type: MsgRateLimited, Message: message}
}
