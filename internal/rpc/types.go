// Package rpc is the internal transport between edge, aggregator and
// ranker: length-prefixed binary frames over persistent TCP connections,
// with msgpack-encoded payloads. Every request carries a request id for
// correlation and a deadline the server enforces.
package rpc

import "clicker-backend/internal/domain"

// Op identifies an operation. Values are part of the wire contract; only
// append.
type Op uint8

const (
	OpPing Op = iota + 1
	OpResolveUser
	OpSubmitClickBatch
	OpChangeUsername
	OpGetUserState
	OpOpenSession
	OpHeartbeatSession
	OpCloseSession
	OpGetRank
	OpGetTopK
)

func (o Op) String() string {
	switch o {
	case OpPing:
		return "ping"
	case OpResolveUser:
		return "resolve_user"
	case OpSubmitClickBatch:
		return "submit_click_batch"
	case OpChangeUsername:
		return "change_username"
	case OpGetUserState:
		return "get_user_state"
	case OpOpenSession:
		return "open_session"
	case OpHeartbeatSession:
		return "heartbeat_session"
	case OpCloseSession:
		return "close_session"
	case OpGetRank:
		return "get_rank"
	case OpGetTopK:
		return "get_topk"
	}
	return "unknown"
}

type PingRequest struct{}

type PingResponse struct{}

type ResolveUserRequest struct {
	ExternalChatID int64  `msgpack:"external_chat_id"`
	Username       string `msgpack:"username"`
}

// ResolveUserResponse returns the canonical record: for an existing user
// the stored username wins over the proposed one.
type ResolveUserResponse struct {
	UserID      string `msgpack:"user_id"`
	Username    string `msgpack:"username"`
	TotalClicks int64  `msgpack:"total_clicks"`
	Created     bool   `msgpack:"created"`
}

type SubmitClickBatchRequest struct {
	UserID      string `msgpack:"user_id"`
	SessionID   string `msgpack:"session_id"`
	Count       uint32 `msgpack:"count"`
	SubmittedAt int64  `msgpack:"submitted_at"`
}

// SubmitClickBatchResponse acks the batch with the accepted count and the
// authoritative running total. There is no per-click ack and no
// deduplication: delivery is at-least-once within the flush window.
type SubmitClickBatchResponse struct {
	Accepted    uint32 `msgpack:"accepted"`
	TotalClicks int64  `msgpack:"total_clicks"`
}

type ChangeUsernameRequest struct {
	UserID      string `msgpack:"user_id"`
	NewUsername string `msgpack:"new_username"`
}

type ChangeUsernameResponse struct {
	Username string `msgpack:"username"`
}

type GetUserStateRequest struct {
	UserID string `msgpack:"user_id"`
}

type GetUserStateResponse struct {
	UserID      string `msgpack:"user_id"`
	Username    string `msgpack:"username"`
	TotalClicks int64  `msgpack:"total_clicks"`
}

type OpenSessionRequest struct {
	UserID string `msgpack:"user_id"`
	ChatID int64  `msgpack:"chat_id"`
}

type OpenSessionResponse struct {
	SessionID      string `msgpack:"session_id"`
	IsReconnection bool   `msgpack:"is_reconnection"`
	StartedAt      int64  `msgpack:"started_at"`
	SessionClicks  int32  `msgpack:"session_clicks"`
}

type HeartbeatSessionRequest struct {
	SessionID string `msgpack:"session_id"`
}

type HeartbeatSessionResponse struct{}

type CloseSessionRequest struct {
	SessionID string `msgpack:"session_id"`
	Reason    string `msgpack:"reason"`
}

type CloseSessionResponse struct{}

type GetRankRequest struct {
	UserID string `msgpack:"user_id"`
}

// GetRankResponse: rank 0 means beyond the published window.
type GetRankResponse struct {
	Rank        uint32 `msgpack:"rank"`
	TotalClicks int64  `msgpack:"total_clicks"`
}

type GetTopKRequest struct {
	Limit int `msgpack:"limit"`
}

type GetTopKResponse struct {
	Version    uint64                    `msgpack:"version"`
	Entries    []domain.LeaderboardEntry `msgpack:"entries"`
	TotalUsers int64                     `msgpack:"total_users"`
}
