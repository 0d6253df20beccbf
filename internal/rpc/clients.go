package rpc

import (
	"context"

	"github.com/google/uuid"
)

// GameClient is the edge's typed view of the aggregator fleet. Every call
// routes through the shard router so user state stays single-writer.
type GameClient struct {
	router *AggregatorRouter
}

// NewGameClient wraps a router.
func NewGameClient(router *AggregatorRouter) *GameClient {
	return &GameClient{router: router}
}

// Close closes all underlying pools.
func (g *GameClient) Close() {
	g.router.Close()
}

// ResolveUser finds or creates the user for an external chat id.
func (g *GameClient) ResolveUser(ctx context.Context, externalChatID int64, username string) (*ResolveUserResponse, error) {
	var resp ResolveUserResponse
	err := g.router.ForChat(externalChatID).Call(ctx, OpResolveUser, &ResolveUserRequest{
		ExternalChatID: externalChatID,
		Username:       username,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitClickBatch forwards a batch to the user's shard.
func (g *GameClient) SubmitClickBatch(ctx context.Context, req *SubmitClickBatchRequest) (*SubmitClickBatchResponse, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, err
	}
	var resp SubmitClickBatchResponse
	if err := g.router.ForUser(userID).Call(ctx, OpSubmitClickBatch, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChangeUsername updates the user's display name.
func (g *GameClient) ChangeUsername(ctx context.Context, userID uuid.UUID, newUsername string) (*ChangeUsernameResponse, error) {
	var resp ChangeUsernameResponse
	err := g.router.ForUser(userID).Call(ctx, OpChangeUsername, &ChangeUsernameRequest{
		UserID:      userID.String(),
		NewUsername: newUsername,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetUserState reads the user's canonical record.
func (g *GameClient) GetUserState(ctx context.Context, userID uuid.UUID) (*GetUserStateResponse, error) {
	var resp GetUserStateResponse
	err := g.router.ForUser(userID).Call(ctx, OpGetUserState, &GetUserStateRequest{
		UserID: userID.String(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenSession opens or resumes the user's play session.
func (g *GameClient) OpenSession(ctx context.Context, userID uuid.UUID, chatID int64) (*OpenSessionResponse, error) {
	var resp OpenSessionResponse
	err := g.router.ForUser(userID).Call(ctx, OpOpenSession, &OpenSessionRequest{
		UserID: userID.String(),
		ChatID: chatID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat refreshes a session's liveness.
func (g *GameClient) Heartbeat(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) error {
	return g.router.ForUser(userID).Call(ctx, OpHeartbeatSession, &HeartbeatSessionRequest{
		SessionID: sessionID.String(),
	}, &HeartbeatSessionResponse{})
}

// CloseSession ends a session.
func (g *GameClient) CloseSession(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID, reason string) error {
	return g.router.ForUser(userID).Call(ctx, OpCloseSession, &CloseSessionRequest{
		SessionID: sessionID.String(),
		Reason:    reason,
	}, &CloseSessionResponse{})
}

// LeaderboardClient is the edge's typed view of the ranker.
type LeaderboardClient struct {
	client *Client
}

// NewLeaderboardClient wraps a client pool pointed at the ranker.
func NewLeaderboardClient(client *Client) *LeaderboardClient {
	return &LeaderboardClient{client: client}
}

// Close closes the underlying pool.
func (l *LeaderboardClient) Close() {
	l.client.Close()
}

// GetRank reads a user's published rank and total.
func (l *LeaderboardClient) GetRank(ctx context.Context, userID uuid.UUID) (*GetRankResponse, error) {
	var resp GetRankResponse
	if err := l.client.Call(ctx, OpGetRank, &GetRankRequest{UserID: userID.String()}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTopK reads the published leaderboard snapshot.
func (l *LeaderboardClient) GetTopK(ctx context.Context, limit int) (*GetTopKResponse, error) {
	var resp GetTopKResponse
	if err := l.client.Call(ctx, OpGetTopK, &GetTopKRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
