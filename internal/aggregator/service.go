package aggregator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clicker-backend/internal/domain"
	"clicker-backend/internal/repository"
	"clicker-backend/internal/rpc"
	"clicker-backend/internal/session"
	"clicker-backend/internal/shard"
	"clicker-backend/pkg/logger"
	"clicker-backend/pkg/redis"
)

// Service exposes the aggregator's RPC surface: user identity, click
// ingestion, and session lifecycle for the shards this process owns.
type Service struct {
	acc      *Accumulator
	users    *repository.UserRepository
	sessions *session.Service
	cache    *redis.Client
	maxBatch uint32
	log      *logger.Logger
}

func NewService(acc *Accumulator, users *repository.UserRepository, sessions *session.Service, cache *redis.Client, maxBatch uint32, log *logger.Logger) *Service {
	return &Service{
		acc:      acc,
		users:    users,
		sessions: sessions,
		cache:    cache,
		maxBatch: maxBatch,
		log:      log,
	}
}

// Register wires the service's handlers onto the server.
func (s *Service) Register(srv *rpc.Server) {
	srv.Handle(rpc.OpPing, s.ping)
	srv.Handle(rpc.OpResolveUser, s.resolveUser)
	srv.Handle(rpc.OpSubmitClickBatch, s.submitClickBatch)
	srv.Handle(rpc.OpChangeUsername, s.changeUsername)
	srv.Handle(rpc.OpGetUserState, s.getUserState)
	srv.Handle(rpc.OpOpenSession, s.openSession)
	srv.Handle(rpc.OpHeartbeatSession, s.heartbeatSession)
	srv.Handle(rpc.OpCloseSession, s.closeSession)
}

func (s *Service) ping(ctx context.Context, decode func(any) error) (any, error) {
	return &rpc.PingResponse{}, nil
}

func (s *Service) resolveUser(ctx context.Context, decode func(any) error) (any, error) {
	var req rpc.ResolveUserRequest
	if err := decode(&req); err != nil {
		return nil, domain.Validationf("malformed request: %v", err)
	}
	if err := domain.ValidateUsername(req.Username); err != nil {
		return nil, err
	}

	user, err := s.users.GetByExternalChatID(ctx, req.ExternalChatID)
	if err != nil {
		return nil, err
	}
	created := false
	if user == nil {
		user = &domain.User{
			ID:             shard.UserIDForChat(req.ExternalChatID),
			ExternalChatID: req.ExternalChatID,
			Username:       req.Username,
		}
		err = s.users.Create(ctx, user)
		if err == repository.ErrUserExists {
			// Lost the race; the winner's row is canonical.
			user, err = s.users.GetByExternalChatID(ctx, req.ExternalChatID)
			if err == nil && user == nil {
				err = domain.ErrUserNotFound
			}
		} else if err == nil {
			created = true
		}
		if err != nil {
			return nil, err
		}
	}

	s.warmCache(ctx, user)

	return &rpc.ResolveUserResponse{
		UserID:      user.ID.String(),
		Username:    user.Username,
		TotalClicks: user.TotalClicks,
		Created:     created,
	}, nil
}

func (s *Service) submitClickBatch(ctx context.Context, decode func(any) error) (any, error) {
	var req rpc.SubmitClickBatchRequest
	if err := decode(&req); err != nil {
		return nil, domain.Validationf("malformed request: %v", err)
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, domain.Validationf("invalid user id")
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return nil, domain.Validationf("invalid session id")
	}
	if req.Count == 0 {
		return nil, domain.Validationf("click count must be positive")
	}
	if req.Count > s.maxBatch {
		return nil, domain.ErrRateLimited
	}

	total, err := s.acc.Submit(ctx, &domain.ClickBatch{
		UserID:      userID,
		SessionID:   sessionID,
		Count:       req.Count,
		SubmittedAt: time.UnixMilli(req.SubmittedAt),
	})
	if err != nil {
		return nil, err
	}
	return &rpc.SubmitClickBatchResponse{
		Accepted:    req.Count,
		TotalClicks: total,
	}, nil
}

func (s *Service) changeUsername(ctx context.Context, decode func(any) error) (any, error) {
	var req rpc.ChangeUsernameRequest
	if err := decode(&req); err != nil {
		return nil, domain.Validationf("malformed request: %v", err)
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, domain.Validationf("invalid user id")
	}
	if err := domain.ValidateUsername(req.NewUsername); err != nil {
		return nil, err
	}

	err = s.acc.SerializeUser(userID, func() error {
		if err := s.users.UpdateUsername(ctx, userID, req.NewUsername); err != nil {
			return err
		}
		if err := s.cache.SetUserMeta(ctx, userID.String(), req.NewUsername); err != nil {
			s.log.WithError(err).Warn("failed to update cached username")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rpc.ChangeUsernameResponse{Username: req.NewUsername}, nil
}

func (s *Service) getUserState(ctx context.Context, decode func(any) error) (any, error) {
	var req rpc.GetUserStateRequest
	if err := decode(&req); err != nil {
		return nil, domain.Validationf("malformed request: %v", err)
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, domain.Validationf("invalid user id")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	total, err := s.acc.Total(ctx, userID)
	if err != nil {
		total = user.TotalClicks
	}
	return &rpc.GetUserStateResponse{
		UserID:      user.ID.String(),
		Username:    user.Username,
		TotalClicks: total,
	}, nil
}

func (s *Service) openSession(ctx context.Context, decode func(any) error) (any, error) {
	var req rpc.OpenSessionRequest
	if err := decode(&req); err != nil {
		return nil, domain.Validationf("malformed request: %v", err)
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, domain.Validationf("invalid user id")
	}

	sess, resumed, err := s.sessions.OpenOrResume(ctx, userID, req.ChatID)
	if err != nil {
		return nil, err
	}
	return &rpc.OpenSessionResponse{
		SessionID:      sess.ID.String(),
		IsReconnection: resumed,
		StartedAt:      sess.StartedAt.UnixMilli(),
		SessionClicks:  sess.TotalClicks,
	}, nil
}

func (s *Service) heartbeatSession(ctx context.Context, decode func(any) error) (any, error) {
	var req rpc.HeartbeatSessionRequest
	if err := decode(&req); err != nil {
		return nil, domain.Validationf("malformed request: %v", err)
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return nil, domain.Validationf("invalid session id")
	}
	if err := s.sessions.Heartbeat(ctx, sessionID); err != nil {
		return nil, err
	}
	return &rpc.HeartbeatSessionResponse{}, nil
}

func (s *Service) closeSession(ctx context.Context, decode func(any) error) (any, error) {
	var req rpc.CloseSessionRequest
	if err := decode(&req); err != nil {
		return nil, domain.Validationf("malformed request: %v", err)
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return nil, domain.Validationf("invalid session id")
	}
	if err := s.sessions.Close(ctx, sessionID, req.Reason); err != nil {
		return nil, err
	}
	return &rpc.CloseSessionResponse{}, nil
}

// warmCache pushes the user's canonical name and durable total into the
// hot cache. Failures are logged, not surfaced.
func (s *Service) warmCache(ctx context.Context, user *domain.User) {
	if err := s.cache.SetUserMeta(ctx, user.ID.String(), user.Username); err != nil {
		s.log.WithError(err).Warn("failed to cache user meta")
		return
	}
	total, err := s.acc.Total(ctx, user.ID)
	if err != nil {
		total = user.TotalClicks
	}
	if err := s.cache.SetUserTotal(ctx, user.ID.String(), total); err != nil {
		s.log.WithError(err).Warn("failed to cache user total")
	}
}
