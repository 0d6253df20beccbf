// Package session manages play session lifecycle: open or resume, keep
// alive, close, and sweep the abandoned.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/logger"
)

// Store is the persistence surface the service needs.
type Store interface {
	ActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.Session, error)
	ReplaceActive(ctx context.Context, userID uuid.UUID, chatID int64) (*domain.Session, error)
	UpdateHeartbeat(ctx context.Context, id uuid.UUID) error
	End(ctx context.Context, id uuid.UUID) error
	SweepExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

type Service struct {
	store           Store
	reconnectWindow time.Duration
	idleTimeout     time.Duration
	log             *logger.Logger
}

func NewService(store Store, reconnectWindow, idleTimeout time.Duration, log *logger.Logger) *Service {
	return &Service{
		store:           store,
		reconnectWindow: reconnectWindow,
		idleTimeout:     idleTimeout,
		log:             log,
	}
}

// OpenOrResume returns the user's session. An active session whose
// heartbeat is still within the reconnect window is resumed with its click
// count intact; otherwise any prior session is closed and a fresh one
// opened. The second return reports a resume.
func (s *Service) OpenOrResume(ctx context.Context, userID uuid.UUID, chatID int64) (*domain.Session, bool, error) {
	active, err := s.store.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if active != nil && active.HeartbeatFresh(time.Now(), s.reconnectWindow) {
		if err := s.store.UpdateHeartbeat(ctx, active.ID); err != nil {
			return nil, false, err
		}
		return active, true, nil
	}

	sess, err := s.store.ReplaceActive(ctx, userID, chatID)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

// Heartbeat refreshes a session's liveness.
func (s *Service) Heartbeat(ctx context.Context, sessionID uuid.UUID) error {
	return s.store.UpdateHeartbeat(ctx, sessionID)
}

// Close ends a session. reason is recorded in logs only.
func (s *Service) Close(ctx context.Context, sessionID uuid.UUID, reason string) error {
	if err := s.store.End(ctx, sessionID); err != nil {
		return err
	}
	s.log.WithFields(map[string]interface{}{
		"session_id": sessionID.String(),
		"reason":     reason,
	}).Debug("session closed")
	return nil
}

// SweepExpired closes sessions idle beyond the timeout.
func (s *Service) SweepExpired(ctx context.Context) error {
	closed, err := s.store.SweepExpired(ctx, time.Now().Add(-s.idleTimeout))
	if err != nil {
		return err
	}
	if closed > 0 {
		s.log.WithField("closed", closed).Info("swept expired sessions")
	}
	return nil
}
