package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/logger"
)

// fakeSessionStore keeps sessions in memory with the same semantics the
// Postgres repository provides.
type fakeSessionStore struct {
	sessions map[uuid.UUID]*domain.Session
	now      func() time.Time
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[uuid.UUID]*domain.Session),
		now:      time.Now,
	}
}

func (f *fakeSessionStore) ActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.Session, error) {
	var best *domain.Session
	for _, s := range f.sessions {
		if s.UserID != userID || !s.IsActive {
			continue
		}
		if best == nil || s.StartedAt.After(best.StartedAt) {
			best = s
		}
	}
	return best, nil
}

func (f *fakeSessionStore) ReplaceActive(ctx context.Context, userID uuid.UUID, chatID int64) (*domain.Session, error) {
	now := f.now()
	for _, s := range f.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			ended := now
			s.EndedAt = &ended
		}
	}
	sess := &domain.Session{
		ID:            uuid.New(),
		UserID:        userID,
		ChatID:        chatID,
		StartedAt:     now,
		LastHeartbeat: now,
		IsActive:      true,
	}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeSessionStore) UpdateHeartbeat(ctx context.Context, id uuid.UUID) error {
	s, ok := f.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !s.IsActive {
		return domain.ErrSessionInactive
	}
	s.LastHeartbeat = f.now()
	return nil
}

func (f *fakeSessionStore) End(ctx context.Context, id uuid.UUID) error {
	if s, ok := f.sessions[id]; ok && s.IsActive {
		s.IsActive = false
		ended := f.now()
		s.EndedAt = &ended
	}
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessionStore) SweepExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	var closed int64
	for _, s := range f.sessions {
		if s.IsActive && s.LastHeartbeat.Before(olderThan) {
			s.IsActive = false
			closed++
		}
	}
	return closed, nil
}

func newTestService(t *testing.T, store Store) *Service {
	log, err := logger.New("error")
	require.NoError(t, err)
	return NewService(store, time.Minute, 90*time.Second, log)
}

func TestOpenCreatesSession(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestService(t, store)
	userID := uuid.New()

	sess, resumed, err := svc.OpenOrResume(context.Background(), userID, 42)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.True(t, sess.IsActive)
	assert.Equal(t, userID, sess.UserID)
	assert.Equal(t, int64(42), sess.ChatID)
}

func TestOpenResumesFreshSession(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestService(t, store)
	userID := uuid.New()
	ctx := context.Background()

	first, _, err := svc.OpenOrResume(ctx, userID, 42)
	require.NoError(t, err)
	first.TotalClicks = 33

	second, resumed, err := svc.OpenOrResume(ctx, userID, 42)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(33), second.TotalClicks)
}

func TestOpenReplacesStaleSession(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestService(t, store)
	userID := uuid.New()
	ctx := context.Background()

	first, _, err := svc.OpenOrResume(ctx, userID, 42)
	require.NoError(t, err)

	// Heartbeat older than the reconnect window means no resume.
	first.LastHeartbeat = time.Now().Add(-2 * time.Minute)

	second, resumed, err := svc.OpenOrResume(ctx, userID, 42)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, store.sessions[first.ID].IsActive)
	assert.NotNil(t, store.sessions[first.ID].EndedAt)
}

func TestSingleActiveSessionInvariant(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestService(t, store)
	userID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sess, _, err := svc.OpenOrResume(ctx, userID, 42)
		require.NoError(t, err)
		sess.LastHeartbeat = time.Now().Add(-2 * time.Minute)
	}

	active := 0
	for _, s := range store.sessions {
		if s.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestHeartbeatOnClosedSession(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	sess, _, err := svc.OpenOrResume(ctx, uuid.New(), 1)
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, sess.ID, "test"))

	err = svc.Heartbeat(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrSessionInactive)
}

func TestCloseIsIdempotent(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	sess, _, err := svc.OpenOrResume(ctx, uuid.New(), 1)
	require.NoError(t, err)

	require.NoError(t, svc.Close(ctx, sess.ID, "first"))
	require.NoError(t, svc.Close(ctx, sess.ID, "second"))
}

func TestSweepClosesIdleSessions(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	idle, _, err := svc.OpenOrResume(ctx, uuid.New(), 1)
	require.NoError(t, err)
	idle.LastHeartbeat = time.Now().Add(-5 * time.Minute)

	fresh, _, err := svc.OpenOrResume(ctx, uuid.New(), 2)
	require.NoError(t, err)

	require.NoError(t, svc.SweepExpired(ctx))

	assert.False(t, store.sessions[idle.ID].IsActive)
	assert.True(t, store.sessions[fresh.ID].IsActive)
}
