package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/database"
)

type SessionRepository struct {
	db *database.PostgresDB
}

func NewSessionRepository(db *database.PostgresDB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	id, user_id, chat_id, message_id, started_at, last_heartbeat,
	ended_at, is_active, total_clicks
`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ChatID,
		&s.MessageID,
		&s.StartedAt,
		&s.LastHeartbeat,
		&s.EndedAt,
		&s.IsActive,
		&s.TotalClicks,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ActiveForUser returns the user's most recent active session, or nil when
// there is none. The id tie-break keeps the choice deterministic when two
// sessions share a start timestamp.
func (r *SessionRepository) ActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, sessionColumns)

	s, err := scanSession(r.db.Pool.QueryRow(ctx, query, userID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return s, nil
}

// Get returns a session by id or ErrSessionNotFound.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE id = $1", sessionColumns)

	s, err := scanSession(r.db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ReplaceActive closes any active sessions for the user and opens a fresh
// one, in one transaction. A user never holds two active sessions.
func (r *SessionRepository) ReplaceActive(ctx context.Context, userID uuid.UUID, chatID int64) (*domain.Session, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin session transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE sessions
		SET is_active = FALSE, ended_at = NOW()
		WHERE user_id = $1 AND is_active = TRUE
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to close prior sessions: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO sessions (id, user_id, chat_id, started_at, last_heartbeat, is_active, total_clicks)
		VALUES ($1, $2, $3, NOW(), NOW(), TRUE, 0)
		RETURNING %s
	`, sessionColumns)

	s, err := scanSession(tx.QueryRow(ctx, query, uuid.New(), userID, chatID))
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit session transaction: %w", err)
	}
	return s, nil
}

// UpdateHeartbeat refreshes a session's liveness marker. Fails with
// ErrSessionInactive when the session exists but is already closed.
func (r *SessionRepository) UpdateHeartbeat(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE sessions
		SET last_heartbeat = NOW()
		WHERE id = $1 AND is_active = TRUE
	`, id)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrSessionInactive
	}
	return nil
}

// End closes a session. Ending an already-closed session is a no-op.
func (r *SessionRepository) End(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE sessions
		SET is_active = FALSE, ended_at = NOW()
		WHERE id = $1 AND is_active = TRUE
	`, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// BulkIncrementClicks applies per-session deltas in one statement. The
// heartbeat moves with the clicks: a session receiving batches is alive.
func (r *SessionRepository) BulkIncrementClicks(ctx context.Context, q database.Querier, deltas map[uuid.UUID]int32) error {
	if len(deltas) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(deltas)*2)
	i := 0
	for id, delta := range deltas {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d::uuid, $%d::int)", i*2+1, i*2+2)
		args = append(args, id, delta)
		i++
	}

	query := fmt.Sprintf(`
		UPDATE sessions AS s
		SET total_clicks = s.total_clicks + v.increment,
		    last_heartbeat = NOW()
		FROM (VALUES %s) AS v(id, increment)
		WHERE s.id = v.id
	`, sb.String())

	if _, err := q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to bulk increment session clicks: %w", err)
	}
	return nil
}

// SweepExpired closes active sessions whose heartbeat is older than the
// cutoff. Returns the number of sessions closed.
func (r *SessionRepository) SweepExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE sessions
		SET is_active = FALSE, ended_at = NOW()
		WHERE is_active = TRUE AND last_heartbeat < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountActive returns the number of active sessions.
func (r *SessionRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM sessions WHERE is_active = TRUE").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}
