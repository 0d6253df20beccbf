package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/database"
)

const uniqueViolation = "23505"

type UserRepository struct {
	db *database.PostgresDB
}

func NewUserRepository(db *database.PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user. Returns ErrUserExists on a duplicate external
// chat id so callers can fall back to a re-read.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, external_chat_id, username, total_clicks)
		VALUES ($1, $2, $3, 0)
		RETURNING total_clicks, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query, user.ID, user.ExternalChatID, user.Username).
		Scan(&user.TotalClicks, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// ErrUserExists signals a unique violation on insert. The caller re-reads
// the winning row instead of failing the request.
var ErrUserExists = errors.New("user already exists")

// GetByExternalChatID returns the user for a chat id, or nil when absent.
func (r *UserRepository) GetByExternalChatID(ctx context.Context, chatID int64) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT id, external_chat_id, username, total_clicks, created_at, updated_at
		FROM users
		WHERE external_chat_id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, chatID).Scan(
		&user.ID,
		&user.ExternalChatID,
		&user.Username,
		&user.TotalClicks,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by chat id: %w", err)
	}
	return &user, nil
}

// GetByID returns the user or ErrUserNotFound.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT id, external_chat_id, username, total_clicks, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.ExternalChatID,
		&user.Username,
		&user.TotalClicks,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateUsername sets a user's display name.
func (r *UserRepository) UpdateUsername(ctx context.Context, id uuid.UUID, username string) error {
	query := `
		UPDATE users
		SET username = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, username)
	if err != nil {
		return fmt.Errorf("failed to update username: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// BulkIncrementClicks applies a map of per-user deltas in one statement and
// returns the resulting totals. Runs on whatever Querier the caller holds,
// normally a flush transaction.
func (r *UserRepository) BulkIncrementClicks(ctx context.Context, q database.Querier, deltas map[uuid.UUID]int64) (map[uuid.UUID]int64, error) {
	if len(deltas) == 0 {
		return map[uuid.UUID]int64{}, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(deltas)*2)
	i := 0
	for id, delta := range deltas {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d::uuid, $%d::bigint)", i*2+1, i*2+2)
		args = append(args, id, delta)
		i++
	}

	query := fmt.Sprintf(`
		UPDATE users AS u
		SET total_clicks = u.total_clicks + v.increment,
		    updated_at = NOW()
		FROM (VALUES %s) AS v(id, increment)
		WHERE u.id = v.id
		RETURNING u.id, u.total_clicks
	`, sb.String())

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk increment clicks: %w", err)
	}
	defer rows.Close()

	totals := make(map[uuid.UUID]int64, len(deltas))
	for rows.Next() {
		var id uuid.UUID
		var total int64
		if err := rows.Scan(&id, &total); err != nil {
			return nil, fmt.Errorf("failed to scan updated total: %w", err)
		}
		totals[id] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read updated totals: %w", err)
	}
	return totals, nil
}

// CountUsers returns the total number of registered users.
func (r *UserRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
