package aggregator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"clicker-backend/internal/repository"
	"clicker-backend/pkg/database"
)

// StoreFlusher applies accumulated deltas to Postgres. User and session
// updates share one transaction so a partial flush can never split the two
// counters.
type StoreFlusher struct {
	db       *database.PostgresDB
	users    *repository.UserRepository
	sessions *repository.SessionRepository
}

func NewStoreFlusher(db *database.PostgresDB, users *repository.UserRepository, sessions *repository.SessionRepository) *StoreFlusher {
	return &StoreFlusher{db: db, users: users, sessions: sessions}
}

// ApplyDeltas implements FlushTarget.
func (f *StoreFlusher) ApplyDeltas(ctx context.Context, users map[uuid.UUID]int64, sessions map[uuid.UUID]int32) (map[uuid.UUID]int64, error) {
	tx, err := f.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin flush transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	totals, err := f.users.BulkIncrementClicks(ctx, tx, users)
	if err != nil {
		return nil, err
	}
	if err := f.sessions.BulkIncrementClicks(ctx, tx, sessions); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit flush transaction: %w", err)
	}
	return totals, nil
}

// TotalClicks implements TotalLoader.
func (f *StoreFlusher) TotalClicks(ctx context.Context, userID uuid.UUID) (int64, error) {
	user, err := f.users.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.TotalClicks, nil
}
