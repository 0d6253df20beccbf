package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"clicker-backend/internal/domain"
	"clicker-backend/pkg/database"
)

type LeaderboardRepository struct {
	db *database.PostgresDB
}

func NewLeaderboardRepository(db *database.PostgresDB) *LeaderboardRepository {
	return &LeaderboardRepository{db: db}
}

// Refresh recomputes the leaderboard materialized view. Readers keep
// seeing the previous version while the refresh runs.
func (r *LeaderboardRepository) Refresh(ctx context.Context) error {
	if err := r.db.RefreshLeaderboardView(ctx); err != nil {
		return fmt.Errorf("failed to refresh leaderboard view: %w", err)
	}
	return nil
}

// TopK returns the first limit entries of the ranked window, best first.
func (r *LeaderboardRepository) TopK(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT rank, user_id, username, total_clicks
		FROM leaderboard_top_1000
		ORDER BY rank ASC, user_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var e domain.LeaderboardEntry
		var userID uuid.UUID
		if err := rows.Scan(&e.Rank, &userID, &e.Username, &e.TotalClicks); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		e.UserID = userID.String()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	return entries, nil
}

// UserRank returns a user's rank within the ranked window. found is false
// for users outside it.
func (r *LeaderboardRepository) UserRank(ctx context.Context, userID uuid.UUID) (uint32, int64, bool, error) {
	var rank uint32
	var total int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT rank, total_clicks
		FROM leaderboard_top_1000
		WHERE user_id = $1
	`, userID).Scan(&rank, &total)
	if err == pgx.ErrNoRows {
		return domain.RankUnranked, 0, false, nil
	}
	if err != nil {
		return domain.RankUnranked, 0, false, fmt.Errorf("failed to query user rank: %w", err)
	}
	return rank, total, true, nil
}

// CountRanked returns the number of users in the ranked window.
func (r *LeaderboardRepository) CountRanked(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM leaderboard_top_1000").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ranked users: %w", err)
	}
	return count, nil
}
