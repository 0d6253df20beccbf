package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	if len(os.Args) < 2 {
		fmt.Println("Usage: go run main.go [up|drop|seed]")
		os.Exit(1)
	}
	command := os.Args[1]

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	switch command {
	case "up":
		if err := createTables(ctx, conn); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Println("✅ Schema created successfully")

	case "drop":
		if err := dropTables(ctx, conn); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		fmt.Println("✅ Schema dropped successfully")

	case "seed":
		if err := seedData(ctx, conn); err != nil {
			log.Fatalf("Failed to seed data: %v", err)
		}
		fmt.Println("✅ Data seeded successfully")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Usage: go run main.go [up|drop|seed]")
		os.Exit(1)
	}
}

func createTables(ctx context.Context, conn *pgx.Conn) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			external_chat_id BIGINT UNIQUE NOT NULL,
			username VARCHAR(20) NOT NULL,
			total_clicks BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			chat_id BIGINT NOT NULL,
			message_id INTEGER,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			total_clicks INTEGER NOT NULL DEFAULT 0
		)`,

		// Partial index keeps active-session lookups cheap no matter how
		// much history accumulates.
		`CREATE INDEX IF NOT EXISTS idx_sessions_active_user
			ON sessions (user_id, started_at DESC, id DESC)
			WHERE is_active = TRUE`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_active_heartbeat
			ON sessions (last_heartbeat)
			WHERE is_active = TRUE`,

		// Same predicate as the view, so zero-click rows never enter the
		// index the rebuild scans.
		`CREATE INDEX IF NOT EXISTS idx_users_total_clicks
			ON users (total_clicks DESC)
			WHERE total_clicks > 0`,

		`CREATE MATERIALIZED VIEW IF NOT EXISTS leaderboard_top_1000 AS
			SELECT
				DENSE_RANK() OVER (ORDER BY total_clicks DESC) AS rank,
				id AS user_id,
				username,
				total_clicks
			FROM users
			WHERE total_clicks > 0
			ORDER BY total_clicks DESC
			LIMIT 1000`,

		// Unique index required for REFRESH CONCURRENTLY.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_leaderboard_user
			ON leaderboard_top_1000 (user_id)`,
	}

	for _, query := range queries {
		if _, err := conn.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

func dropTables(ctx context.Context, conn *pgx.Conn) error {
	queries := []string{
		`DROP MATERIALIZED VIEW IF EXISTS leaderboard_top_1000 CASCADE`,
		`DROP TABLE IF EXISTS sessions CASCADE`,
		`DROP TABLE IF EXISTS users CASCADE`,
	}

	for _, query := range queries {
		if _, err := conn.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
		fmt.Printf("  Dropped: %s\n", query)
	}
	return nil
}

func seedData(ctx context.Context, conn *pgx.Conn) error {
	// Development fixtures only.
	for i := 1; i <= 50; i++ {
		_, err := conn.Exec(ctx, `
			INSERT INTO users (id, external_chat_id, username, total_clicks)
			VALUES (gen_random_uuid(), $1, $2, $3)
			ON CONFLICT (external_chat_id) DO NOTHING
		`, int64(1000+i), fmt.Sprintf("player_%d", i), int64(i*137))
		if err != nil {
			return fmt.Errorf("failed to seed user %d: %w", i, err)
		}
	}
	if _, err := conn.Exec(ctx, "REFRESH MATERIALIZED VIEW leaderboard_top_1000"); err != nil {
		return fmt.Errorf("failed to refresh leaderboard: %w", err)
	}
	return nil
}
