package gamelog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const createTable = `CREATE TABLE IF NOT EXISTS limbot_games (
    id          BIGSERIAL PRIMARY KEY,
    game_id     TEXT NOT NULL,
    bot_color   TEXT NOT NULL,
    played_at   TIMESTAMPTZ NOT NULL,
    winner      TEXT,
    end_by      TEXT NOT NULL,
    clock_white INTEGER NOT NULL,
    clock_black INTEGER NOT NULL,
    opening     TEXT NOT NULL DEFAULT '',
    pgn         TEXT NOT NULL DEFAULT ''
)`

// PostgresStore keeps one row per game.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	var winner sql.NullString
	if e.Result.Winner != nil {
		winner = sql.NullString{String: *e.Result.Winner, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO limbot_games (game_id, bot_color, played_at, winner, end_by, clock_white, clock_black, opening, pgn)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.GameID, e.BotColor, e.Time, winner, e.Result.EndBy, e.ClockOnEnd.White, e.ClockOnEnd.Black, e.Opening, e.PGN,
	)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT game_id, bot_color, played_at, winner, end_by, clock_white, clock_black, opening, pgn
         FROM limbot_games ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			winner sql.NullString
		)
		if err := rows.Scan(&e.GameID, &e.BotColor, &e.Time, &winner, &e.Result.EndBy,
			&e.ClockOnEnd.White, &e.ClockOnEnd.Black, &e.Opening, &e.PGN); err != nil {
			return nil, err
		}
		if winner.Valid {
			w := winner.String
			e.Result.Winner = &w
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
