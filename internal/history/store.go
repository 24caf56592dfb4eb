// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history provides durable chat message persistence for aichat.
//
// Messages are stored in a SQLite database and replayed on startup. The
// store also answers the aggregate queries the expense view needs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	model_id   TEXT NOT NULL DEFAULT '',
	tokens     INTEGER,
	cost       REAL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
`

// =============================================================================
// TYPES
// =============================================================================

// Record is one persisted chat message.
type Record struct {
	ID        string
	Role      string // "user" or "assistant"
	Content   string
	ModelID   string
	Tokens    *int
	Cost      *float64
	CreatedAt time.Time
}

// Statistics aggregates the stored history.
type Statistics struct {
	TotalMessages     int
	UserMessages      int
	AssistantMessages int
	TotalTokens       int64
	TotalCost         float64
}

// DailyCost is the per-day cost roll-up used by the expense aggregator.
type DailyCost struct {
	Date  time.Time // midnight UTC
	Cost  float64
	Turns int // costed assistant messages that day
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history store is closed")

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed message store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY churn entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// =============================================================================
// WRITES
// =============================================================================

// SaveMessage appends one message to the store.
func (s *Store) SaveMessage(ctx context.Context, rec Record) error {
	if s.db == nil {
		return ErrClosed
	}

	var tokens sql.NullInt64
	if rec.Tokens != nil {
		tokens = sql.NullInt64{Int64: int64(*rec.Tokens), Valid: true}
	}
	var cost sql.NullFloat64
	if rec.Cost != nil {
		cost = sql.NullFloat64{Float64: *rec.Cost, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, role, content, model_id, tokens, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Role, rec.Content, rec.ModelID, tokens, cost,
		rec.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Clear removes all stored messages.
func (s *Store) Clear(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Messages returns all stored messages in chronological order.
func (s *Store) Messages(ctx context.Context) ([]Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, model_id, tokens, cost, created_at
		 FROM messages ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec    Record
			tokens sql.NullInt64
			cost   sql.NullFloat64
			millis int64
		)
		if err := rows.Scan(&rec.ID, &rec.Role, &rec.Content, &rec.ModelID, &tokens, &cost, &millis); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if tokens.Valid {
			v := int(tokens.Int64)
			rec.Tokens = &v
		}
		if cost.Valid {
			v := cost.Float64
			rec.Cost = &v
		}
		rec.CreatedAt = time.UnixMilli(millis).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Statistics returns aggregate counts over the stored history.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	if s.db == nil {
		return stats, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN role = 'assistant' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(tokens), 0),
		       COALESCE(SUM(cost), 0)
		FROM messages`)
	if err := row.Scan(&stats.TotalMessages, &stats.UserMessages,
		&stats.AssistantMessages, &stats.TotalTokens, &stats.TotalCost); err != nil {
		return stats, fmt.Errorf("failed to compute statistics: %w", err)
	}
	return stats, nil
}

// DailyCosts returns per-day cost sums for the last `days` days, oldest
// first. Days with no costed messages are omitted.
func (s *Store) DailyCosts(ctx context.Context, days int) ([]DailyCost, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	since := time.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
		SELECT date(created_at / 1000, 'unixepoch'),
		       COALESCE(SUM(cost), 0),
		       COUNT(*)
		FROM messages
		WHERE cost IS NOT NULL AND created_at >= ?
		GROUP BY 1
		ORDER BY 1 ASC`,
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily costs: %w", err)
	}
	defer rows.Close()

	var result []DailyCost
	for rows.Next() {
		var (
			day   string
			daily DailyCost
		)
		if err := rows.Scan(&day, &daily.Cost, &daily.Turns); err != nil {
			return nil, fmt.Errorf("failed to scan daily cost: %w", err)
		}
		date, err := time.ParseInLocation("2006-01-02", day, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse day %q: %w", day, err)
		}
		daily.Date = date
		result = append(result, daily)
	}
	return result, rows.Err()
}
