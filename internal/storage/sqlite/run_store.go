// Package sqlite provides a run ledger on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/docsearch-stager/internal/stager"
)

const schema = `
CREATE TABLE IF NOT EXISTS staging_runs (
	id            TEXT PRIMARY KEY,
	live_index    TEXT NOT NULL,
	staging_index TEXT NOT NULL,
	state         TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	finished_at   TEXT,
	error_text    TEXT NOT NULL DEFAULT '',
	counters      TEXT NOT NULL
)`

// Config captures the SQLite ledger location.
type Config struct {
	// Path is the database file, or ":memory:".
	Path string `mapstructure:"path"`
}

// RunStore persists runs in SQLite.
type RunStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema.
func Open(cfg Config) (*RunStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	memory := cfg.Path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{"PRAGMA busy_timeout = 10000", "PRAGMA synchronous = NORMAL"}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range append(pragmas, schema) {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &RunStore{db: db}, nil
}

// Close closes the database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces the row for run.ID.
func (s *RunStore) SaveRun(ctx context.Context, run stager.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	var finished sql.NullString
	if run.Finished != nil {
		finished = sql.NullString{String: formatTime(*run.Finished), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO staging_runs (id, live_index, staging_index, state, started_at, updated_at, finished_at, error_text, counters)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	state = excluded.state,
	updated_at = excluded.updated_at,
	finished_at = excluded.finished_at,
	error_text = excluded.error_text,
	counters = excluded.counters`,
		run.ID, run.LiveIndex, run.StagingIndex, string(run.State),
		formatTime(run.Started), formatTime(run.Updated), finished, run.ErrorText, string(counters),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// GetRun loads a run by ID.
func (s *RunStore) GetRun(ctx context.Context, id string) (stager.Run, error) {
	var (
		run                     stager.Run
		state, started, updated string
		counters                string
		finished                sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, live_index, staging_index, state, started_at, updated_at, finished_at, error_text, counters
FROM staging_runs WHERE id = ?`, id).Scan(
		&run.ID, &run.LiveIndex, &run.StagingIndex, &state, &started, &updated, &finished, &run.ErrorText, &counters,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return stager.Run{}, fmt.Errorf("get run %s: %w", id, stager.ErrRunNotFound)
	}
	if err != nil {
		return stager.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}

	run.State = stager.RunState(state)
	if run.Started, err = parseTime(started); err != nil {
		return stager.Run{}, err
	}
	if run.Updated, err = parseTime(updated); err != nil {
		return stager.Run{}, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return stager.Run{}, err
		}
		run.Finished = &t
	}
	if err := json.Unmarshal([]byte(counters), &run.Counters); err != nil {
		return stager.Run{}, fmt.Errorf("decode counters: %w", err)
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
