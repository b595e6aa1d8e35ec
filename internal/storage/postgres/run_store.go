// Package postgres provides a Postgres-backed run ledger.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/docsearch-stager/internal/stager"
)

const defaultTable = "staging_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the run ledger.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore upserts run rows into Postgres.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	live_index    TEXT NOT NULL,
	staging_index TEXT NOT NULL,
	state         TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	error_text    TEXT NOT NULL DEFAULT '',
	counters      JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SaveRun inserts or replaces the row for run.ID.
func (s *RunStore) SaveRun(ctx context.Context, run stager.Run) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	live_index,
	staging_index,
	state,
	started_at,
	updated_at,
	finished_at,
	error_text,
	counters
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state,
	updated_at = EXCLUDED.updated_at,
	finished_at = EXCLUDED.finished_at,
	error_text = EXCLUDED.error_text,
	counters = EXCLUDED.counters`, s.table)

	args := []any{
		run.ID,
		run.LiveIndex,
		run.StagingIndex,
		string(run.State),
		run.Started,
		run.Updated,
		run.Finished,
		run.ErrorText,
		counters,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// GetRun loads a run by ID.
func (s *RunStore) GetRun(ctx context.Context, id string) (stager.Run, error) {
	if s == nil || s.pool == nil {
		return stager.Run{}, fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, live_index, staging_index, state, started_at, updated_at, finished_at, error_text, counters
FROM %s WHERE id = $1`, s.table)

	var (
		run      stager.Run
		state    string
		counters []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.LiveIndex,
		&run.StagingIndex,
		&state,
		&run.Started,
		&run.Updated,
		&run.Finished,
		&run.ErrorText,
		&counters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return stager.Run{}, fmt.Errorf("get run %s: %w", id, stager.ErrRunNotFound)
	}
	if err != nil {
		return stager.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	run.State = stager.RunState(state)
	if err := json.Unmarshal(counters, &run.Counters); err != nil {
		return stager.Run{}, fmt.Errorf("decode counters: %w", err)
	}
	return run, nil
}
