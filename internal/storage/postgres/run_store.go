// Package postgres keeps the run ledger in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
)

const defaultTable = "tdnet_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for ledger rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore writes one row per terminal run result.
type RunStore struct {
	pool  execCloser
	table string
}

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
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

// EnsureSchema creates the ledger table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id            TEXT PRIMARY KEY,
	run_date          DATE NOT NULL,
	status            TEXT NOT NULL,
	pages             INTEGER NOT NULL,
	rows_seen         INTEGER NOT NULL,
	accepted          INTEGER NOT NULL,
	succeeded         INTEGER NOT NULL,
	fetch_failed      INTEGER NOT NULL,
	upload_failed     INTEGER NOT NULL,
	page_errors       INTEGER NOT NULL,
	registry_degraded BOOLEAN NOT NULL,
	manifest_key      TEXT,
	started_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordRun inserts the ledger row for result. Re-recording a run ID is a no-op.
func (s *RunStore) RecordRun(ctx context.Context, result disclosure.RunResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if result.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	runDate, err := disclosure.ParseDate(result.Date, time.UTC)
	if err != nil {
		return fmt.Errorf("run date: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	run_date,
	status,
	pages,
	rows_seen,
	accepted,
	succeeded,
	fetch_failed,
	upload_failed,
	page_errors,
	registry_degraded,
	manifest_key,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (run_id) DO NOTHING`, s.table)

	var manifestKey *string
	if result.ManifestKey != "" {
		manifestKey = &result.ManifestKey
	}
	c := result.Counts
	args := []any{
		result.RunID,
		runDate,
		string(result.Status),
		c.Pages,
		c.Rows,
		c.Accepted,
		c.Succeeded,
		c.FetchFailed,
		c.UploadFailed,
		c.PageErrors,
		result.RegistryDegraded,
		manifestKey,
		result.StartedAt,
		result.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}
