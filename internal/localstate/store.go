// Package localstate persists CLI-side sync state in a local SQLite
// database: run history for offline inspection and the sync watermark.
package localstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/veridesk/veridesk/internal/models"
)

// ErrRunNotFound is returned when a requested run does not exist.
var ErrRunNotFound = errors.New("sync run not found")

const lastSyncKey = "last_successful_sync"

// Store is a SQLite-backed cache of sync runs and state, local to the
// machine running the CLI.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the state database in the given config
// directory.
func NewStore(configDir string, logger zerolog.Logger) (*Store, error) {
	dbPath := filepath.Join(configDir, "state.db")

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger.With().Str("component", "localstate").Logger(),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store.logger.Debug().Str("path", dbPath).Msg("state database initialized")

	return store, nil
}

// migrate creates the necessary tables.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			triggered_by TEXT NOT NULL,
			mode TEXT NOT NULL,
			success INTEGER NOT NULL,
			total_fetched INTEGER NOT NULL DEFAULT 0,
			created_count INTEGER NOT NULL DEFAULT 0,
			updated_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			duplicates_detected INTEGER NOT NULL DEFAULT 0,
			duplicates_consolidated INTEGER NOT NULL DEFAULT 0,
			errors TEXT,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);

		CREATE TABLE IF NOT EXISTS state_metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordRun stores a completed sync run. A successful run also advances
// the watermark.
func (s *Store) RecordRun(ctx context.Context, run *models.SyncRun) error {
	var errorsJSON sql.NullString
	if len(run.Errors) > 0 {
		data, err := json.Marshal(run.Errors)
		if err != nil {
			return fmt.Errorf("marshal run errors: %w", err)
		}
		errorsJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO sync_runs (id, triggered_by, mode, success, total_fetched, created_count, updated_count, failed_count, duplicates_detected, duplicates_consolidated, errors, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID.String(),
		string(run.Trigger),
		string(run.Mode),
		boolToInt(run.Success),
		run.TotalFetched,
		run.Created,
		run.Updated,
		run.Failed,
		run.DuplicatesDetected,
		run.DuplicatesConsolidated,
		errorsJSON,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}

	if run.Success {
		if err := s.SetLastSyncTime(ctx, run.StartedAt); err != nil {
			s.logger.Warn().Err(err).Msg("failed to advance sync watermark")
		}
	}

	return nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	query := `
		SELECT id, triggered_by, mode, success, total_fetched, created_count, updated_count, failed_count, duplicates_detected, duplicates_consolidated, errors, started_at, duration_ms
		FROM sync_runs
		WHERE id = ?
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns up to limit recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, triggered_by, mode, success, total_fetched, created_count, updated_count, failed_count, duplicates_detected, duplicates_consolidated, errors, started_at, duration_ms
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}

	return runs, nil
}

// LastRun returns the most recent run, or ErrRunNotFound when the history
// is empty.
func (s *Store) LastRun(ctx context.Context) (*models.SyncRun, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return runs[0], nil
}

// GetLastSyncTime returns the watermark of the last successful run, or nil
// when no successful run has been recorded.
func (s *Store) GetLastSyncTime(ctx context.Context) (*time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM state_metadata WHERE key = ?`, lastSyncKey,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sync watermark: %w", err)
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("parse sync watermark %q: %w", value, err)
	}
	return &t, nil
}

// SetLastSyncTime advances the watermark.
func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	query := `
		INSERT INTO state_metadata (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, lastSyncKey, t.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("set sync watermark: %w", err)
	}
	return nil
}

// Prune removes runs older than the given duration, returning how many
// were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sync runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return int(affected), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.SyncRun, error) {
	var (
		run        models.SyncRun
		id         string
		trigger    string
		mode       string
		success    int
		errorsJSON sql.NullString
		startedAt  string
		durationMS int64
	)

	err := row.Scan(
		&id,
		&trigger,
		&mode,
		&success,
		&run.TotalFetched,
		&run.Created,
		&run.Updated,
		&run.Failed,
		&run.DuplicatesDetected,
		&run.DuplicatesConsolidated,
		&errorsJSON,
		&startedAt,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	run.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", id, err)
	}
	run.Trigger = models.SyncTrigger(trigger)
	run.Mode = models.SyncMode(mode)
	run.Success = success != 0
	run.Duration = time.Duration(durationMS) * time.Millisecond

	run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse run started_at %q: %w", startedAt, err)
	}

	if errorsJSON.Valid {
		if err := json.Unmarshal([]byte(errorsJSON.String), &run.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal run errors: %w", err)
		}
	}

	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
