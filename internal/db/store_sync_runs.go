package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/veridesk/veridesk/internal/models"
)

const syncRunColumns = `id, triggered_by, mode, success, total_fetched, created, updated,
	failed, duplicates_detected, duplicates_consolidated, errors, started_at, duration_ms`

// CreateSyncRun persists the summary of a completed sync invocation.
func (db *DB) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	var errorsJSON []byte
	if len(run.Errors) > 0 {
		data, err := json.Marshal(run.Errors)
		if err != nil {
			return fmt.Errorf("marshal sync run errors: %w", err)
		}
		errorsJSON = data
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO sync_runs (id, triggered_by, mode, success, total_fetched, created, updated,
			failed, duplicates_detected, duplicates_consolidated, errors, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, run.ID, string(run.Trigger), string(run.Mode), run.Success, run.TotalFetched,
		run.Created, run.Updated, run.Failed, run.DuplicatesDetected,
		run.DuplicatesConsolidated, errorsJSON, run.StartedAt, run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}
	return nil
}

// GetLastSyncRun returns the most recent sync run, or nil if none exist.
func (db *DB) GetLastSyncRun(ctx context.Context) (*models.SyncRun, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+syncRunColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT 1`)
	run, err := scanSyncRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get last sync run: %w", err)
	}
	return run, nil
}

// ListSyncRuns returns the most recent sync runs, newest first.
func (db *DB) ListSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+syncRunColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetSyncSuccessRate returns the fraction of successful runs among the last
// n runs, or -1 when no runs exist.
func (db *DB) GetSyncSuccessRate(ctx context.Context, n int) (float64, error) {
	if n <= 0 {
		n = 20
	}
	var total, succeeded int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE success)
		FROM (SELECT success FROM sync_runs ORDER BY started_at DESC LIMIT $1) recent
	`, n).Scan(&total, &succeeded)
	if err != nil {
		return 0, fmt.Errorf("get sync success rate: %w", err)
	}
	if total == 0 {
		return -1, nil
	}
	return float64(succeeded) / float64(total), nil
}

func scanSyncRun(row rowScanner) (*models.SyncRun, error) {
	var run models.SyncRun
	var trigger, mode string
	var errorsJSON []byte
	var durationMS int64

	err := row.Scan(&run.ID, &trigger, &mode, &run.Success, &run.TotalFetched,
		&run.Created, &run.Updated, &run.Failed, &run.DuplicatesDetected,
		&run.DuplicatesConsolidated, &errorsJSON, &run.StartedAt, &durationMS)
	if err != nil {
		return nil, err
	}

	run.Trigger = models.SyncTrigger(trigger)
	run.Mode = models.SyncMode(mode)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &run.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal sync run errors: %w", err)
		}
	}
	return &run, nil
}
