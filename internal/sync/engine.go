// Package sync implements the external license catalog synchronization engine.
//
// The engine reconciles the remote, paginated license catalog into the local
// system of record: fetch page, normalize, match-or-create, detect duplicates,
// consolidate, report. All recoverable failures are captured at the smallest
// possible scope (per page, per record, per duplicate group) and surfaced in
// the run result rather than aborting the run.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/veridesk/veridesk/internal/integrations/licensor"
	"github.com/veridesk/veridesk/internal/models"
)

// LicenseRepository is the local system of record for licenses.
type LicenseRepository interface {
	FindLicenseByAppID(ctx context.Context, appID string) (*models.License, error)
	FindLicenseByEmail(ctx context.Context, email string) (*models.License, error)
	FindLicenseByCountID(ctx context.Context, countID int) (*models.License, error)
	CreateLicense(ctx context.Context, lic *models.License) error
	UpdateLicenseFields(ctx context.Context, id uuid.UUID, changes models.LicenseChanges) (*models.License, error)
	DeleteLicense(ctx context.Context, id uuid.UUID) (bool, error)
	GetAllLicenses(ctx context.Context) ([]*models.License, error)
	CountLicenses(ctx context.Context) (int, error)
}

// RunStore persists sync run history. It is optional; a nil store disables
// history and the status success rate.
type RunStore interface {
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	GetLastSyncRun(ctx context.Context) (*models.SyncRun, error)
	GetSyncSuccessRate(ctx context.Context, n int) (float64, error)
}

// CatalogAPI is the remote license catalog collaborator.
type CatalogAPI interface {
	FetchPage(ctx context.Context, page, pageSize int) (*licensor.PageResult, error)
	TestConnectivity(ctx context.Context) *licensor.ConnectivityResult
}

// Options configures one sync invocation.
type Options struct {
	// Comprehensive selects the paginated full-catalog strategy and extends
	// duplicate detection to the whole local table. When false the single
	// bounded-batch legacy strategy is used.
	Comprehensive bool
	// Bidirectional is accepted for callers that request push-back; the
	// catalog API exposes no write surface so it is recorded and ignored.
	Bidirectional bool
	// DetectDuplicates enables the consolidation stage after matching.
	DetectDuplicates bool
	// ForceFullSync is accepted for callers that track an incremental
	// watermark; every run already walks the catalog from page 1, so it
	// is recorded and ignored.
	ForceFullSync bool
	// BatchSize is the page size requested from the catalog. Required.
	BatchSize int
	// Limit caps the total number of records fetched (0 = unlimited).
	Limit int
	// MaxPages caps the number of pages fetched (0 = unlimited).
	MaxPages int
	// Trigger identifies what started this run, for the run history.
	Trigger models.SyncTrigger
	// Observer receives per-page and per-record progress callbacks.
	Observer Observer
}

// RecordError captures a single page- or record-level failure.
type RecordError struct {
	AppID string `json:"appid,omitempty"`
	Err   string `json:"error"`
}

// Result is the summary of one sync invocation.
type Result struct {
	Success                bool          `json:"success"`
	TotalFetched           int           `json:"total_fetched"`
	Created                int           `json:"created"`
	Updated                int           `json:"updated"`
	Failed                 int           `json:"failed"`
	Duration               time.Duration `json:"duration"`
	DuplicatesDetected     int           `json:"duplicates_detected"`
	DuplicatesConsolidated int           `json:"duplicates_consolidated"`
	Errors                 []RecordError `json:"errors,omitempty"`
}

// Engine reconciles the remote catalog into the local repository.
type Engine struct {
	repo   LicenseRepository
	api    CatalogAPI
	runs   RunStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine creates a sync engine. The repository and catalog API are
// required; runs may be nil to disable run history.
func NewEngine(repo LicenseRepository, api CatalogAPI, runs RunStore, logger zerolog.Logger) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("sync engine: license repository is required")
	}
	if api == nil {
		return nil, errors.New("sync engine: catalog API is required")
	}
	return &Engine{
		repo:   repo,
		api:    api,
		runs:   runs,
		logger: logger.With().Str("component", "sync_engine").Logger(),
		now:    time.Now,
	}, nil
}

// accumulator carries the run tallies through the pipeline stages. It is
// local to one Execute call, keeping the engine re-entrant.
type accumulator struct {
	totalFetched           int
	created                int
	updated                int
	failed                 int
	duplicatesDetected     int
	duplicatesConsolidated int
	errors                 []RecordError
	// touched is every local record created or matched during this run, in
	// processing order, deduplicated by id. Input to duplicate detection.
	touched    []*models.License
	touchedIDs map[uuid.UUID]int
}

func newAccumulator() *accumulator {
	return &accumulator{touchedIDs: make(map[uuid.UUID]int)}
}

func (a *accumulator) addError(appID string, err error) {
	a.errors = append(a.errors, RecordError{AppID: appID, Err: err.Error()})
}

// touch records a local license as seen in this run, replacing any earlier
// snapshot of the same row with the fresher one.
func (a *accumulator) touch(lic *models.License) {
	if lic == nil {
		return
	}
	if i, ok := a.touchedIDs[lic.ID]; ok {
		a.touched[i] = lic
		return
	}
	a.touchedIDs[lic.ID] = len(a.touched)
	a.touched = append(a.touched, lic)
}

// Execute runs one synchronization against the catalog. Record- and
// page-level failures are reported in the result; the returned error is
// non-nil only for configuration problems or context cancellation.
func (e *Engine) Execute(ctx context.Context, opts Options) (*Result, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.New("sync engine: batch size must be positive")
	}
	if opts.Trigger == "" {
		opts.Trigger = models.SyncTriggerManual
	}

	strategy := selectStrategy(opts)
	start := e.now()

	e.logger.Info().
		Str("mode", string(strategy.Mode())).
		Int("batch_size", opts.BatchSize).
		Int("limit", opts.Limit).
		Int("max_pages", opts.MaxPages).
		Bool("detect_duplicates", opts.DetectDuplicates).
		Msg("starting catalog sync")

	if opts.Bidirectional {
		e.logger.Warn().Msg("bidirectional sync requested but the catalog API is read-only; ignoring")
	}
	if opts.ForceFullSync {
		e.logger.Debug().Msg("full sync forced; every run already walks the catalog from page 1")
	}

	acc := newAccumulator()

	fetchRes, err := strategy.Run(ctx, e.api, fetchOptions(opts), func(ctx context.Context, page int, records []licensor.Record) error {
		return e.processBatch(ctx, page, records, opts, acc)
	})
	for _, pe := range fetchRes.PageErrors {
		acc.addError("", pe.Err)
	}
	acc.totalFetched = fetchRes.TotalFetched

	if err == nil && opts.DetectDuplicates {
		err = e.consolidateDuplicates(ctx, opts.Comprehensive, acc)
	}

	result := &Result{
		Success:                !fetchRes.Aborted,
		TotalFetched:           acc.totalFetched,
		Created:                acc.created,
		Updated:                acc.updated,
		Failed:                 acc.failed,
		Duration:               e.now().Sub(start),
		DuplicatesDetected:     acc.duplicatesDetected,
		DuplicatesConsolidated: acc.duplicatesConsolidated,
		Errors:                 acc.errors,
	}

	e.recordRun(opts, strategy.Mode(), start, result)

	e.logger.Info().
		Bool("success", result.Success).
		Int("total_fetched", result.TotalFetched).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Int("duplicates_detected", result.DuplicatesDetected).
		Int("duplicates_consolidated", result.DuplicatesConsolidated).
		Dur("duration", result.Duration).
		Msg("catalog sync finished")

	return result, err
}

// processBatch reconciles one page of catalog records. A failing record is
// reported and skipped; only context cancellation stops the batch.
func (e *Engine) processBatch(ctx context.Context, page int, records []licensor.Record, opts Options, acc *accumulator) error {
	if opts.Observer != nil {
		opts.Observer.PageFetched(page, len(records))
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.upsertRecord(ctx, &records[i], opts.Observer, acc)
	}
	return nil
}

// recordRun persists the run summary. Failures are logged, not propagated;
// history must never fail a sync that otherwise completed.
func (e *Engine) recordRun(opts Options, mode models.SyncMode, start time.Time, result *Result) {
	if e.runs == nil {
		return
	}

	run := &models.SyncRun{
		ID:                     uuid.New(),
		Trigger:                opts.Trigger,
		Mode:                   mode,
		Success:                result.Success,
		TotalFetched:           result.TotalFetched,
		Created:                result.Created,
		Updated:                result.Updated,
		Failed:                 result.Failed,
		DuplicatesDetected:     result.DuplicatesDetected,
		DuplicatesConsolidated: result.DuplicatesConsolidated,
		StartedAt:              start,
		Duration:               result.Duration,
	}
	for _, re := range result.Errors {
		run.Errors = append(run.Errors, models.SyncRunError{AppID: re.AppID, Error: re.Err})
	}

	// Best effort with a fresh context so a canceled run still records.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.runs.CreateSyncRun(ctx, run); err != nil {
		e.logger.Error().Err(err).Msg("failed to persist sync run history")
	}
}
