// Package scheduler runs catalog syncs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/models"
	syncengine "github.com/veridesk/veridesk/internal/sync"
)

// Runner executes one sync pass. Satisfied by the sync engine.
type Runner interface {
	Execute(ctx context.Context, opts syncengine.Options) (*syncengine.Result, error)
}

// EventSink receives run lifecycle notifications. May be nil.
type EventSink interface {
	PublishSyncStarted(trigger models.SyncTrigger, mode models.SyncMode)
	PublishSyncCompleted(run *models.SyncRun)
}

// Scheduler triggers periodic catalog syncs. Overlapping runs are skipped:
// if a sync is still in progress when the next tick fires, the tick is
// dropped with a warning rather than queued. The gate is shared with the
// manual-trigger endpoint so scheduled and manual runs never overlap either.
type Scheduler struct {
	runner  Runner
	events  EventSink
	gate    *syncengine.Gate
	spec    string
	opts    syncengine.Options
	timeout time.Duration
	cron    *cron.Cron
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
}

// DefaultRunTimeout bounds a single scheduled sync pass.
const DefaultRunTimeout = 30 * time.Minute

// New creates a scheduler that executes opts on the given cron spec. gate
// may be nil, in which case the scheduler only guards against itself.
func New(runner Runner, events EventSink, gate *syncengine.Gate, spec string, opts syncengine.Options, logger zerolog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	if spec == "" {
		return nil, errors.New("scheduler: cron spec is required")
	}
	if gate == nil {
		gate = &syncengine.Gate{}
	}
	opts.Trigger = models.SyncTriggerScheduled

	return &Scheduler{
		runner:  runner,
		events:  events,
		gate:    gate,
		spec:    spec,
		opts:    opts,
		timeout: DefaultRunTimeout,
		cron:    cron.New(),
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Start begins the sync schedule.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.spec, s.runSync); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.spec).
		Msg("sync scheduler started")

	return nil
}

// Stop stops the scheduler gracefully. The returned context is done when
// any in-flight run has finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping sync scheduler")
	return s.cron.Stop()
}

// runSync executes one scheduled sync pass, skipping if any sync is in
// flight, including a manually triggered one holding the shared gate.
func (s *Scheduler) runSync() {
	if !s.gate.TryAcquire() {
		s.logger.Warn().Msg("a sync is still running, skipping this tick")
		return
	}
	defer s.gate.Release()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	mode := models.SyncModeSingleBatch
	if s.opts.Comprehensive {
		mode = models.SyncModeComprehensive
	}

	s.logger.Info().Msg("starting scheduled sync")
	if s.events != nil {
		s.events.PublishSyncStarted(models.SyncTriggerScheduled, mode)
	}

	result, err := s.runner.Execute(ctx, s.opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled sync failed")
		if s.events != nil && result != nil {
			s.events.PublishSyncCompleted(runFromResult(result, mode))
		}
		return
	}

	s.logger.Info().
		Bool("success", result.Success).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Msg("scheduled sync finished")

	if s.events != nil {
		s.events.PublishSyncCompleted(runFromResult(result, mode))
	}
}

// RunNow triggers an immediate sync pass (useful for testing).
func (s *Scheduler) RunNow() {
	s.runSync()
}

func runFromResult(result *syncengine.Result, mode models.SyncMode) *models.SyncRun {
	run := models.NewSyncRun(models.SyncTriggerScheduled, mode)
	run.Success = result.Success
	run.TotalFetched = result.TotalFetched
	run.Created = result.Created
	run.Updated = result.Updated
	run.Failed = result.Failed
	run.DuplicatesDetected = result.DuplicatesDetected
	run.DuplicatesConsolidated = result.DuplicatesConsolidated
	run.Duration = result.Duration
	return run
}
