// Package metrics provides Prometheus-style metrics exposition for Veridesk.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/models"
)

// Store defines the interface for retrieving metrics data.
type Store interface {
	GetAllLicenses(ctx context.Context) ([]*models.License, error)
	ListSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
}

// runWindow is how many recent runs feed the sync metrics.
const runWindow = 200

// Collector collects and exposes metrics in Prometheus exposition format.
type Collector struct {
	store  Store
	logger zerolog.Logger

	mu            sync.RWMutex
	lastCollected time.Time
	cached        *Snapshot
	cacheExpiry   time.Duration
}

// Snapshot holds all collected metrics.
type Snapshot struct {
	// License metrics
	LicensesTotal  int64
	LicensesActive int64
	LicensesByType map[string]int64

	// Sync run metrics over the recent window
	SyncRunsTotal           int64
	SyncRunsByOutcome       map[string]int64 // success / failure
	SyncRecordsCreated      int64
	SyncRecordsUpdated      int64
	SyncRecordsFailed       int64
	SyncDuplicatesMerged    int64
	SyncDurationBuckets     map[float64]int64
	SyncDurationSum         float64
	SyncDurationCount       int64
	LastRunUnixTime         int64
	LastRunSuccess          int64
}

// durationBuckets are histogram buckets for sync duration in seconds.
var durationBuckets = []float64{1, 5, 15, 60, 300, 900, 1800, 3600}

// NewCollector creates a new Collector.
func NewCollector(store Store, logger zerolog.Logger) *Collector {
	return &Collector{
		store:       store,
		logger:      logger.With().Str("component", "metrics_collector").Logger(),
		cacheExpiry: 15 * time.Second,
	}
}

// Collect gathers all metrics from the database, serving a short-lived
// cache to keep the scrape path cheap.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	if c.cached != nil && time.Since(c.lastCollected) < c.cacheExpiry {
		snap := c.cached
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	snap := &Snapshot{
		LicensesByType:      make(map[string]int64),
		SyncRunsByOutcome:   make(map[string]int64),
		SyncDurationBuckets: make(map[float64]int64),
	}

	if err := c.collectLicenseMetrics(ctx, snap); err != nil {
		c.logger.Warn().Err(err).Msg("failed to collect license metrics")
	}
	if err := c.collectSyncMetrics(ctx, snap); err != nil {
		c.logger.Warn().Err(err).Msg("failed to collect sync metrics")
	}

	c.mu.Lock()
	c.cached = snap
	c.lastCollected = time.Now()
	c.mu.Unlock()

	return snap, nil
}

func (c *Collector) collectLicenseMetrics(ctx context.Context, snap *Snapshot) error {
	licenses, err := c.store.GetAllLicenses(ctx)
	if err != nil {
		return fmt.Errorf("get licenses: %w", err)
	}

	snap.LicensesTotal = int64(len(licenses))
	for _, lic := range licenses {
		if lic.Status == models.LicenseStatusActive {
			snap.LicensesActive++
		}
		licenseType := lic.LicenseType
		if licenseType == "" {
			licenseType = "unknown"
		}
		snap.LicensesByType[licenseType]++
	}

	return nil
}

func (c *Collector) collectSyncMetrics(ctx context.Context, snap *Snapshot) error {
	runs, err := c.store.ListSyncRuns(ctx, runWindow)
	if err != nil {
		return fmt.Errorf("get sync runs: %w", err)
	}

	for _, b := range durationBuckets {
		snap.SyncDurationBuckets[b] = 0
	}

	snap.SyncRunsTotal = int64(len(runs))
	for i, run := range runs {
		if run.Success {
			snap.SyncRunsByOutcome["success"]++
		} else {
			snap.SyncRunsByOutcome["failure"]++
		}

		snap.SyncRecordsCreated += int64(run.Created)
		snap.SyncRecordsUpdated += int64(run.Updated)
		snap.SyncRecordsFailed += int64(run.Failed)
		snap.SyncDuplicatesMerged += int64(run.DuplicatesConsolidated)

		seconds := run.Duration.Seconds()
		snap.SyncDurationSum += seconds
		snap.SyncDurationCount++
		for _, b := range durationBuckets {
			if seconds <= b {
				snap.SyncDurationBuckets[b]++
			}
		}

		// Runs are newest first.
		if i == 0 {
			snap.LastRunUnixTime = run.StartedAt.Unix()
			if run.Success {
				snap.LastRunSuccess = 1
			}
		}
	}

	return nil
}

// Format returns the metrics in Prometheus exposition format.
func (c *Collector) Format(snap *Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP veridesk_licenses_total Total number of local license records\n")
	sb.WriteString("# TYPE veridesk_licenses_total gauge\n")
	sb.WriteString(fmt.Sprintf("veridesk_licenses_total %d\n", snap.LicensesTotal))
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_licenses_active Number of active license records\n")
	sb.WriteString("# TYPE veridesk_licenses_active gauge\n")
	sb.WriteString(fmt.Sprintf("veridesk_licenses_active %d\n", snap.LicensesActive))
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_licenses_by_type Number of license records by type\n")
	sb.WriteString("# TYPE veridesk_licenses_by_type gauge\n")
	for _, licenseType := range sortedKeys(snap.LicensesByType) {
		sb.WriteString(fmt.Sprintf("veridesk_licenses_by_type{type=\"%s\"} %d\n", licenseType, snap.LicensesByType[licenseType]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_sync_runs_total Number of recorded sync runs in the recent window\n")
	sb.WriteString("# TYPE veridesk_sync_runs_total counter\n")
	sb.WriteString(fmt.Sprintf("veridesk_sync_runs_total %d\n", snap.SyncRunsTotal))
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_sync_runs_outcome_total Sync runs by outcome\n")
	sb.WriteString("# TYPE veridesk_sync_runs_outcome_total counter\n")
	for _, outcome := range sortedKeys(snap.SyncRunsByOutcome) {
		sb.WriteString(fmt.Sprintf("veridesk_sync_runs_outcome_total{outcome=\"%s\"} %d\n", outcome, snap.SyncRunsByOutcome[outcome]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_sync_records_created_total License records created by sync\n")
	sb.WriteString("# TYPE veridesk_sync_records_created_total counter\n")
	sb.WriteString(fmt.Sprintf("veridesk_sync_records_created_total %d\n", snap.SyncRecordsCreated))
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_sync_records_updated_total License records updated by sync\n")
	sb.WriteString("# TYPE veridesk_sync_records_updated_total counter\n")
	sb.WriteString(fmt.Sprintf("veridesk_sync_records_updated_total %d\n", snap.SyncRecordsUpdated))
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_sync_records_failed_total License records that failed to reconcile\n")
	sb.WriteString("# TYPE veridesk_sync_records_failed_total counter\n")
	sb.WriteString(fmt.Sprintf("veridesk_sync_records_failed_total %d\n", snap.SyncRecordsFailed))
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_sync_duplicates_merged_total Duplicate license records consolidated by sync\n")
	sb.WriteString("# TYPE veridesk_sync_duplicates_merged_total counter\n")
	sb.WriteString(fmt.Sprintf("veridesk_sync_duplicates_merged_total %d\n", snap.SyncDuplicatesMerged))
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_sync_duration_seconds Histogram of sync run duration in seconds\n")
	sb.WriteString("# TYPE veridesk_sync_duration_seconds histogram\n")
	for _, b := range durationBuckets {
		sb.WriteString(fmt.Sprintf("veridesk_sync_duration_seconds_bucket{le=\"%.0f\"} %d\n", b, snap.SyncDurationBuckets[b]))
	}
	sb.WriteString(fmt.Sprintf("veridesk_sync_duration_seconds_bucket{le=\"+Inf\"} %d\n", snap.SyncDurationCount))
	sb.WriteString(fmt.Sprintf("veridesk_sync_duration_seconds_sum %.2f\n", snap.SyncDurationSum))
	sb.WriteString(fmt.Sprintf("veridesk_sync_duration_seconds_count %d\n", snap.SyncDurationCount))
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_sync_last_run_timestamp_seconds Unix time of the most recent sync run\n")
	sb.WriteString("# TYPE veridesk_sync_last_run_timestamp_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("veridesk_sync_last_run_timestamp_seconds %d\n", snap.LastRunUnixTime))
	sb.WriteString("\n")

	sb.WriteString("# HELP veridesk_sync_last_run_success Whether the most recent sync run succeeded\n")
	sb.WriteString("# TYPE veridesk_sync_last_run_success gauge\n")
	sb.WriteString(fmt.Sprintf("veridesk_sync_last_run_success %d\n", snap.LastRunSuccess))

	return sb.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
