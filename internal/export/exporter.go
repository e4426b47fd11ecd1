package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/veridesk/veridesk/internal/models"
)

// ExporterStore defines the data access needed by the exporter.
type ExporterStore interface {
	GetAllLicenses(ctx context.Context) ([]*models.License, error)
	ListSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
}

// Exporter builds license and run reports.
type Exporter struct {
	store  ExporterStore
	logger zerolog.Logger
}

// NewExporter creates a new Exporter.
func NewExporter(store ExporterStore, logger zerolog.Logger) *Exporter {
	return &Exporter{
		store:  store,
		logger: logger.With().Str("component", "report_exporter").Logger(),
	}
}

// Options contains options for exporting reports.
type Options struct {
	Format      Format
	Description string
	ExportedBy  string
	// RunLimit caps how many recent runs a sync-run report includes.
	RunLimit int
}

// DefaultOptions returns the default export options.
func DefaultOptions() Options {
	return Options{
		Format:   FormatJSON,
		RunLimit: 100,
	}
}

// ExportLicenses exports a snapshot of the local license table.
func (e *Exporter) ExportLicenses(ctx context.Context, opts Options) ([]byte, error) {
	licenses, err := e.store.GetAllLicenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load licenses: %w", err)
	}

	e.logger.Info().
		Int("count", len(licenses)).
		Str("format", string(opts.Format)).
		Msg("exporting license report")

	if opts.Format == FormatCSV {
		return licensesCSV(licenses)
	}

	report := LicenseReport{
		Metadata: metadata(ReportTypeLicenses, opts, len(licenses)),
		Licenses: licenses,
	}
	return e.marshal(report, opts.Format)
}

// ExportSyncRuns exports the recent sync run history.
func (e *Exporter) ExportSyncRuns(ctx context.Context, opts Options) ([]byte, error) {
	limit := opts.RunLimit
	if limit <= 0 {
		limit = DefaultOptions().RunLimit
	}

	runs, err := e.store.ListSyncRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync runs: %w", err)
	}

	e.logger.Info().
		Int("count", len(runs)).
		Str("format", string(opts.Format)).
		Msg("exporting sync run report")

	if opts.Format == FormatCSV {
		return runsCSV(runs)
	}

	report := SyncRunReport{
		Metadata: metadata(ReportTypeSyncRuns, opts, len(runs)),
		Runs:     runs,
	}
	return e.marshal(report, opts.Format)
}

func metadata(reportType ReportType, opts Options, count int) ReportMetadata {
	return ReportMetadata{
		Version:     ReportVersion,
		Type:        reportType,
		ExportedAt:  time.Now(),
		ExportedBy:  opts.ExportedBy,
		Description: opts.Description,
		RecordCount: count,
	}
}

// marshal converts the report to the specified format.
func (e *Exporter) marshal(v any, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(v)
	case FormatJSON:
		return json.MarshalIndent(v, "", "  ")
	default:
		return json.MarshalIndent(v, "", "  ")
	}
}

func licensesCSV(licenses []*models.License) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "appid", "countid", "dba", "zip", "status", "license_type", "monthly_fee", "email_license", "source_app_id", "activate_date", "coming_expired", "last_synced_at"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, lic := range licenses {
		row := []string{
			lic.ID.String(),
			lic.AppID,
			strconv.Itoa(lic.CountID),
			lic.DBA,
			lic.Zip,
			strconv.Itoa(int(lic.Status)),
			lic.LicenseType,
			strconv.FormatFloat(lic.MonthlyFee, 'f', 2, 64),
			lic.EmailLicense,
			lic.SourceAppID,
			csvTime(lic.ActivateDate),
			csvTime(lic.ComingExpired),
			csvTime(lic.LastSyncedAt),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func runsCSV(runs []*models.SyncRun) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "triggered_by", "mode", "success", "total_fetched", "created", "updated", "failed", "duplicates_detected", "duplicates_consolidated", "started_at", "duration_ms"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, run := range runs {
		row := []string{
			run.ID.String(),
			string(run.Trigger),
			string(run.Mode),
			strconv.FormatBool(run.Success),
			strconv.Itoa(run.TotalFetched),
			strconv.Itoa(run.Created),
			strconv.Itoa(run.Updated),
			strconv.Itoa(run.Failed),
			strconv.Itoa(run.DuplicatesDetected),
			strconv.Itoa(run.DuplicatesConsolidated),
			run.StartedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(run.Duration.Milliseconds(), 10),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func csvTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
