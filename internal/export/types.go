// Package export produces license and sync-run reports in portable
// formats, optionally uploading them to S3-compatible object storage.
package export

import (
	"time"

	"github.com/veridesk/veridesk/internal/models"
)

// ReportType represents the kind of report being exported.
type ReportType string

const (
	// ReportTypeLicenses is a snapshot of the local license table.
	ReportTypeLicenses ReportType = "licenses"
	// ReportTypeSyncRuns is the sync run history.
	ReportTypeSyncRuns ReportType = "sync_runs"
)

// Format represents the export format.
type Format string

const (
	// FormatJSON exports reports as JSON.
	FormatJSON Format = "json"
	// FormatYAML exports reports as YAML.
	FormatYAML Format = "yaml"
	// FormatCSV exports reports as CSV.
	FormatCSV Format = "csv"
)

// ReportVersion is the current report schema version.
const ReportVersion = "1"

// ReportMetadata contains metadata about an exported report.
type ReportMetadata struct {
	Version     string     `json:"version" yaml:"version"`
	Type        ReportType `json:"type" yaml:"type"`
	ExportedAt  time.Time  `json:"exported_at" yaml:"exported_at"`
	ExportedBy  string     `json:"exported_by,omitempty" yaml:"exported_by,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	RecordCount int        `json:"record_count" yaml:"record_count"`
}

// LicenseReport is an exportable snapshot of the license table.
type LicenseReport struct {
	Metadata ReportMetadata    `json:"metadata" yaml:"metadata"`
	Licenses []*models.License `json:"licenses" yaml:"licenses"`
}

// SyncRunReport is an exportable sync run history.
type SyncRunReport struct {
	Metadata ReportMetadata    `json:"metadata" yaml:"metadata"`
	Runs     []*models.SyncRun `json:"runs" yaml:"runs"`
}

// ParseFormat validates a user-supplied format string. An empty string
// selects JSON.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatJSON, FormatYAML, FormatCSV:
		return Format(s), true
	case "":
		return FormatJSON, true
	}
	return "", false
}
