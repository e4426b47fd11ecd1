package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncTrigger identifies what initiated a sync run.
type SyncTrigger string

const (
	// SyncTriggerManual is a run started from the API.
	SyncTriggerManual SyncTrigger = "manual"
	// SyncTriggerScheduled is a run started by the cron scheduler.
	SyncTriggerScheduled SyncTrigger = "scheduled"
	// SyncTriggerCLI is a run started from the veridesk-sync command.
	SyncTriggerCLI SyncTrigger = "cli"
)

// SyncMode identifies the fetch strategy used for a run.
type SyncMode string

const (
	// SyncModeComprehensive is the paginated full-catalog mode.
	SyncModeComprehensive SyncMode = "comprehensive"
	// SyncModeSingleBatch is the bounded single-fetch legacy mode.
	SyncModeSingleBatch SyncMode = "single_batch"
)

// SyncRunError captures a single record- or page-level failure from a run.
type SyncRunError struct {
	AppID string `json:"appid,omitempty"`
	Error string `json:"error"`
}

// SyncRun is the persisted summary of one sync engine invocation.
type SyncRun struct {
	ID                     uuid.UUID      `json:"id"`
	Trigger                SyncTrigger    `json:"trigger"`
	Mode                   SyncMode       `json:"mode"`
	Success                bool           `json:"success"`
	TotalFetched           int            `json:"total_fetched"`
	Created                int            `json:"created"`
	Updated                int            `json:"updated"`
	Failed                 int            `json:"failed"`
	DuplicatesDetected     int            `json:"duplicates_detected"`
	DuplicatesConsolidated int            `json:"duplicates_consolidated"`
	Errors                 []SyncRunError `json:"errors,omitempty"`
	StartedAt              time.Time      `json:"started_at"`
	Duration               time.Duration  `json:"duration"`
}

// NewSyncRun creates a SyncRun shell for a run starting now.
func NewSyncRun(trigger SyncTrigger, mode SyncMode) *SyncRun {
	return &SyncRun{
		ID:        uuid.New(),
		Trigger:   trigger,
		Mode:      mode,
		StartedAt: time.Now(),
	}
}
