package sync

import (
	"context"
	"time"
)

// successRateWindow is how many recent runs feed the status success rate.
const successRateWindow = 20

// ExternalStatus reports the health of the remote catalog API.
type ExternalStatus struct {
	Healthy bool          `json:"healthy"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency,omitempty"`
}

// LastRunStatus summarizes the most recent sync run.
type LastRunStatus struct {
	At          time.Time     `json:"at"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	SuccessRate float64       `json:"success_rate"` // over recent runs, -1 when unknown
}

// Status is a best-effort snapshot of local and remote sync state.
type Status struct {
	LocalRecords int            `json:"local_records"`
	LastRun      *LastRunStatus `json:"last_run,omitempty"`
	External     ExternalStatus `json:"external"`
	CheckedAt    time.Time      `json:"checked_at"`
}

// GetSyncStatus returns a best-effort snapshot: local record count, last run
// summary when history is available, and remote API health. It never fails
// for a down remote; that is reported in External instead.
func (e *Engine) GetSyncStatus(ctx context.Context) *Status {
	status := &Status{CheckedAt: e.now()}

	count, err := e.repo.CountLicenses(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to count local licenses for status")
	} else {
		status.LocalRecords = count
	}

	if e.runs != nil {
		last, err := e.runs.GetLastSyncRun(ctx)
		if err != nil {
			e.logger.Warn().Err(err).Msg("failed to load last sync run for status")
		} else if last != nil {
			rate, err := e.runs.GetSyncSuccessRate(ctx, successRateWindow)
			if err != nil {
				e.logger.Warn().Err(err).Msg("failed to load sync success rate for status")
				rate = -1
			}
			status.LastRun = &LastRunStatus{
				At:          last.StartedAt,
				Duration:    last.Duration,
				Success:     last.Success,
				SuccessRate: rate,
			}
		}
	}

	probe := e.api.TestConnectivity(ctx)
	status.External = ExternalStatus{
		Healthy: probe.Success,
		Message: probe.Message,
		Latency: probe.Latency,
	}

	return status
}
