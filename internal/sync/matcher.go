package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/veridesk/veridesk/internal/integrations/licensor"
	"github.com/veridesk/veridesk/internal/models"
)

// matchKey identifies which correlation key matched a remote record to a
// local one.
type matchKey string

const (
	matchByAppID   matchKey = "appid"
	matchByEmail   matchKey = "email"
	matchByCountID matchKey = "countid"
	matchNone      matchKey = "none"
)

// upsertRecord reconciles one catalog record against the repository:
// create when unmatched, apply a field diff when matched. Repository
// failures are recorded and the record skipped.
func (e *Engine) upsertRecord(ctx context.Context, rec *licensor.Record, obs Observer, acc *accumulator) {
	existing, key, err := e.matchRecord(ctx, rec)
	if err != nil {
		acc.failed++
		acc.addError(rec.AppID, fmt.Errorf("match record: %w", err))
		e.notifyRecord(obs, rec.AppID, RecordFailed, err)
		return
	}

	if existing == nil {
		lic := e.licenseFromRecord(rec)
		if err := e.repo.CreateLicense(ctx, lic); err != nil {
			acc.failed++
			acc.addError(rec.AppID, fmt.Errorf("create license: %w", err))
			e.notifyRecord(obs, rec.AppID, RecordFailed, err)
			return
		}
		acc.created++
		acc.touch(lic)
		e.notifyRecord(obs, rec.AppID, RecordCreated, nil)
		return
	}

	changes := e.diffRecord(existing, rec, key)
	if changes.IsEmpty() {
		// A matched record with nothing to write still counts as updated.
		// This mirrors long-standing reporting behavior; see DESIGN.md.
		acc.updated++
		acc.touch(existing)
		e.notifyRecord(obs, rec.AppID, RecordUnchanged, nil)
		return
	}

	now := e.now()
	changes.LastSyncedAt = &now
	updated, err := e.repo.UpdateLicenseFields(ctx, existing.ID, changes)
	if err != nil {
		acc.failed++
		acc.addError(rec.AppID, fmt.Errorf("update license: %w", err))
		e.notifyRecord(obs, rec.AppID, RecordFailed, err)
		return
	}
	if updated == nil {
		// Row vanished between match and update; treat like any other
		// record-level persistence failure.
		acc.failed++
		acc.addError(rec.AppID, fmt.Errorf("update license: record %s no longer exists", existing.ID))
		e.notifyRecord(obs, rec.AppID, RecordFailed, nil)
		return
	}

	acc.updated++
	acc.touch(updated)
	e.notifyRecord(obs, rec.AppID, RecordUpdated, nil)
}

// matchRecord finds the local record corresponding to a catalog record.
// Precedence: sourceAppID, then license email, then countid; first match
// wins. Email and countid candidates already linked to a different remote
// appid are skipped, never relinked.
func (e *Engine) matchRecord(ctx context.Context, rec *licensor.Record) (*models.License, matchKey, error) {
	if rec.AppID != "" {
		lic, err := e.repo.FindLicenseByAppID(ctx, rec.AppID)
		if err != nil {
			return nil, matchNone, err
		}
		if lic != nil {
			return lic, matchByAppID, nil
		}
	}

	if rec.EmailLicense != "" {
		lic, err := e.repo.FindLicenseByEmail(ctx, rec.EmailLicense)
		if err != nil {
			return nil, matchNone, err
		}
		if lic != nil && linkable(lic, rec.AppID) {
			return lic, matchByEmail, nil
		}
	}

	if rec.CountID != 0 {
		lic, err := e.repo.FindLicenseByCountID(ctx, rec.CountID)
		if err != nil {
			return nil, matchNone, err
		}
		if lic != nil && linkable(lic, rec.AppID) {
			return lic, matchByCountID, nil
		}
	}

	return nil, matchNone, nil
}

// linkable reports whether a secondary-key candidate may be linked to the
// given remote appid without reassigning an existing linkage.
func linkable(lic *models.License, appID string) bool {
	return lic.SourceAppID == "" || lic.SourceAppID == appID
}

// licenseFromRecord builds a new local license from a catalog record.
// Unparseable dates are logged and stored as null rather than failing the
// record.
func (e *Engine) licenseFromRecord(rec *licensor.Record) *models.License {
	lic := models.NewLicense(rec.AppID)
	lic.CountID = rec.CountID
	lic.DBA = rec.DBA
	lic.Zip = rec.Zip
	lic.Status = models.LicenseStatus(rec.Status)
	lic.LicenseType = rec.LicenseType
	lic.MonthlyFee = rec.MonthlyFee
	lic.EmailLicense = rec.EmailLicense
	lic.ActivateDate = e.parseRecordDate(rec.AppID, "activateDate", rec.ActivateDate)
	lic.ComingExpired = e.parseRecordDate(rec.AppID, "comingExpired", rec.ComingExpired)
	now := e.now()
	lic.LastSyncedAt = &now
	return lic
}

// diffRecord computes the partial update needed to bring an existing local
// record in line with a catalog record. Local-only fields are excluded.
// Secondary-key matches additionally capture the appid linkage when the
// local record has none yet.
func (e *Engine) diffRecord(existing *models.License, rec *licensor.Record, key matchKey) models.LicenseChanges {
	var changes models.LicenseChanges

	if existing.AppID != rec.AppID {
		changes.AppID = &rec.AppID
	}
	if key != matchByAppID && existing.SourceAppID == "" && rec.AppID != "" {
		changes.SourceAppID = &rec.AppID
	}
	if existing.CountID != rec.CountID {
		changes.CountID = &rec.CountID
	}
	if existing.DBA != rec.DBA {
		changes.DBA = &rec.DBA
	}
	if existing.Zip != rec.Zip {
		changes.Zip = &rec.Zip
	}
	if status := models.LicenseStatus(rec.Status); existing.Status != status {
		changes.Status = &status
	}
	if existing.LicenseType != rec.LicenseType {
		changes.LicenseType = &rec.LicenseType
	}
	if existing.MonthlyFee != rec.MonthlyFee {
		changes.MonthlyFee = &rec.MonthlyFee
	}
	if existing.EmailLicense != rec.EmailLicense && rec.EmailLicense != "" {
		changes.EmailLicense = &rec.EmailLicense
	}
	if d := e.parseRecordDate(rec.AppID, "activateDate", rec.ActivateDate); d != nil && !timesEqual(existing.ActivateDate, d) {
		changes.ActivateDate = d
	}
	if d := e.parseRecordDate(rec.AppID, "comingExpired", rec.ComingExpired); d != nil && !timesEqual(existing.ComingExpired, d) {
		changes.ComingExpired = d
	}

	return changes
}

func (e *Engine) parseRecordDate(appID, field, value string) *time.Time {
	t, err := licensor.ParseDate(value)
	if err != nil {
		e.logger.Warn().
			Str("appid", appID).
			Str("field", field).
			Str("value", value).
			Msg("unparseable date in catalog record, storing null")
		return nil
	}
	return t
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
