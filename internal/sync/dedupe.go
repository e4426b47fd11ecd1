package sync

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/veridesk/veridesk/internal/models"
)

// consolidateDuplicates finds groups of local records resolving to the same
// remote identity and merges each group into a single surviving record.
// Scope is the records touched during this run, or the whole table in
// comprehensive mode. A failing group is recorded and left unconsolidated.
func (e *Engine) consolidateDuplicates(ctx context.Context, comprehensive bool, acc *accumulator) error {
	candidates := acc.touched
	if comprehensive {
		all, err := e.repo.GetAllLicenses(ctx)
		if err != nil {
			acc.addError("", fmt.Errorf("load licenses for duplicate scan: %w", err))
			return nil
		}
		candidates = all
	}

	groups := groupByIdentity(candidates)

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(group.members) < 2 {
			continue
		}

		acc.duplicatesDetected += len(group.members)
		survivor, losers := selectSurvivor(group.members)

		e.logger.Info().
			Str("identity", group.key).
			Str("survivor", survivor.ID.String()).
			Int("losers", len(losers)).
			Msg("consolidating duplicate licenses")

		changes := mergeFillForward(survivor, losers)
		if !changes.IsEmpty() {
			merged, err := e.repo.UpdateLicenseFields(ctx, survivor.ID, changes)
			if err != nil {
				acc.addError(group.appID(), fmt.Errorf("merge duplicate group %s: %w", group.key, err))
				continue
			}
			if merged == nil {
				acc.addError(group.appID(), fmt.Errorf("merge duplicate group %s: survivor no longer exists", group.key))
				continue
			}
		}

		for _, loser := range losers {
			deleted, err := e.repo.DeleteLicense(ctx, loser.ID)
			if err != nil {
				acc.addError(group.appID(), fmt.Errorf("remove duplicate %s in group %s: %w", loser.ID, group.key, err))
				continue
			}
			if deleted {
				acc.duplicatesConsolidated++
			}
		}
	}

	return nil
}

// identityGroup is one equivalence class of local records that resolve to
// the same remote identity.
type identityGroup struct {
	key     string
	members []*models.License
}

// appID returns the remote appid for error reporting, when the group is
// keyed by one.
func (g *identityGroup) appID() string {
	for _, m := range g.members {
		if m.SourceAppID != "" {
			return m.SourceAppID
		}
		if m.AppID != "" {
			return m.AppID
		}
	}
	return ""
}

// groupByIdentity partitions records into equivalence classes using the
// same key precedence as matching: appid first, then license email, then
// countid. Records with no usable key form no group. Group ordering is
// deterministic.
func groupByIdentity(records []*models.License) []*identityGroup {
	byKey := make(map[string]*identityGroup)
	var order []string

	for _, lic := range records {
		key := identityKey(lic)
		if key == "" {
			continue
		}
		group, ok := byKey[key]
		if !ok {
			group = &identityGroup{key: key}
			byKey[key] = group
			order = append(order, key)
		}
		group.members = append(group.members, lic)
	}

	sort.Strings(order)
	groups := make([]*identityGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, byKey[key])
	}
	return groups
}

// identityKey derives the remote identity of a local record: appid first,
// falling back to license email, falling back to countid.
func identityKey(lic *models.License) string {
	if lic.SourceAppID != "" {
		return "appid:" + lic.SourceAppID
	}
	if lic.AppID != "" {
		return "appid:" + lic.AppID
	}
	if lic.EmailLicense != "" {
		return "email:" + lic.EmailLicense
	}
	if lic.CountID != 0 {
		return "countid:" + strconv.Itoa(lic.CountID)
	}
	return ""
}

// selectSurvivor picks the record with the most recent non-null
// lastSyncedAt; ties (including all-null) break to the lowest id, so the
// choice is reproducible.
func selectSurvivor(members []*models.License) (*models.License, []*models.License) {
	survivor := members[0]
	for _, candidate := range members[1:] {
		if beats(candidate, survivor) {
			survivor = candidate
		}
	}

	losers := make([]*models.License, 0, len(members)-1)
	for _, m := range members {
		if m.ID != survivor.ID {
			losers = append(losers, m)
		}
	}
	return survivor, losers
}

// beats reports whether a should be preferred over b as the survivor.
func beats(a, b *models.License) bool {
	switch {
	case a.LastSyncedAt != nil && b.LastSyncedAt == nil:
		return true
	case a.LastSyncedAt == nil && b.LastSyncedAt != nil:
		return false
	case a.LastSyncedAt != nil && b.LastSyncedAt != nil:
		if a.LastSyncedAt.After(*b.LastSyncedAt) {
			return true
		}
		if b.LastSyncedAt.After(*a.LastSyncedAt) {
			return false
		}
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// mergeFillForward computes the fill-forward merge for a duplicate group:
// every empty field on the survivor is filled from the first loser holding
// a value. The survivor's own non-empty data is never overwritten.
func mergeFillForward(survivor *models.License, losers []*models.License) models.LicenseChanges {
	var changes models.LicenseChanges

	for _, loser := range losers {
		if survivor.AppID == "" && changes.AppID == nil && loser.AppID != "" {
			v := loser.AppID
			changes.AppID = &v
		}
		if survivor.SourceAppID == "" && changes.SourceAppID == nil && loser.SourceAppID != "" {
			v := loser.SourceAppID
			changes.SourceAppID = &v
		}
		if survivor.CountID == 0 && changes.CountID == nil && loser.CountID != 0 {
			v := loser.CountID
			changes.CountID = &v
		}
		if survivor.DBA == "" && changes.DBA == nil && loser.DBA != "" {
			v := loser.DBA
			changes.DBA = &v
		}
		if survivor.Zip == "" && changes.Zip == nil && loser.Zip != "" {
			v := loser.Zip
			changes.Zip = &v
		}
		if survivor.LicenseType == "" && changes.LicenseType == nil && loser.LicenseType != "" {
			v := loser.LicenseType
			changes.LicenseType = &v
		}
		if survivor.MonthlyFee == 0 && changes.MonthlyFee == nil && loser.MonthlyFee != 0 {
			v := loser.MonthlyFee
			changes.MonthlyFee = &v
		}
		if survivor.EmailLicense == "" && changes.EmailLicense == nil && loser.EmailLicense != "" {
			v := loser.EmailLicense
			changes.EmailLicense = &v
		}
		if survivor.ActivateDate == nil && changes.ActivateDate == nil && loser.ActivateDate != nil {
			v := *loser.ActivateDate
			changes.ActivateDate = &v
		}
		if survivor.ComingExpired == nil && changes.ComingExpired == nil && loser.ComingExpired != nil {
			v := *loser.ComingExpired
			changes.ComingExpired = &v
		}
	}

	return changes
}
