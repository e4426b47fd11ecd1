package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/veridesk/veridesk/internal/integrations/licensor"
	"github.com/veridesk/veridesk/internal/models"
)

func TestNewEngine(t *testing.T) {
	repo := newFakeRepo()
	api := newFakeAPI()

	t.Run("requires repository", func(t *testing.T) {
		if _, err := NewEngine(nil, api, nil, zerolog.Nop()); err == nil {
			t.Error("NewEngine(nil repo) error = nil")
		}
	})

	t.Run("requires catalog api", func(t *testing.T) {
		if _, err := NewEngine(repo, nil, nil, zerolog.Nop()); err == nil {
			t.Error("NewEngine(nil api) error = nil")
		}
	})

	t.Run("run store is optional", func(t *testing.T) {
		if _, err := NewEngine(repo, api, nil, zerolog.Nop()); err != nil {
			t.Errorf("NewEngine() error = %v", err)
		}
	})
}

func TestExecuteRejectsInvalidBatchSize(t *testing.T) {
	engine := newTestEngine(newFakeRepo(), newFakeAPI(), nil)
	if _, err := engine.Execute(context.Background(), Options{BatchSize: 0}); err == nil {
		t.Error("Execute(BatchSize=0) error = nil")
	}
}

func TestExecuteCreatesNewRecords(t *testing.T) {
	repo := newFakeRepo()
	api := newFakeAPI([]licensor.Record{
		rec("A1", 1001, "Acme", "a@x.com"),
		rec("A2", 1002, "Bolt", "b@x.com"),
	})
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !result.Success {
		t.Error("Success = false")
	}
	if result.TotalFetched != 2 || result.Created != 2 || result.Updated != 0 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2 fetched, 2 created", result)
	}

	lic, err := repo.FindLicenseByAppID(context.Background(), "A1")
	if err != nil || lic == nil {
		t.Fatalf("FindLicenseByAppID(A1) = %v, %v", lic, err)
	}
	if lic.SourceAppID != "A1" {
		t.Errorf("SourceAppID = %q, want A1", lic.SourceAppID)
	}
	if lic.LastSyncedAt == nil {
		t.Error("LastSyncedAt is nil after create")
	}
	if lic.DBA != "Acme" {
		t.Errorf("DBA = %q", lic.DBA)
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	api := newFakeAPI(
		[]licensor.Record{rec("A1", 1001, "Acme", "a@x.com"), rec("A2", 1002, "Bolt", "b@x.com")},
		[]licensor.Record{rec("A3", 1003, "Crux", "c@x.com")},
	)
	engine := newTestEngine(repo, api, nil)
	opts := Options{Comprehensive: true, BatchSize: 10}

	first, err := engine.Execute(context.Background(), opts)
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	if first.Created != 3 {
		t.Fatalf("first run created = %d, want 3", first.Created)
	}
	countAfterFirst := len(repo.licenses)

	second, err := engine.Execute(context.Background(), opts)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if second.Created != 0 {
		t.Errorf("second run created = %d, want 0", second.Created)
	}
	if second.Updated != 3 {
		t.Errorf("second run updated = %d, want 3 (no-op matches still count)", second.Updated)
	}
	if len(repo.licenses) != countAfterFirst {
		t.Errorf("record count changed %d -> %d on second run", countAfterFirst, len(repo.licenses))
	}
}

func TestMatchingPrecedenceAppIDWins(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()

	byApp := models.NewLicense("A1")
	byApp.DBA = "Linked Row"
	byApp.LastSyncedAt = tptr(now.Add(-time.Hour))
	byApp = repo.add(byApp)

	byEmail := models.NewLicense("")
	byEmail.SourceAppID = ""
	byEmail.EmailLicense = "a@x.com"
	byEmail = repo.add(byEmail)

	byCount := models.NewLicense("")
	byCount.SourceAppID = ""
	byCount.CountID = 1001
	byCount = repo.add(byCount)

	api := newFakeAPI([]licensor.Record{rec("A1", 1001, "Acme", "a@x.com")})
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Created != 0 || result.Updated != 1 {
		t.Fatalf("result = created %d updated %d, want 0/1", result.Created, result.Updated)
	}

	// The appid-linked row received the update even though email and countid
	// candidates exist pointing at different rows.
	updated := repo.licenses[byApp.ID]
	if updated.DBA != "Acme" {
		t.Errorf("appid-linked row DBA = %q, want Acme", updated.DBA)
	}
	if repo.licenses[byEmail.ID].DBA != "" {
		t.Error("email-matched row was modified")
	}
	if repo.licenses[byCount.ID].DBA != "" {
		t.Error("countid-matched row was modified")
	}
}

func TestEmailMatchUpdatesExistingRecord(t *testing.T) {
	repo := newFakeRepo()

	existing := models.NewLicense("")
	existing.SourceAppID = ""
	existing.EmailLicense = "a@x.com"
	existing.CountID = 2222
	existing = repo.add(existing)

	api := newFakeAPI([]licensor.Record{rec("A1", 1001, "Acme", "a@x.com")})
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.Created != 0 || result.Updated != 1 {
		t.Fatalf("created/updated = %d/%d, want 0/1", result.Created, result.Updated)
	}
	if len(repo.licenses) != 1 {
		t.Fatalf("record count = %d, want 1", len(repo.licenses))
	}

	updated := repo.licenses[existing.ID]
	if updated.SourceAppID != "A1" {
		t.Errorf("SourceAppID = %q, want A1 captured from email match", updated.SourceAppID)
	}
	if updated.CountID != 1001 {
		t.Errorf("CountID = %d, want 1001", updated.CountID)
	}
	if updated.LastSyncedAt == nil {
		t.Error("LastSyncedAt not refreshed")
	}
}

func TestSourceAppIDNeverReassigned(t *testing.T) {
	repo := newFakeRepo()

	linked := models.NewLicense("OTHER")
	linked.EmailLicense = "a@x.com"
	linked = repo.add(linked)

	api := newFakeAPI([]licensor.Record{rec("A1", 0, "Acme", "a@x.com")})
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// The email candidate is already linked to a different remote record,
	// so the incoming record must become a new row.
	if result.Created != 1 || result.Updated != 0 {
		t.Fatalf("created/updated = %d/%d, want 1/0", result.Created, result.Updated)
	}
	if repo.licenses[linked.ID].SourceAppID != "OTHER" {
		t.Errorf("existing linkage reassigned to %q", repo.licenses[linked.ID].SourceAppID)
	}
	if len(repo.licenses) != 2 {
		t.Errorf("record count = %d, want 2", len(repo.licenses))
	}
}

func TestPartialPageFailuresDoNotLoseRecords(t *testing.T) {
	pages := make([][]licensor.Record, 6)
	for i := range pages {
		pages[i] = []licensor.Record{rec(string(rune('A'+i))+"1", 1000+i, "Biz", "")}
	}
	api := newFakeAPI(pages...)
	api.failPages[2] = errors.New("rate limited")
	api.failPages[4] = errors.New("timeout")

	repo := newFakeRepo()
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !result.Success {
		t.Error("Success = false; two non-consecutive page failures must not fail the run")
	}
	if result.TotalFetched != 4 || result.Created != 4 {
		t.Errorf("fetched/created = %d/%d, want 4/4", result.TotalFetched, result.Created)
	}
	if len(result.Errors) != 2 {
		t.Errorf("errors = %d, want 2", len(result.Errors))
	}
}

func TestThreeConsecutivePageFailuresAbort(t *testing.T) {
	pages := make([][]licensor.Record, 6)
	for i := range pages {
		pages[i] = []licensor.Record{rec(string(rune('A'+i))+"1", 1000+i, "Biz", "")}
	}
	api := newFakeAPI(pages...)
	api.failPages[2] = errors.New("down")
	api.failPages[3] = errors.New("down")
	api.failPages[4] = errors.New("down")

	repo := newFakeRepo()
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.Success {
		t.Error("Success = true after three consecutive page failures")
	}
	if result.TotalFetched != 1 {
		t.Errorf("TotalFetched = %d, want 1 (page 1 only)", result.TotalFetched)
	}
	if len(result.Errors) != 3 {
		t.Errorf("errors = %d, want 3", len(result.Errors))
	}
	for _, page := range api.fetched {
		if page > 4 {
			t.Errorf("page %d was attempted after abort", page)
		}
	}
}

func TestRecordFailureDoesNotAbortBatch(t *testing.T) {
	repo := newFakeRepo()
	repo.failCreate["A2"] = errors.New("unique violation")

	api := newFakeAPI([]licensor.Record{
		rec("A1", 1001, "Acme", ""),
		rec("A2", 1002, "Bolt", ""),
		rec("A3", 1003, "Crux", ""),
	})
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !result.Success {
		t.Error("Success = false; record failures must not fail the run")
	}
	if result.Created != 2 || result.Failed != 1 {
		t.Errorf("created/failed = %d/%d, want 2/1", result.Created, result.Failed)
	}
	if len(result.Errors) != 1 || result.Errors[0].AppID != "A2" {
		t.Errorf("errors = %+v, want one entry for A2", result.Errors)
	}
}

func TestLimitCapsTotalFetched(t *testing.T) {
	api := newFakeAPI(
		[]licensor.Record{rec("A1", 1, "", ""), rec("A2", 2, "", "")},
		[]licensor.Record{rec("A3", 3, "", ""), rec("A4", 4, "", "")},
		[]licensor.Record{rec("A5", 5, "", "")},
	)
	repo := newFakeRepo()
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 2, Limit: 3})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.TotalFetched > 3 {
		t.Errorf("TotalFetched = %d, want <= 3", result.TotalFetched)
	}
	if result.Created > 3 {
		t.Errorf("Created = %d, want <= 3", result.Created)
	}
}

func TestLimitFetchesEachRecordExactlyOnce(t *testing.T) {
	api := &offsetFakeAPI{records: []licensor.Record{
		rec("A1", 1, "", ""), rec("A2", 2, "", ""), rec("A3", 3, "", ""),
	}}
	repo := newFakeRepo()
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 2, Limit: 3})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.TotalFetched != 3 {
		t.Errorf("TotalFetched = %d, want 3", result.TotalFetched)
	}
	if result.Created != 3 || result.Updated != 0 {
		t.Errorf("created/updated = %d/%d, want 3/0 (no record may be processed twice)", result.Created, result.Updated)
	}
	for _, appID := range []string{"A1", "A2", "A3"} {
		if n := repo.countByAppID(appID); n != 1 {
			t.Errorf("record %s appears %d times, want 1", appID, n)
		}
	}
}

func TestMaxPagesCapsPagination(t *testing.T) {
	api := newFakeAPI(
		[]licensor.Record{rec("A1", 1, "", "")},
		[]licensor.Record{rec("A2", 2, "", "")},
		[]licensor.Record{rec("A3", 3, "", "")},
	)
	engine := newTestEngine(newFakeRepo(), api, nil)

	result, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 1, MaxPages: 2})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.TotalFetched != 2 {
		t.Errorf("TotalFetched = %d, want 2", result.TotalFetched)
	}
}

func TestSingleBatchMode(t *testing.T) {
	api := newFakeAPI(
		[]licensor.Record{rec("A1", 1, "", ""), rec("A2", 2, "", "")},
		[]licensor.Record{rec("A3", 3, "", "")},
	)
	repo := newFakeRepo()
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{BatchSize: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// Legacy mode stops after one fetch even when the catalog has more.
	if result.TotalFetched != 2 {
		t.Errorf("TotalFetched = %d, want 2", result.TotalFetched)
	}
	if len(api.fetched) != 1 {
		t.Errorf("fetch calls = %d, want 1", len(api.fetched))
	}
}

func TestObserverReceivesProgress(t *testing.T) {
	api := newFakeAPI(
		[]licensor.Record{rec("A1", 1, "", ""), rec("A2", 2, "", "")},
		[]licensor.Record{rec("A3", 3, "", "")},
	)
	obs := newRecordingObserver()
	engine := newTestEngine(newFakeRepo(), api, nil)

	_, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 10, Observer: obs})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if obs.pages != 2 {
		t.Errorf("page callbacks = %d, want 2", obs.pages)
	}
	if obs.records != 3 {
		t.Errorf("record callbacks = %d, want 3", obs.records)
	}
	if obs.outcomes[RecordCreated] != 3 {
		t.Errorf("created outcomes = %d, want 3", obs.outcomes[RecordCreated])
	}
}

func TestRunHistoryIsRecorded(t *testing.T) {
	runs := &fakeRunStore{}
	api := newFakeAPI([]licensor.Record{rec("A1", 1, "Acme", "")})
	engine := newTestEngine(newFakeRepo(), api, runs)

	result, err := engine.Execute(context.Background(), Options{
		Comprehensive: true,
		BatchSize:     10,
		Trigger:       models.SyncTriggerScheduled,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(runs.runs) != 1 {
		t.Fatalf("persisted runs = %d, want 1", len(runs.runs))
	}
	run := runs.runs[0]
	if run.Trigger != models.SyncTriggerScheduled {
		t.Errorf("Trigger = %q", run.Trigger)
	}
	if run.Mode != models.SyncModeComprehensive {
		t.Errorf("Mode = %q", run.Mode)
	}
	if run.Created != result.Created || run.Success != result.Success {
		t.Errorf("run %+v does not mirror result %+v", run, result)
	}
}

func TestExecuteStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	api := newFakeAPI([]licensor.Record{rec("A1", 1, "", "")})
	engine := newTestEngine(newFakeRepo(), api, nil)

	_, err := engine.Execute(ctx, Options{Comprehensive: true, BatchSize: 10})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestGetSyncStatus(t *testing.T) {
	t.Run("healthy remote with history", func(t *testing.T) {
		repo := newFakeRepo()
		repo.add(models.NewLicense("A1"))
		runs := &fakeRunStore{}
		api := newFakeAPI([]licensor.Record{rec("A2", 2, "", "")})
		engine := newTestEngine(repo, api, runs)

		if _, err := engine.Execute(context.Background(), Options{Comprehensive: true, BatchSize: 10}); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}

		status := engine.GetSyncStatus(context.Background())
		if status.LocalRecords != 2 {
			t.Errorf("LocalRecords = %d, want 2", status.LocalRecords)
		}
		if status.LastRun == nil {
			t.Fatal("LastRun = nil")
		}
		if !status.LastRun.Success || status.LastRun.SuccessRate != 1.0 {
			t.Errorf("LastRun = %+v", status.LastRun)
		}
		if !status.External.Healthy {
			t.Errorf("External = %+v", status.External)
		}
	})

	t.Run("down remote never errors", func(t *testing.T) {
		api := newFakeAPI()
		api.probe = &licensor.ConnectivityResult{Success: false, Message: "connection refused"}
		engine := newTestEngine(newFakeRepo(), api, nil)

		status := engine.GetSyncStatus(context.Background())
		if status.External.Healthy {
			t.Error("External.Healthy = true")
		}
		if status.External.Message == "" {
			t.Error("External.Message is empty")
		}
	})
}

func TestForceFullSyncStillWalksWholeCatalog(t *testing.T) {
	api := &offsetFakeAPI{records: []licensor.Record{
		rec("A1", 1, "", ""), rec("A2", 2, "", ""), rec("A3", 3, "", ""),
	}}
	repo := newFakeRepo()
	engine := newTestEngine(repo, api, nil)

	result, err := engine.Execute(context.Background(), Options{
		Comprehensive: true,
		ForceFullSync: true,
		BatchSize:     2,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.TotalFetched != 3 {
		t.Errorf("TotalFetched = %d, want 3", result.TotalFetched)
	}
	if len(api.calls) == 0 || api.calls[0][0] != 1 {
		t.Errorf("calls = %v, want walk starting at page 1", api.calls)
	}
}
