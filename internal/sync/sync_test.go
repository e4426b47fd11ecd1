package sync

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/veridesk/veridesk/internal/integrations/licensor"
	"github.com/veridesk/veridesk/internal/models"
)

// fakeRepo is an in-memory LicenseRepository with scriptable failures.
type fakeRepo struct {
	licenses map[uuid.UUID]*models.License

	failCreate map[string]error    // keyed by appid
	failUpdate map[uuid.UUID]error // keyed by license id
	failDelete map[uuid.UUID]error // keyed by license id

	createCalls int
	updateCalls int
	deleteCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		licenses:   make(map[uuid.UUID]*models.License),
		failCreate: make(map[string]error),
		failUpdate: make(map[uuid.UUID]error),
		failDelete: make(map[uuid.UUID]error),
	}
}

func (r *fakeRepo) add(lic *models.License) *models.License {
	cp := *lic
	r.licenses[cp.ID] = &cp
	return &cp
}

// all returns licenses in deterministic id order.
func (r *fakeRepo) all() []*models.License {
	out := make([]*models.License, 0, len(r.licenses))
	for _, lic := range r.licenses {
		cp := *lic
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// best picks the preferred match among candidates: most recent non-null
// lastSyncedAt, then lowest id. Mirrors the store's ORDER BY.
func best(candidates []*models.License) *models.License {
	if len(candidates) == 0 {
		return nil
	}
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if beats(c, winner) {
			winner = c
		}
	}
	cp := *winner
	return &cp
}

func (r *fakeRepo) FindLicenseByAppID(ctx context.Context, appID string) (*models.License, error) {
	if appID == "" {
		return nil, nil
	}
	var matches []*models.License
	for _, lic := range r.licenses {
		if lic.SourceAppID == appID {
			matches = append(matches, lic)
		}
	}
	return best(matches), nil
}

func (r *fakeRepo) FindLicenseByEmail(ctx context.Context, email string) (*models.License, error) {
	if email == "" {
		return nil, nil
	}
	var matches []*models.License
	for _, lic := range r.licenses {
		if lic.EmailLicense == email {
			matches = append(matches, lic)
		}
	}
	return best(matches), nil
}

func (r *fakeRepo) FindLicenseByCountID(ctx context.Context, countID int) (*models.License, error) {
	if countID == 0 {
		return nil, nil
	}
	var matches []*models.License
	for _, lic := range r.licenses {
		if lic.CountID == countID {
			matches = append(matches, lic)
		}
	}
	return best(matches), nil
}

func (r *fakeRepo) CreateLicense(ctx context.Context, lic *models.License) error {
	r.createCalls++
	if err, ok := r.failCreate[lic.AppID]; ok {
		return err
	}
	cp := *lic
	r.licenses[cp.ID] = &cp
	return nil
}

func (r *fakeRepo) UpdateLicenseFields(ctx context.Context, id uuid.UUID, changes models.LicenseChanges) (*models.License, error) {
	r.updateCalls++
	if err, ok := r.failUpdate[id]; ok {
		return nil, err
	}
	lic, ok := r.licenses[id]
	if !ok {
		return nil, nil
	}
	if changes.AppID != nil {
		lic.AppID = *changes.AppID
	}
	if changes.CountID != nil {
		lic.CountID = *changes.CountID
	}
	if changes.DBA != nil {
		lic.DBA = *changes.DBA
	}
	if changes.Zip != nil {
		lic.Zip = *changes.Zip
	}
	if changes.Status != nil {
		lic.Status = *changes.Status
	}
	if changes.LicenseType != nil {
		lic.LicenseType = *changes.LicenseType
	}
	if changes.MonthlyFee != nil {
		lic.MonthlyFee = *changes.MonthlyFee
	}
	if changes.ActivateDate != nil {
		v := *changes.ActivateDate
		lic.ActivateDate = &v
	}
	if changes.ComingExpired != nil {
		v := *changes.ComingExpired
		lic.ComingExpired = &v
	}
	if changes.EmailLicense != nil {
		lic.EmailLicense = *changes.EmailLicense
	}
	if changes.SourceAppID != nil {
		lic.SourceAppID = *changes.SourceAppID
	}
	if changes.LastSyncedAt != nil {
		v := *changes.LastSyncedAt
		lic.LastSyncedAt = &v
	}
	lic.UpdatedAt = time.Now()
	cp := *lic
	return &cp, nil
}

func (r *fakeRepo) DeleteLicense(ctx context.Context, id uuid.UUID) (bool, error) {
	r.deleteCalls++
	if err, ok := r.failDelete[id]; ok {
		return false, err
	}
	if _, ok := r.licenses[id]; !ok {
		return false, nil
	}
	delete(r.licenses, id)
	return true, nil
}

func (r *fakeRepo) GetAllLicenses(ctx context.Context) ([]*models.License, error) {
	return r.all(), nil
}

func (r *fakeRepo) CountLicenses(ctx context.Context) (int, error) {
	return len(r.licenses), nil
}

// countByAppID returns how many rows resolve to the given remote appid.
func (r *fakeRepo) countByAppID(appID string) int {
	n := 0
	for _, lic := range r.licenses {
		if lic.SourceAppID == appID || lic.AppID == appID {
			n++
		}
	}
	return n
}

// fakeAPI serves scripted catalog pages with scriptable per-page failures.
type fakeAPI struct {
	pages     [][]licensor.Record
	failPages map[int]error
	fetched   []int // pages requested, in order
	probe     *licensor.ConnectivityResult
}

func newFakeAPI(pages ...[]licensor.Record) *fakeAPI {
	return &fakeAPI{
		pages:     pages,
		failPages: make(map[int]error),
		probe:     &licensor.ConnectivityResult{Success: true, Message: "ok"},
	}
}

func (a *fakeAPI) FetchPage(ctx context.Context, page, pageSize int) (*licensor.PageResult, error) {
	a.fetched = append(a.fetched, page)
	if err, ok := a.failPages[page]; ok {
		return nil, err
	}
	if page > len(a.pages) {
		return &licensor.PageResult{HasMore: false}, nil
	}
	records := a.pages[page-1]
	if len(records) > pageSize {
		records = records[:pageSize]
	}
	return &licensor.PageResult{
		Records: records,
		HasMore: page < len(a.pages),
	}, nil
}

func (a *fakeAPI) TestConnectivity(ctx context.Context) *licensor.ConnectivityResult {
	return a.probe
}

// offsetFakeAPI serves a flat record list addressed by (page-1)*pageSize,
// matching the real catalog's offset contract. Changing pageSize between
// requests therefore shifts which records a page contains.
type offsetFakeAPI struct {
	records []licensor.Record
	calls   [][2]int // page, pageSize per request
}

func (a *offsetFakeAPI) FetchPage(ctx context.Context, page, pageSize int) (*licensor.PageResult, error) {
	a.calls = append(a.calls, [2]int{page, pageSize})
	start := (page - 1) * pageSize
	if start >= len(a.records) {
		return &licensor.PageResult{}, nil
	}
	end := start + pageSize
	if end > len(a.records) {
		end = len(a.records)
	}
	return &licensor.PageResult{
		Records: a.records[start:end],
		HasMore: end < len(a.records),
	}, nil
}

func (a *offsetFakeAPI) TestConnectivity(ctx context.Context) *licensor.ConnectivityResult {
	return &licensor.ConnectivityResult{Success: true, Message: "ok"}
}

// fakeRunStore captures persisted run history.
type fakeRunStore struct {
	runs []*models.SyncRun
}

func (s *fakeRunStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeRunStore) GetLastSyncRun(ctx context.Context) (*models.SyncRun, error) {
	if len(s.runs) == 0 {
		return nil, nil
	}
	return s.runs[len(s.runs)-1], nil
}

func (s *fakeRunStore) GetSyncSuccessRate(ctx context.Context, n int) (float64, error) {
	if len(s.runs) == 0 {
		return -1, nil
	}
	succeeded := 0
	for _, run := range s.runs {
		if run.Success {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(s.runs)), nil
}

// recordingObserver counts observer callbacks.
type recordingObserver struct {
	pages    int
	records  int
	outcomes map[RecordOutcome]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{outcomes: make(map[RecordOutcome]int)}
}

func (o *recordingObserver) PageFetched(page, records int) {
	o.pages++
}

func (o *recordingObserver) RecordProcessed(appID string, outcome RecordOutcome, err error) {
	o.records++
	o.outcomes[outcome]++
}

func newTestEngine(repo LicenseRepository, api CatalogAPI, runs RunStore) *Engine {
	engine, err := NewEngine(repo, api, runs, zerolog.Nop())
	if err != nil {
		panic(fmt.Sprintf("newTestEngine: %v", err))
	}
	return engine
}

func rec(appID string, countID int, dba, email string) licensor.Record {
	return licensor.Record{
		AppID:        appID,
		CountID:      countID,
		DBA:          dba,
		EmailLicense: email,
		Status:       1,
		LicenseType:  "product",
		MonthlyFee:   49.95,
	}
}

func tptr(t time.Time) *time.Time { return &t }
