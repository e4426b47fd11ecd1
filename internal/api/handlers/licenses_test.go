package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/models"
)

// mockLicenseStore implements LicenseStore for testing.
type mockLicenseStore struct {
	licenses  map[uuid.UUID]*models.License
	listTotal int
	createErr error
	updateErr error
	deleteErr error

	lastFilter  models.LicenseFilter
	lastChanges models.LicenseChanges
}

func newMockLicenseStore() *mockLicenseStore {
	return &mockLicenseStore{licenses: make(map[uuid.UUID]*models.License)}
}

func (m *mockLicenseStore) CreateLicense(_ context.Context, lic *models.License) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.licenses[lic.ID] = lic
	return nil
}

func (m *mockLicenseStore) GetLicenseByID(_ context.Context, id uuid.UUID) (*models.License, error) {
	return m.licenses[id], nil
}

func (m *mockLicenseStore) ListLicenses(_ context.Context, filter models.LicenseFilter) ([]*models.License, int, error) {
	m.lastFilter = filter
	result := make([]*models.License, 0, len(m.licenses))
	for _, lic := range m.licenses {
		result = append(result, lic)
	}
	return result, m.listTotal, nil
}

func (m *mockLicenseStore) UpdateLicenseFields(_ context.Context, id uuid.UUID, changes models.LicenseChanges) (*models.License, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.lastChanges = changes
	lic := m.licenses[id]
	if lic == nil {
		return nil, nil
	}
	if changes.DBA != nil {
		lic.DBA = *changes.DBA
	}
	if changes.Status != nil {
		lic.Status = *changes.Status
	}
	return lic, nil
}

func (m *mockLicenseStore) DeleteLicense(_ context.Context, id uuid.UUID) (bool, error) {
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	if _, ok := m.licenses[id]; !ok {
		return false, nil
	}
	delete(m.licenses, id)
	return true, nil
}

// recordingLicenseSink captures published license events.
type recordingLicenseSink struct {
	created []uuid.UUID
	updated []uuid.UUID
	deleted []uuid.UUID
}

func (s *recordingLicenseSink) PublishLicenseCreated(id uuid.UUID, _, _ string) {
	s.created = append(s.created, id)
}

func (s *recordingLicenseSink) PublishLicenseUpdated(id uuid.UUID, _, _ string) {
	s.updated = append(s.updated, id)
}

func (s *recordingLicenseSink) PublishLicenseDeleted(id uuid.UUID, _, _ string) {
	s.deleted = append(s.deleted, id)
}

func setupLicensesRouter(store LicenseStore, sink LicenseEventSink) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewLicensesHandler(store, sink, zerolog.Nop())
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestListLicenses(t *testing.T) {
	store := newMockLicenseStore()
	lic := models.NewLicense("A100")
	lic.DBA = "Acme Corp"
	store.licenses[lic.ID] = lic
	store.listTotal = 1

	router := setupLicensesRouter(store, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses?search=acme&status=1&limit=10&offset=5", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Licenses []*models.License `json:"licenses"`
		Total    int               `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Licenses) != 1 || resp.Total != 1 {
		t.Errorf("got %d licenses total %d, want 1/1", len(resp.Licenses), resp.Total)
	}

	if store.lastFilter.Search != "acme" {
		t.Errorf("filter search = %q, want %q", store.lastFilter.Search, "acme")
	}
	if store.lastFilter.Status == nil || *store.lastFilter.Status != models.LicenseStatus(1) {
		t.Errorf("filter status = %v, want 1", store.lastFilter.Status)
	}
	if store.lastFilter.Limit != 10 || store.lastFilter.Offset != 5 {
		t.Errorf("filter limit/offset = %d/%d, want 10/5", store.lastFilter.Limit, store.lastFilter.Offset)
	}
}

func TestListLicensesInvalidStatus(t *testing.T) {
	router := setupLicensesRouter(newMockLicenseStore(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses?status=active", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetLicenseNotFound(t *testing.T) {
	router := setupLicensesRouter(newMockLicenseStore(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses/"+uuid.NewString(), nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetLicenseInvalidID(t *testing.T) {
	router := setupLicensesRouter(newMockLicenseStore(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses/not-a-uuid", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCreateLicense(t *testing.T) {
	store := newMockLicenseStore()
	sink := &recordingLicenseSink{}
	router := setupLicensesRouter(store, sink)

	body := `{"appid":"A200","dba":"Beta LLC","countid":42,"monthly_fee":99.5}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}

	var lic models.License
	if err := json.Unmarshal(w.Body.Bytes(), &lic); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if lic.AppID != "A200" || lic.DBA != "Beta LLC" || lic.CountID != 42 {
		t.Errorf("created license = %+v", lic)
	}
	if lic.SourceAppID != "A200" {
		t.Errorf("SourceAppID = %q, want %q", lic.SourceAppID, "A200")
	}
	if len(sink.created) != 1 {
		t.Errorf("created events = %d, want 1", len(sink.created))
	}
}

func TestCreateLicenseMissingDBA(t *testing.T) {
	router := setupLicensesRouter(newMockLicenseStore(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses", strings.NewReader(`{"appid":"A1"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCreateLicenseStoreError(t *testing.T) {
	store := newMockLicenseStore()
	store.createErr = errors.New("db down")
	router := setupLicensesRouter(store, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses", strings.NewReader(`{"dba":"Acme"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestUpdateLicense(t *testing.T) {
	store := newMockLicenseStore()
	sink := &recordingLicenseSink{}
	lic := models.NewLicense("A300")
	lic.DBA = "Old Name"
	store.licenses[lic.ID] = lic

	router := setupLicensesRouter(store, sink)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/licenses/"+lic.ID.String(), strings.NewReader(`{"dba":"New Name","status":2}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if store.lastChanges.DBA == nil || *store.lastChanges.DBA != "New Name" {
		t.Errorf("changes DBA = %v, want New Name", store.lastChanges.DBA)
	}
	if store.lastChanges.Status == nil || *store.lastChanges.Status != models.LicenseStatus(2) {
		t.Errorf("changes Status = %v, want 2", store.lastChanges.Status)
	}
	if len(sink.updated) != 1 {
		t.Errorf("updated events = %d, want 1", len(sink.updated))
	}
}

func TestUpdateLicenseNoFields(t *testing.T) {
	router := setupLicensesRouter(newMockLicenseStore(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/licenses/"+uuid.NewString(), strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestDeleteLicense(t *testing.T) {
	store := newMockLicenseStore()
	sink := &recordingLicenseSink{}
	lic := models.NewLicense("A400")
	store.licenses[lic.ID] = lic

	router := setupLicensesRouter(store, sink)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/licenses/"+lic.ID.String(), nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if len(store.licenses) != 0 {
		t.Errorf("license not deleted from store")
	}
	if len(sink.deleted) != 1 {
		t.Errorf("deleted events = %d, want 1", len(sink.deleted))
	}
}

func TestDeleteLicenseNotFound(t *testing.T) {
	router := setupLicensesRouter(newMockLicenseStore(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/licenses/"+uuid.NewString(), nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
