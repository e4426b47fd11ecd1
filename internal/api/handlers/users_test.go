package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/models"
)

// mockUserStore implements UserStore for testing.
type mockUserStore struct {
	users map[uuid.UUID]*models.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[uuid.UUID]*models.User)}
}

func (m *mockUserStore) CreateUser(_ context.Context, user *models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return m.users[id], nil
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserStore) ListUsers(_ context.Context) ([]*models.User, error) {
	result := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	return result, nil
}

func (m *mockUserStore) UpdateUser(_ context.Context, user *models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserStore) DeleteUser(_ context.Context, id uuid.UUID) (bool, error) {
	if _, ok := m.users[id]; !ok {
		return false, nil
	}
	delete(m.users, id)
	return true, nil
}

// recordingUserSink captures published user events.
type recordingUserSink struct {
	created []string
	deleted []string
}

func (s *recordingUserSink) PublishUserCreated(_ uuid.UUID, email string) {
	s.created = append(s.created, email)
}

func (s *recordingUserSink) PublishUserDeleted(_ uuid.UUID, email string) {
	s.deleted = append(s.deleted, email)
}

func setupUsersRouter(store UserStore, sink UserEventSink) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewUsersHandler(store, sink, zerolog.Nop())
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestCreateUser(t *testing.T) {
	store := newMockUserStore()
	sink := &recordingUserSink{}
	router := setupUsersRouter(store, sink)

	body := `{"email":"Ops@Example.com","name":"Ops User","role":"operator","password":"correct horse battery"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}

	var user models.User
	if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if user.Email != "ops@example.com" {
		t.Errorf("email = %q, want lowercased", user.Email)
	}
	if user.Role != models.RoleOperator {
		t.Errorf("role = %q, want operator", user.Role)
	}
	if strings.Contains(w.Body.String(), "password") || strings.Contains(w.Body.String(), "hash") {
		t.Errorf("response leaks password material: %s", w.Body.String())
	}
	if len(sink.created) != 1 || sink.created[0] != "ops@example.com" {
		t.Errorf("created events = %v, want one for ops@example.com", sink.created)
	}
}

func TestCreateUserInvalidRole(t *testing.T) {
	router := setupUsersRouter(newMockUserStore(), nil)

	body := `{"email":"a@example.com","name":"A","role":"superadmin","password":"correct horse battery"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store := newMockUserStore()
	existing := models.NewUser("dup@example.com", "Existing", models.RoleViewer)
	store.users[existing.ID] = existing

	router := setupUsersRouter(store, nil)

	body := `{"email":"dup@example.com","name":"Again","role":"viewer","password":"correct horse battery"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestDeleteUser(t *testing.T) {
	store := newMockUserStore()
	sink := &recordingUserSink{}
	user := models.NewUser("gone@example.com", "Gone", models.RoleViewer)
	store.users[user.ID] = user

	router := setupUsersRouter(store, sink)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/"+user.ID.String(), nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if len(store.users) != 0 {
		t.Errorf("user not deleted from store")
	}
	if len(sink.deleted) != 1 || sink.deleted[0] != "gone@example.com" {
		t.Errorf("deleted events = %v, want one for gone@example.com", sink.deleted)
	}
}

func TestDeleteUserNotFound(t *testing.T) {
	router := setupUsersRouter(newMockUserStore(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/"+uuid.NewString(), nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
