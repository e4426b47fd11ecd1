package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/models"
)

// UserStore defines the interface for user persistence operations.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) (bool, error)
}

// UserEventSink receives user change notifications. May be nil.
type UserEventSink interface {
	PublishUserCreated(userID uuid.UUID, email string)
	PublishUserDeleted(userID uuid.UUID, email string)
}

// UsersHandler handles user-related HTTP endpoints.
type UsersHandler struct {
	store  UserStore
	events UserEventSink
	logger zerolog.Logger
}

// NewUsersHandler creates a new UsersHandler.
func NewUsersHandler(store UserStore, events UserEventSink, logger zerolog.Logger) *UsersHandler {
	return &UsersHandler{
		store:  store,
		events: events,
		logger: logger.With().Str("component", "users_handler").Logger(),
	}
}

// RegisterRoutes registers user routes on the given router group.
func (h *UsersHandler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.GET("", h.List)
		users.POST("", h.Create)
		users.GET("/:id", h.Get)
		users.PUT("/:id", h.Update)
		users.DELETE("/:id", h.Delete)
	}
}

// CreateUserRequest is the request body for creating a user.
type CreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required,min=1,max=255"`
	Role     string `json:"role" binding:"required"`
	Password string `json:"password" binding:"required,min=12"`
}

// UpdateUserRequest is the request body for updating a user.
type UpdateUserRequest struct {
	Name     *string `json:"name,omitempty"`
	Role     *string `json:"role,omitempty"`
	Active   *bool   `json:"active,omitempty"`
	Password *string `json:"password,omitempty"`
}

// List returns all users.
// GET /api/v1/users
func (h *UsersHandler) List(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Get returns a specific user by ID.
// GET /api/v1/users/:id
func (h *UsersHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to get user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// Create creates a new user.
// POST /api/v1/users
func (h *UsersHandler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := models.UserRole(req.Role)
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	existing, err := h.store.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to check existing user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "a user with this email already exists"})
		return
	}

	user := models.NewUser(email, req.Name, role)
	if err := user.SetPassword(req.Password); err != nil {
		h.logger.Error().Err(err).Msg("failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		h.logger.Error().Err(err).Str("email", email).Msg("failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	if h.events != nil {
		h.events.PublishUserCreated(user.ID, user.Email)
	}

	c.JSON(http.StatusCreated, user)
}

// Update updates a user.
// PUT /api/v1/users/:id
func (h *UsersHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to get user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Role != nil {
		role := models.UserRole(*req.Role)
		if !role.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		user.Role = role
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if req.Password != nil {
		if len(*req.Password) < 12 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 12 characters"})
			return
		}
		if err := user.SetPassword(*req.Password); err != nil {
			h.logger.Error().Err(err).Msg("failed to hash password")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}
	}

	if err := h.store.UpdateUser(c.Request.Context(), user); err != nil {
		h.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to update user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// Delete removes a user.
// DELETE /api/v1/users/:id
func (h *UsersHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to load user for delete")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	deleted, err := h.store.DeleteUser(c.Request.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to delete user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if h.events != nil {
		h.events.PublishUserDeleted(user.ID, user.Email)
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
