package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/veridesk/veridesk/internal/models"
)

const userColumns = `id, email, name, role, password_hash, active, created_at, updated_at`

// CreateUser persists a new dashboard user.
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO users (id, email, name, role, password_hash, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.Name, string(user.Role), user.PasswordHash,
		user.Active, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByID returns a user by ID. Returns nil if not found.
func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail returns a user by email. Returns nil if not found.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	user, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// ListUsers returns all users ordered by name.
func (db *DB) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY name, email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUser updates a user's mutable fields.
func (db *DB) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE users SET email = $2, name = $3, role = $4, password_hash = $5,
			active = $6, updated_at = $7
		WHERE id = $1
	`, user.ID, user.Email, user.Name, string(user.Role), user.PasswordHash,
		user.Active, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user: not found")
	}
	return nil
}

// DeleteUser removes a user. Returns false if it did not exist.
func (db *DB) DeleteUser(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var role string
	err := row.Scan(&user.ID, &user.Email, &user.Name, &role, &user.PasswordHash,
		&user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.Role = models.UserRole(role)
	return &user, nil
}
