// Package repositories implements the database query layer for the AutoThreat
// backend. Repositories return (nil, nil) for not-found lookups so callers can
// distinguish absence from infrastructure errors.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/autothreat/autothreat-backend/internal/db/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = "id, email, name, oidc_sub, created_at, updated_at"

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.OIDCSub, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, userID))
}

// GetUserByEmail retrieves a user by email
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// UpsertOIDCUser creates or refreshes the local row for an externally-issued
// identity. Keyed on email so a user who first logged in through the browser
// and later sends an API token resolves to the same row.
func (r *UserRepository) UpsertOIDCUser(ctx context.Context, sub, email, name string) (*models.User, error) {
	query := `
		INSERT INTO users (id, email, name, oidc_sub, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (email) DO UPDATE
		SET oidc_sub = EXCLUDED.oidc_sub, updated_at = EXCLUDED.updated_at
		RETURNING ` + userColumns

	return scanUser(r.db.QueryRowContext(ctx, query, uuid.New().String(), email, name, sub, time.Now()))
}
