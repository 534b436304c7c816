// token_repository.go implements TokenRepository, providing database queries for
// opaque API token lookup by digest, creation, listing, ownership-checked
// deletion, and last-used timestamp updates.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/autothreat/autothreat-backend/internal/db/models"
)

// TokenRepository handles API token database operations
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new TokenRepository
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

const tokenColumns = "id, user_id, name, description, token_hash, token_prefix, expires_at, last_used_at, created_at"

func scanToken(scanner interface{ Scan(...any) error }) (*models.Token, error) {
	token := &models.Token{}
	err := scanner.Scan(
		&token.ID,
		&token.UserID,
		&token.Name,
		&token.Description,
		&token.TokenHash,
		&token.TokenPrefix,
		&token.ExpiresAt,
		&token.LastUsedAt,
		&token.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// CreateToken inserts a new token row. ID and CreatedAt are assigned here.
// A unique-violation on token_hash surfaces as an error; callers generate a
// fresh random value and retry.
func (r *TokenRepository) CreateToken(ctx context.Context, token *models.Token) error {
	token.ID = uuid.New().String()
	token.CreatedAt = time.Now()

	query := `
		INSERT INTO tokens (id, user_id, name, description, token_hash, token_prefix, expires_at, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.Name,
		token.Description,
		token.TokenHash,
		token.TokenPrefix,
		token.ExpiresAt,
		token.LastUsedAt,
		token.CreatedAt,
	)

	return err
}

// GetTokenByHash retrieves a token by the SHA-256 digest of its raw value.
// This is the authentication lookup: a single indexed query.
func (r *TokenRepository) GetTokenByHash(ctx context.Context, tokenHash string) (*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE token_hash = $1`
	return scanToken(r.db.QueryRowContext(ctx, query, tokenHash))
}

// GetTokenByID retrieves a token by ID
func (r *TokenRepository) GetTokenByID(ctx context.Context, tokenID string) (*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE id = $1`
	return scanToken(r.db.QueryRowContext(ctx, query, tokenID))
}

// ListByUser returns all tokens owned by a user, newest first
func (r *TokenRepository) ListByUser(ctx context.Context, userID string) ([]*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*models.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// DeleteByIDAndUser deletes a token only when it is owned by the given user.
// Returns false when no row matched; callers surface that as not-found so a
// token owned by someone else looks the same as one that never existed.
func (r *TokenRepository) DeleteByIDAndUser(ctx context.Context, tokenID, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = $1 AND user_id = $2`, tokenID, userID)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// UpdateLastUsed stamps the token's last successful authentication time
func (r *TokenRepository) UpdateLastUsed(ctx context.Context, tokenID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tokens SET last_used_at = $1 WHERE id = $2`, time.Now(), tokenID)
	return err
}

// DeleteExpired removes tokens whose expiry has passed, returning how many
// rows were swept. Expired tokens already fail authentication; this is
// housekeeping so dead credentials do not accumulate.
func (r *TokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at IS NOT NULL AND expires_at < $1`, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
