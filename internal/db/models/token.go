package models

import "time"

// Token represents an opaque API bearer token owned by a user.
type Token struct {
	ID          string
	UserID      string
	Name        string // Friendly name (e.g. "GitHub Actions")
	Description *string
	TokenHash   string // SHA-256 digest of the raw value; raw value is never stored
	TokenPrefix string // First chars of the raw value for display (e.g. "sbom_Ab12C")
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// Expired reports whether the token carries an expiry that has passed.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
