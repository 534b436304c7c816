// Package auth provides the credential primitives behind request
// authentication: locally-issued JWTs (stateless verification), externally
// issued OIDC tokens (JWKS verification, see the oidc sub-package), and
// opaque API tokens generated here and stored by digest.
// See verifier.go for the request-time chain that tries them in order.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// TokenPrefix is the fixed prefix of every opaque API token
	TokenPrefix = "sbom"

	// TokenLength is the length of the random part of the token in bytes
	TokenLength = 32

	// DisplayPrefixLength is the number of characters to show in displays
	DisplayPrefixLength = 10
)

// GenerateToken creates a new random opaque API token.
// Returns: full token (to show once), SHA-256 digest (to store), display prefix.
// The digest is what the tokens table indexes, so authentication is a single
// lookup and the raw value never touches the database.
func GenerateToken() (token string, digest string, displayPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	_, err = rand.Read(randomBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	randomPart := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := fmt.Sprintf("%s_%s", TokenPrefix, randomPart)

	displayPrefixStr := fullToken
	if len(fullToken) > DisplayPrefixLength {
		displayPrefixStr = fullToken[:DisplayPrefixLength]
	}

	return fullToken, HashToken(fullToken), displayPrefixStr, nil
}

// HashToken returns the hex-encoded SHA-256 digest of a raw token value
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer sbom_abc123xyz..." (or a JWT).
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)

	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
