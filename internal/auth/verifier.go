// verifier.go implements the request-time credential chain. A bearer value is
// tried against each scheme in a fixed order: locally-issued JWT, then
// externally-issued OIDC token, then opaque API token. The first scheme that
// positively identifies a user wins; a scheme that merely fails to parse the
// credential passes it to the next one.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/autothreat/autothreat-backend/internal/auth/oidc"
	"github.com/autothreat/autothreat-backend/internal/db/repositories"
	"github.com/autothreat/autothreat-backend/internal/safego"
	"github.com/autothreat/autothreat-backend/internal/telemetry"
)

// Authentication schemes, used in identity reporting and metrics labels
const (
	SchemeJWT    = "jwt"
	SchemeOIDC   = "oidc"
	SchemeOpaque = "token"
)

var (
	// ErrMissingCredential means no usable Authorization header was present
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential means a credential was presented but no scheme
	// accepted it. Deliberately unspecific: callers must not reveal which
	// scheme rejected the value or why.
	ErrInvalidCredential = errors.New("invalid or expired credential")
)

// Identity is the authenticated principal attached to a request
type Identity struct {
	UserID  string
	Email   string
	Name    string
	Scheme  string
	TokenID string // set only for opaque tokens
}

// ExternalVerifier verifies externally-issued tokens. Satisfied by
// *oidc.Provider; an interface so tests can substitute a stub.
type ExternalVerifier interface {
	VerifyToken(ctx context.Context, rawToken string) (*oidc.ExternalClaims, error)
}

// Authenticator resolves bearer credentials to identities
type Authenticator struct {
	users    *repositories.UserRepository
	tokens   *repositories.TokenRepository
	external ExternalVerifier // nil when no external IdP is configured
}

// NewAuthenticator creates an Authenticator. external may be nil, in which
// case the OIDC step is skipped.
func NewAuthenticator(users *repositories.UserRepository, tokens *repositories.TokenRepository, external ExternalVerifier) *Authenticator {
	return &Authenticator{
		users:    users,
		tokens:   tokens,
		external: external,
	}
}

// Authenticate resolves the Authorization header value to an identity.
// Returns ErrMissingCredential when no bearer value is present and
// ErrInvalidCredential when every scheme rejects it. Any other error is an
// infrastructure failure, not a verdict on the credential.
func (a *Authenticator) Authenticate(ctx context.Context, authHeader string) (*Identity, error) {
	raw, err := ExtractBearerToken(authHeader)
	if err != nil {
		return nil, ErrMissingCredential
	}

	if identity, ok, err := a.tryLocalJWT(ctx, raw); err != nil {
		return nil, err
	} else if ok {
		return identity, nil
	}

	if identity, ok, err := a.tryExternal(ctx, raw); err != nil {
		return nil, err
	} else if ok {
		return identity, nil
	}

	if identity, ok, err := a.tryOpaque(ctx, raw); err != nil {
		return nil, err
	} else if ok {
		return identity, nil
	}

	return nil, ErrInvalidCredential
}

// tryLocalJWT verifies a locally-signed JWT. A parse or signature failure is
// not an error: the value may belong to a later scheme.
func (a *Authenticator) tryLocalJWT(ctx context.Context, raw string) (*Identity, bool, error) {
	claims, err := ValidateJWT(raw)
	if err != nil {
		return nil, false, nil
	}

	user, err := a.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		// Valid signature but the subject no longer exists. Nothing later in
		// the chain can rescue a value that parsed as our own JWT.
		telemetry.AuthAttemptsTotal.WithLabelValues(SchemeJWT, "rejected").Inc()
		return nil, false, ErrInvalidCredential
	}

	telemetry.AuthAttemptsTotal.WithLabelValues(SchemeJWT, "ok").Inc()
	return &Identity{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Scheme: SchemeJWT,
	}, true, nil
}

// tryExternal verifies the value against the configured external IdP and
// upserts the local user row for the external subject.
func (a *Authenticator) tryExternal(ctx context.Context, raw string) (*Identity, bool, error) {
	if a.external == nil {
		return nil, false, nil
	}

	claims, err := a.external.VerifyToken(ctx, raw)
	if err != nil {
		return nil, false, nil
	}

	if claims.Email == "" {
		slog.Warn("external token verified but carries no email claim", "sub", claims.Subject)
		telemetry.AuthAttemptsTotal.WithLabelValues(SchemeOIDC, "rejected").Inc()
		return nil, false, ErrInvalidCredential
	}

	user, err := a.users.UpsertOIDCUser(ctx, claims.Subject, claims.Email, claims.Name)
	if err != nil {
		return nil, false, err
	}

	telemetry.AuthAttemptsTotal.WithLabelValues(SchemeOIDC, "ok").Inc()
	return &Identity{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Scheme: SchemeOIDC,
	}, true, nil
}

// tryOpaque resolves an opaque API token by digest lookup
func (a *Authenticator) tryOpaque(ctx context.Context, raw string) (*Identity, bool, error) {
	if !strings.HasPrefix(raw, TokenPrefix+"_") {
		return nil, false, nil
	}

	token, err := a.tokens.GetTokenByHash(ctx, HashToken(raw))
	if err != nil {
		return nil, false, err
	}
	if token == nil {
		telemetry.AuthAttemptsTotal.WithLabelValues(SchemeOpaque, "rejected").Inc()
		return nil, false, ErrInvalidCredential
	}
	if token.Expired(time.Now()) {
		telemetry.AuthAttemptsTotal.WithLabelValues(SchemeOpaque, "expired").Inc()
		return nil, false, ErrInvalidCredential
	}

	user, err := a.users.GetUserByID(ctx, token.UserID)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		telemetry.AuthAttemptsTotal.WithLabelValues(SchemeOpaque, "rejected").Inc()
		return nil, false, ErrInvalidCredential
	}

	// Stamp last-used off the request path; a lost update is acceptable.
	tokenID := token.ID
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tokens.UpdateLastUsed(ctx, tokenID); err != nil {
			slog.Warn("failed to update token last_used_at", "token_id", tokenID, "error", err)
		}
	})

	telemetry.AuthAttemptsTotal.WithLabelValues(SchemeOpaque, "ok").Inc()
	return &Identity{
		UserID:  user.ID,
		Email:   user.Email,
		Name:    user.Name,
		Scheme:  SchemeOpaque,
		TokenID: token.ID,
	}, true, nil
}
