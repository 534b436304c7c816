package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/autothreat/autothreat-backend/internal/auth/oidc"
	"github.com/autothreat/autothreat-backend/internal/db/repositories"
)

var userCols = []string{"id", "email", "name", "oidc_sub", "created_at", "updated_at"}

var tokenCols = []string{
	"id", "user_id", "name", "description",
	"token_hash", "token_prefix", "expires_at", "last_used_at", "created_at",
}

func sampleUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow("user-1", "dev@example.com", "Dev User", nil, time.Now(), time.Now())
}

// stubVerifier is an ExternalVerifier test double
type stubVerifier struct {
	claims *oidc.ExternalClaims
	err    error
}

func (s *stubVerifier) VerifyToken(ctx context.Context, rawToken string) (*oidc.ExternalClaims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func newAuthenticator(t *testing.T, external ExternalVerifier) (*Authenticator, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()

	userDB, userMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { userDB.Close() })

	tokenDB, tokenMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { tokenDB.Close() })

	a := NewAuthenticator(
		repositories.NewUserRepository(userDB),
		repositories.NewTokenRepository(tokenDB),
		external,
	)
	return a, userMock, tokenMock
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	a, _, _ := newAuthenticator(t, nil)

	_, err := a.Authenticate(context.Background(), "")
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential", err)
	}
}

func TestAuthenticate_NonBearerHeader(t *testing.T) {
	a, _, _ := newAuthenticator(t, nil)

	_, err := a.Authenticate(context.Background(), "Basic dXNlcjpwYXNz")
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential", err)
	}
}

func TestAuthenticate_LocalJWT(t *testing.T) {
	resetJWTSecret()
	t.Setenv("AT_JWT_SECRET", "test-jwt-secret-that-is-32-chars-!")

	a, userMock, _ := newAuthenticator(t, nil)
	userMock.ExpectQuery("SELECT.*FROM users WHERE id").
		WithArgs("user-1").
		WillReturnRows(sampleUserRow())

	jwtToken, err := GenerateJWT("user-1", "dev@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	identity, err := a.Authenticate(context.Background(), "Bearer "+jwtToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.Scheme != SchemeJWT {
		t.Errorf("Scheme = %s, want %s", identity.Scheme, SchemeJWT)
	}
	if identity.UserID != "user-1" {
		t.Errorf("UserID = %s, want user-1", identity.UserID)
	}
}

func TestAuthenticate_LocalJWT_UserGone(t *testing.T) {
	resetJWTSecret()
	t.Setenv("AT_JWT_SECRET", "test-jwt-secret-that-is-32-chars-!")

	a, userMock, _ := newAuthenticator(t, nil)
	userMock.ExpectQuery("SELECT.*FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows(userCols))

	jwtToken, err := GenerateJWT("deleted-user", "gone@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	_, err = a.Authenticate(context.Background(), "Bearer "+jwtToken)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestAuthenticate_External(t *testing.T) {
	stub := &stubVerifier{claims: &oidc.ExternalClaims{
		Subject: "auth0|abc123",
		Email:   "dev@example.com",
		Name:    "Dev User",
	}}

	a, userMock, _ := newAuthenticator(t, stub)
	userMock.ExpectQuery("INSERT INTO users.*ON CONFLICT.*RETURNING").
		WillReturnRows(sampleUserRow())

	identity, err := a.Authenticate(context.Background(), "Bearer eyJhbGciOi.external.token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.Scheme != SchemeOIDC {
		t.Errorf("Scheme = %s, want %s", identity.Scheme, SchemeOIDC)
	}
}

func TestAuthenticate_External_NoEmailClaim(t *testing.T) {
	stub := &stubVerifier{claims: &oidc.ExternalClaims{Subject: "auth0|abc123"}}

	a, _, _ := newAuthenticator(t, stub)

	_, err := a.Authenticate(context.Background(), "Bearer eyJhbGciOi.external.token")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestAuthenticate_Opaque(t *testing.T) {
	raw, digest, prefix, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	a, userMock, tokenMock := newAuthenticator(t, nil)
	tokenMock.ExpectQuery("SELECT.*FROM tokens WHERE token_hash").
		WithArgs(digest).
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("tok-1", "user-1", "CI Token", nil, digest, prefix, nil, nil, time.Now()))
	userMock.ExpectQuery("SELECT.*FROM users WHERE id").
		WithArgs("user-1").
		WillReturnRows(sampleUserRow())
	tokenMock.ExpectExec("UPDATE tokens SET last_used_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	identity, err := a.Authenticate(context.Background(), "Bearer "+raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.Scheme != SchemeOpaque {
		t.Errorf("Scheme = %s, want %s", identity.Scheme, SchemeOpaque)
	}
	if identity.TokenID != "tok-1" {
		t.Errorf("TokenID = %s, want tok-1", identity.TokenID)
	}
}

func TestAuthenticate_Opaque_Expired(t *testing.T) {
	raw, digest, prefix, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	expired := time.Now().Add(-time.Hour)

	a, _, tokenMock := newAuthenticator(t, nil)
	tokenMock.ExpectQuery("SELECT.*FROM tokens WHERE token_hash").
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("tok-1", "user-1", "CI Token", nil, digest, prefix, expired, nil, time.Now()))

	_, err = a.Authenticate(context.Background(), "Bearer "+raw)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestAuthenticate_Opaque_UnknownDigest(t *testing.T) {
	a, _, tokenMock := newAuthenticator(t, nil)
	tokenMock.ExpectQuery("SELECT.*FROM tokens WHERE token_hash").
		WillReturnRows(sqlmock.NewRows(tokenCols))

	_, err := a.Authenticate(context.Background(), "Bearer sbom_neverissued")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestAuthenticate_UnrecognizedValue(t *testing.T) {
	a, _, _ := newAuthenticator(t, nil)

	_, err := a.Authenticate(context.Background(), "Bearer some-random-string")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestAuthenticate_ExternalFailureFallsThrough(t *testing.T) {
	raw, digest, prefix, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	stub := &stubVerifier{err: errors.New("signature mismatch")}

	a, userMock, tokenMock := newAuthenticator(t, stub)
	tokenMock.ExpectQuery("SELECT.*FROM tokens WHERE token_hash").
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("tok-1", "user-1", "CI Token", nil, digest, prefix, nil, nil, time.Now()))
	userMock.ExpectQuery("SELECT.*FROM users WHERE id").
		WillReturnRows(sampleUserRow())
	tokenMock.ExpectExec("UPDATE tokens SET last_used_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	identity, err := a.Authenticate(context.Background(), "Bearer "+raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.Scheme != SchemeOpaque {
		t.Errorf("Scheme = %s, want %s", identity.Scheme, SchemeOpaque)
	}
}
