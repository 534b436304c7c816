package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/autothreat/autothreat-backend/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var tokenCols = []string{
	"id", "user_id", "name", "description",
	"token_hash", "token_prefix", "expires_at", "last_used_at", "created_at",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleTokenRow() *sqlmock.Rows {
	return sqlmock.NewRows(tokenCols).
		AddRow("tok-1", "user-1", "CI Token", nil, "hasheddigest", "sbom_abc12", nil, nil, time.Now())
}

func emptyTokenRow() *sqlmock.Rows {
	return sqlmock.NewRows(tokenCols)
}

func newTokenRepo(t *testing.T) (*TokenRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTokenRepository(db), mock
}

// ---------------------------------------------------------------------------
// CreateToken
// ---------------------------------------------------------------------------

func TestCreateToken_Success(t *testing.T) {
	repo, mock := newTokenRepo(t)
	mock.ExpectExec("INSERT INTO tokens").
		WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.Token{
		UserID:      "user-1",
		Name:        "CI Token",
		TokenHash:   "hasheddigest",
		TokenPrefix: "sbom_abc12",
	}
	if err := repo.CreateToken(context.Background(), token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if token.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be assigned")
	}
}

func TestCreateToken_DBError(t *testing.T) {
	repo, mock := newTokenRepo(t)
	mock.ExpectExec("INSERT INTO tokens").
		WillReturnError(errDB)

	token := &models.Token{UserID: "user-1", Name: "t", TokenHash: "h", TokenPrefix: "p"}
	if err := repo.CreateToken(context.Background(), token); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetTokenByHash
// ---------------------------------------------------------------------------

func TestGetTokenByHash_Found(t *testing.T) {
	repo, mock := newTokenRepo(t)
	mock.ExpectQuery("SELECT.*FROM tokens WHERE token_hash").
		WithArgs("hasheddigest").
		WillReturnRows(sampleTokenRow())

	token, err := repo.GetTokenByHash(context.Background(), "hasheddigest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == nil {
		t.Fatal("expected token, got nil")
	}
	if token.UserID != "user-1" {
		t.Errorf("UserID = %s, want user-1", token.UserID)
	}
}

func TestGetTokenByHash_NotFound(t *testing.T) {
	repo, mock := newTokenRepo(t)
	mock.ExpectQuery("SELECT.*FROM tokens WHERE token_hash").
		WillReturnRows(emptyTokenRow())

	token, err := repo.GetTokenByHash(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != nil {
		t.Error("expected nil, got non-nil")
	}
}

// ---------------------------------------------------------------------------
// GetTokenByID
// ---------------------------------------------------------------------------

func TestGetTokenByID_Found(t *testing.T) {
	repo, mock := newTokenRepo(t)
	mock.ExpectQuery("SELECT.*FROM tokens WHERE id").
		WithArgs("tok-1").
		WillReturnRows(sampleTokenRow())

	token, err := repo.GetTokenByID(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == nil {
		t.Fatal("expected token, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListByUser
// ---------------------------------------------------------------------------

func TestListTokensByUser_Success(t *testing.T) {
	repo, mock := newTokenRepo(t)
	mock.ExpectQuery("SELECT.*FROM tokens WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sampleTokenRow())

	tokens, err := repo.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens) != 1 {
		t.Errorf("len(tokens) = %d, want 1", len(tokens))
	}
}

func TestListTokensByUser_Empty(t *testing.T) {
	repo, mock := newTokenRepo(t)
	mock.ExpectQuery("SELECT.*FROM tokens WHERE user_id").
		WillReturnRows(emptyTokenRow())

	tokens, err := repo.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("len(tokens) = %d, want 0", len(tokens))
	}
}

// ---------------------------------------------------------------------------
// DeleteByIDAndUser
// ---------------------------------------------------------------------------

func TestDeleteTokenByIDAndUser_Matched(t *testing.T) {
	repo, mock := newTokenRepo(t)
	mock.ExpectExec("DELETE FROM tokens WHERE id").
		WithArgs("tok-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := repo.DeleteByIDAndUser(context.Background(), "tok-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deleted {
		t.Error("expected deleted = true")
	}
}

func TestDeleteTokenByIDAndUser_NoMatch(t *testing.T) {
	repo, mock := newTokenRepo(t)
	mock.ExpectExec("DELETE FROM tokens WHERE id").
		WithArgs("tok-1", "other-user").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.DeleteByIDAndUser(context.Background(), "tok-1", "other-user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted {
		t.Error("expected deleted = false")
	}
}

// ---------------------------------------------------------------------------
// UpdateLastUsed
// ---------------------------------------------------------------------------

func TestUpdateTokenLastUsed_Success(t *testing.T) {
	repo, mock := newTokenRepo(t)
	mock.ExpectExec("UPDATE tokens SET last_used_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateLastUsed(context.Background(), "tok-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
