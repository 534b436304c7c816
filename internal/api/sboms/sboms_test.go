package sboms

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/autothreat/autothreat-backend/internal/db/repositories"
	"github.com/autothreat/autothreat-backend/internal/middleware"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var (
	sbomCols    = []string{"id", "project_id", "storage_url", "storage_type", "format", "tool", "commit_hash", "components_count", "vulnerabilities_found", "generated_at", "created_at"}
	projectCols = []string{"id", "user_id", "project_name", "repo_url", "description", "tags", "latest_sbom_id", "created_at", "sbom_count"}
	findingCols = []string{"id", "sbom_id", "package_name", "package_version", "purl", "vulnerability_id", "severity", "affected_range", "fixed_version", "created_at"}
)

func sampleSbomRow() *sqlmock.Rows {
	return sqlmock.NewRows(sbomCols).
		AddRow("sbom-1", "proj-1", "s3://artifacts/sboms/proj-1/sbom-1.json", "s3",
			"CycloneDX", "github-action", "abc123", 42, 2, time.Now(), time.Now())
}

func newSbomRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()

	sbomDB, sbomMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sbomDB.Close() })

	projectDB, projectMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { projectDB.Close() })

	h := NewHandlers(repositories.NewSbomRepository(sbomDB), sqlx.NewDb(projectDB, "sqlmock"), nil)

	router := gin.New()
	identity := func(c *gin.Context) { c.Set(middleware.UserIDKey, "user-1") }
	router.GET("/api/v1/sboms", identity, h.ListHandler())
	router.GET("/api/v1/sboms/:id", identity, h.GetHandler())
	router.GET("/api/v1/sboms/:id/findings", identity, h.FindingsHandler())
	router.DELETE("/api/v1/sboms/:id", identity, h.DeleteHandler())

	return router, sbomMock, projectMock
}

func TestListHandler(t *testing.T) {
	router, sbomMock, projectMock := newSbomRouter(t)

	projectMock.ExpectQuery("SELECT.*FROM projects WHERE id").
		WithArgs("proj-1", "user-1").
		WillReturnRows(sqlmock.NewRows(projectCols).
			AddRow("proj-1", "user-1", "backend", "", "", []byte(`[]`), nil, time.Now(), 0))
	sbomMock.ExpectQuery("SELECT.*FROM sboms WHERE project_id").
		WithArgs("proj-1").
		WillReturnRows(sampleSbomRow())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sboms?project=proj-1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Sboms []struct {
			ID              string `json:"id"`
			Format          string `json:"format"`
			ComponentsCount int    `json:"components_count"`
		} `json:"sboms"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Sboms) != 1 || resp.Sboms[0].ID != "sbom-1" || resp.Sboms[0].ComponentsCount != 42 {
		t.Errorf("sboms = %+v", resp.Sboms)
	}
}

func TestListHandler_MissingProjectParam(t *testing.T) {
	router, _, _ := newSbomRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sboms", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListHandler_ForeignProject(t *testing.T) {
	router, _, projectMock := newSbomRouter(t)

	projectMock.ExpectQuery("SELECT.*FROM projects WHERE id").
		WithArgs("proj-2", "user-1").
		WillReturnRows(sqlmock.NewRows(projectCols))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sboms?project=proj-2", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetHandler(t *testing.T) {
	router, sbomMock, _ := newSbomRouter(t)

	sbomMock.ExpectQuery("SELECT.*FROM sboms s.*JOIN projects p").
		WithArgs("sbom-1", "user-1").
		WillReturnRows(sampleSbomRow())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sboms/sbom-1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}
}

func TestGetHandler_NotOwned(t *testing.T) {
	router, sbomMock, _ := newSbomRouter(t)

	sbomMock.ExpectQuery("SELECT.*FROM sboms s.*JOIN projects p").
		WithArgs("sbom-9", "user-1").
		WillReturnRows(sqlmock.NewRows(sbomCols))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sboms/sbom-9", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestFindingsHandler(t *testing.T) {
	router, sbomMock, _ := newSbomRouter(t)

	sbomMock.ExpectQuery("SELECT.*FROM sboms s.*JOIN projects p").
		WithArgs("sbom-1", "user-1").
		WillReturnRows(sampleSbomRow())
	sbomMock.ExpectQuery("SELECT.*FROM sbom_findings").
		WithArgs("sbom-1").
		WillReturnRows(sqlmock.NewRows(findingCols).
			AddRow("f-1", "sbom-1", "lodash", "4.17.20", "pkg:npm/lodash@4.17.20",
				"GHSA-35jh-r3h4-6jhm", "high", "< 4.17.21", "4.17.21", time.Now()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sboms/sbom-1/findings", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Findings []struct {
			PackageName     string `json:"package_name"`
			VulnerabilityID string `json:"vulnerability_id"`
			Severity        string `json:"severity"`
			FixedVersion    string `json:"fixed_version"`
		} `json:"findings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(resp.Findings))
	}
	f := resp.Findings[0]
	if f.PackageName != "lodash" || f.VulnerabilityID != "GHSA-35jh-r3h4-6jhm" || f.Severity != "high" {
		t.Errorf("finding = %+v", f)
	}
}

func TestDeleteHandler(t *testing.T) {
	router, sbomMock, _ := newSbomRouter(t)

	sbomMock.ExpectQuery("SELECT.*FROM sboms s.*JOIN projects p").
		WithArgs("sbom-1", "user-1").
		WillReturnRows(sampleSbomRow())
	sbomMock.ExpectBegin()
	sbomMock.ExpectExec("UPDATE projects SET latest_sbom_id = NULL").
		WithArgs("sbom-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	sbomMock.ExpectExec("DELETE FROM sboms").
		WithArgs("sbom-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	sbomMock.ExpectCommit()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/sboms/sbom-1", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}
}

func TestDeleteHandler_NotOwned(t *testing.T) {
	router, sbomMock, _ := newSbomRouter(t)

	sbomMock.ExpectQuery("SELECT.*FROM sboms s.*JOIN projects p").
		WithArgs("sbom-9", "user-1").
		WillReturnRows(sqlmock.NewRows(sbomCols))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/sboms/sbom-9", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
