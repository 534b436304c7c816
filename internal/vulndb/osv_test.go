package vulndb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/autothreat/autothreat-backend/internal/config"
	"github.com/autothreat/autothreat-backend/internal/sbom"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(&config.VulndbConfig{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})
	return client, srv
}

func TestCorrelate_FindsVulnerabilities(t *testing.T) {
	var batchCalls, vulnCalls int

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/querybatch":
			batchCalls++
			var req struct {
				Queries []batchQuery `json:"queries"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if len(req.Queries) != 2 {
				t.Errorf("len(queries) = %d, want 2", len(req.Queries))
			}
			if req.Queries[0].Package.Purl != "pkg:npm/lodash@4.17.20" {
				t.Errorf("queries[0].purl = %s", req.Queries[0].Package.Purl)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"results": []any{
					map[string]any{"vulns": []any{map[string]any{"id": "GHSA-35jh-r3h4-6jhm"}}},
					map[string]any{},
				},
			})
		case "/v1/vulns/GHSA-35jh-r3h4-6jhm":
			vulnCalls++
			json.NewEncoder(w).Encode(map[string]any{
				"id":                "GHSA-35jh-r3h4-6jhm",
				"database_specific": map[string]any{"severity": "HIGH"},
				"affected": []any{map[string]any{
					"ranges": []any{map[string]any{
						"events": []any{
							map[string]any{"introduced": "0"},
							map[string]any{"fixed": "4.17.21"},
						},
					}},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))

	packages := []sbom.Package{
		{Name: "lodash", Version: "4.17.20", Purl: "pkg:npm/lodash@4.17.20", Ecosystem: "npm"},
		{Name: "left-pad", Version: "1.3.0", Purl: "pkg:npm/left-pad@1.3.0", Ecosystem: "npm"},
	}

	findings, err := client.Correlate(context.Background(), packages)
	if err != nil {
		t.Fatalf("Correlate() error: %v", err)
	}

	if len(findings) != 1 {
		t.Fatalf("len(findings) = %d, want 1", len(findings))
	}
	f := findings[0]
	if f.VulnerabilityID != "GHSA-35jh-r3h4-6jhm" {
		t.Errorf("VulnerabilityID = %s", f.VulnerabilityID)
	}
	if f.PackageName != "lodash" {
		t.Errorf("PackageName = %s, want lodash", f.PackageName)
	}
	if f.Severity != "high" {
		t.Errorf("Severity = %s, want high", f.Severity)
	}
	if f.FixedVersion != "4.17.21" {
		t.Errorf("FixedVersion = %s, want 4.17.21", f.FixedVersion)
	}
	if f.AffectedRange != "< 4.17.21" {
		t.Errorf("AffectedRange = %q, want %q", f.AffectedRange, "< 4.17.21")
	}

	if batchCalls != 1 || vulnCalls != 1 {
		t.Errorf("calls = (%d batch, %d vuln), want (1, 1)", batchCalls, vulnCalls)
	}
}

func TestCorrelate_HydratesEachVulnOnce(t *testing.T) {
	var vulnCalls int

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/querybatch":
			vuln := map[string]any{"vulns": []any{map[string]any{"id": "CVE-2024-0001"}}}
			json.NewEncoder(w).Encode(map[string]any{"results": []any{vuln, vuln}})
		case "/v1/vulns/CVE-2024-0001":
			vulnCalls++
			json.NewEncoder(w).Encode(map[string]any{"id": "CVE-2024-0001"})
		default:
			http.NotFound(w, r)
		}
	}))

	packages := []sbom.Package{
		{Name: "a", Version: "1", Purl: "pkg:npm/a@1"},
		{Name: "b", Version: "2", Purl: "pkg:npm/b@2"},
	}

	findings, err := client.Correlate(context.Background(), packages)
	if err != nil {
		t.Fatalf("Correlate() error: %v", err)
	}
	if len(findings) != 2 {
		t.Errorf("len(findings) = %d, want 2", len(findings))
	}
	if vulnCalls != 1 {
		t.Errorf("vuln record fetched %d times, want 1", vulnCalls)
	}
	if findings[0].Severity != "unknown" {
		t.Errorf("Severity = %s, want unknown when record has none", findings[0].Severity)
	}
}

func TestCorrelate_ServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.Correlate(context.Background(), []sbom.Package{
		{Name: "a", Version: "1", Purl: "pkg:npm/a@1"},
	})
	if err == nil {
		t.Error("Correlate() expected error on server failure, got nil")
	}
}

func TestCorrelate_Disabled(t *testing.T) {
	client := NewClient(&config.VulndbConfig{Disabled: true, Timeout: time.Second})

	findings, err := client.Correlate(context.Background(), []sbom.Package{
		{Name: "a", Version: "1", Purl: "pkg:npm/a@1"},
	})
	if err != nil {
		t.Fatalf("Correlate() error: %v", err)
	}
	if findings != nil {
		t.Error("expected nil findings when disabled")
	}
}

func TestCorrelate_SkipsUnqueryablePackages(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no HTTP call expected when nothing is queryable")
	}))

	findings, err := client.Correlate(context.Background(), []sbom.Package{
		{Name: "mystery", Version: "1.0"},               // no purl, no ecosystem
		{Name: "odd", Ecosystem: "homebrew", Version: "2"}, // ecosystem OSV does not index here
	})
	if err != nil {
		t.Fatalf("Correlate() error: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("len(findings) = %d, want 0", len(findings))
	}
}

func TestQueryFor_NameEcosystemFallback(t *testing.T) {
	q, ok := queryFor(sbom.Package{Name: "requests", Version: "2.31.0", Ecosystem: "pypi"})
	if !ok {
		t.Fatal("queryFor() = false, want true")
	}
	if q.Package.Ecosystem != "PyPI" {
		t.Errorf("Ecosystem = %s, want PyPI", q.Package.Ecosystem)
	}
	if q.Version != "2.31.0" {
		t.Errorf("Version = %s, want 2.31.0", q.Version)
	}
}
