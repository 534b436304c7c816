// Package vulndb correlates SBOM package inventories against the OSV.dev
// vulnerability database over its public HTTP API. Correlation is best-effort
// by contract: callers treat any error here as a degraded ingest, never a
// failed one.
package vulndb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/autothreat/autothreat-backend/internal/config"
	"github.com/autothreat/autothreat-backend/internal/db/models"
	"github.com/autothreat/autothreat-backend/internal/sbom"
	"github.com/autothreat/autothreat-backend/internal/telemetry"
)

// purl types to OSV ecosystem names
var osvEcosystems = map[string]string{
	"npm":      "npm",
	"pypi":     "PyPI",
	"golang":   "Go",
	"maven":    "Maven",
	"cargo":    "crates.io",
	"composer": "Packagist",
	"gem":      "RubyGems",
	"nuget":    "NuGet",
}

// Client queries the OSV.dev API
type Client struct {
	baseURL    string
	httpClient *http.Client
	disabled   bool
}

// NewClient creates an OSV client from configuration
func NewClient(cfg *config.VulndbConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		disabled:   cfg.Disabled,
	}
}

type batchQuery struct {
	Package struct {
		Purl      string `json:"purl,omitempty"`
		Name      string `json:"name,omitempty"`
		Ecosystem string `json:"ecosystem,omitempty"`
	} `json:"package"`
	Version string `json:"version,omitempty"`
}

type batchResponse struct {
	Results []struct {
		Vulns []struct {
			ID string `json:"id"`
		} `json:"vulns"`
	} `json:"results"`
}

// vulnRecord is the subset of an OSV vulnerability used for findings
type vulnRecord struct {
	ID               string `json:"id"`
	DatabaseSpecific struct {
		Severity string `json:"severity"`
	} `json:"database_specific"`
	Affected []struct {
		Ranges []struct {
			Events []struct {
				Introduced string `json:"introduced"`
				Fixed      string `json:"fixed"`
			} `json:"events"`
		} `json:"ranges"`
	} `json:"affected"`
}

// Correlate looks up known vulnerabilities for the given package inventory.
// Packages with neither a purl nor a recognizable ecosystem are skipped.
func (c *Client) Correlate(ctx context.Context, packages []sbom.Package) ([]models.Finding, error) {
	if c.disabled {
		telemetry.VulnLookupsTotal.WithLabelValues("disabled").Inc()
		return nil, nil
	}
	if len(packages) == 0 {
		return nil, nil
	}

	queried := make([]sbom.Package, 0, len(packages))
	queries := make([]batchQuery, 0, len(packages))
	for _, pkg := range packages {
		q, ok := queryFor(pkg)
		if !ok {
			continue
		}
		queried = append(queried, pkg)
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		return nil, nil
	}

	batch, err := c.queryBatch(ctx, queries)
	if err != nil {
		c.countError(err)
		return nil, err
	}

	// Hydrate each distinct vulnerability once per correlation run
	records := make(map[string]*vulnRecord)
	var findings []models.Finding

	for i, result := range batch.Results {
		if i >= len(queried) {
			break
		}
		pkg := queried[i]

		for _, v := range result.Vulns {
			record, ok := records[v.ID]
			if !ok {
				record, err = c.getVuln(ctx, v.ID)
				if err != nil {
					c.countError(err)
					return nil, err
				}
				records[v.ID] = record
			}

			finding := models.Finding{
				PackageName:     pkg.Name,
				PackageVersion:  pkg.Version,
				Purl:            pkg.Purl,
				VulnerabilityID: record.ID,
				Severity:        severityOf(record),
			}
			finding.AffectedRange, finding.FixedVersion = rangeOf(record)
			findings = append(findings, finding)
		}
	}

	telemetry.VulnLookupsTotal.WithLabelValues("ok").Inc()
	return findings, nil
}

func (c *Client) countError(err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		telemetry.VulnLookupsTotal.WithLabelValues("timeout").Inc()
		return
	}
	telemetry.VulnLookupsTotal.WithLabelValues("error").Inc()
}

// queryFor builds the OSV query for one package. Purl queries take priority;
// without one, the package needs a name, version, and known ecosystem.
func queryFor(pkg sbom.Package) (batchQuery, bool) {
	var q batchQuery

	if pkg.Purl != "" {
		q.Package.Purl = pkg.Purl
		return q, true
	}

	ecosystem, ok := osvEcosystems[pkg.Ecosystem]
	if !ok || pkg.Name == "" || pkg.Version == "" {
		return q, false
	}

	q.Package.Name = pkg.Name
	q.Package.Ecosystem = ecosystem
	q.Version = pkg.Version
	return q, true
}

func (c *Client) queryBatch(ctx context.Context, queries []batchQuery) (*batchResponse, error) {
	body, err := json.Marshal(map[string]any{"queries": queries})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/querybatch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osv querybatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osv querybatch: unexpected status %d", resp.StatusCode)
	}

	var batch batchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&batch); err != nil {
		return nil, fmt.Errorf("osv querybatch: decode response: %w", err)
	}

	return &batch, nil
}

func (c *Client) getVuln(ctx context.Context, id string) (*vulnRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/vulns/"+id, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osv vulns/%s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osv vulns/%s: unexpected status %d", id, resp.StatusCode)
	}

	var record vulnRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&record); err != nil {
		return nil, fmt.Errorf("osv vulns/%s: decode response: %w", id, err)
	}

	return &record, nil
}

func severityOf(record *vulnRecord) string {
	if s := record.DatabaseSpecific.Severity; s != "" {
		return strings.ToLower(s)
	}
	return "unknown"
}

// rangeOf summarizes the first affected range of a record
func rangeOf(record *vulnRecord) (affectedRange string, fixedVersion string) {
	for _, affected := range record.Affected {
		for _, r := range affected.Ranges {
			var introduced, fixed string
			for _, e := range r.Events {
				if e.Introduced != "" {
					introduced = e.Introduced
				}
				if e.Fixed != "" {
					fixed = e.Fixed
				}
			}

			switch {
			case fixed != "" && introduced != "" && introduced != "0":
				return fmt.Sprintf(">= %s, < %s", introduced, fixed), fixed
			case fixed != "":
				return fmt.Sprintf("< %s", fixed), fixed
			case introduced != "" && introduced != "0":
				return fmt.Sprintf(">= %s", introduced), ""
			}
		}
	}
	return "", ""
}
