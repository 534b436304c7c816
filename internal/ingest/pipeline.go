// Package ingest implements the SBOM sync pipeline: validate the document,
// resolve the target project, correlate the package inventory against the
// vulnerability database, store the raw artifact, and persist the record.
// Correlation and artifact storage are best-effort; a failure there degrades
// the receipt instead of failing the sync. Database persistence is the only
// fatal step after validation.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/autothreat/autothreat-backend/internal/db/models"
	"github.com/autothreat/autothreat-backend/internal/db/repositories"
	"github.com/autothreat/autothreat-backend/internal/sbom"
	"github.com/autothreat/autothreat-backend/internal/storage"
	"github.com/autothreat/autothreat-backend/internal/telemetry"
)

// Receipt statuses
const (
	StatusSuccess = "success"

	// StatusDegraded means the SBOM record was persisted but a best-effort
	// step (vulnerability correlation or artifact storage) fell back
	StatusDegraded = "degraded"
)

// Defaults recorded when sync metadata omits a field
const (
	defaultTool       = "github-action"
	defaultCommitHash = "unknown"
)

// ErrInvalidDocument wraps document validation failures; handlers map it to
// a client error rather than a server error
var ErrInvalidDocument = errors.New("invalid sbom document")

// Correlator looks up known vulnerabilities for a package inventory.
// Satisfied by *vulndb.Client.
type Correlator interface {
	Correlate(ctx context.Context, packages []sbom.Package) ([]models.Finding, error)
}

// SyncRequest is one SBOM upload
type SyncRequest struct {
	ProjectName string
	Document    json.RawMessage
	Source      string
	CommitHash  string
	// Format overrides the format inferred from the document when set
	Format string
}

// Receipt is returned to the uploader after a sync
type Receipt struct {
	ID                   string    `json:"id"`
	Status               string    `json:"status"`
	Project              string    `json:"project"`
	ProjectID            string    `json:"project_id"`
	SbomID               string    `json:"sbom_id"`
	Format               string    `json:"format"`
	Tool                 string    `json:"tool"`
	CommitHash           string    `json:"commit_hash"`
	ComponentsCount      int       `json:"components_count"`
	VulnerabilitiesFound int       `json:"vulnerabilities_found"`
	StorageURL           string    `json:"storage_url"`
	StorageType          string    `json:"storage_type"`
	SyncedAt             time.Time `json:"synced_at"`
}

// Pipeline wires the sync steps together
type Pipeline struct {
	projects   *repositories.ProjectRepository
	sboms      *repositories.SbomRepository
	store      storage.Store
	fallback   storage.Store // optional local fallback for artifact writes
	correlator Correlator    // optional
}

// New creates a Pipeline. fallback and correlator may be nil.
func New(projects *repositories.ProjectRepository, sboms *repositories.SbomRepository, store storage.Store, fallback storage.Store, correlator Correlator) *Pipeline {
	return &Pipeline{
		projects:   projects,
		sboms:      sboms,
		store:      store,
		fallback:   fallback,
		correlator: correlator,
	}
}

// Sync runs the full ingestion pipeline for one uploaded document
func (p *Pipeline) Sync(ctx context.Context, userID string, req SyncRequest) (*Receipt, error) {
	doc, err := sbom.Parse(req.Document)
	if err != nil {
		telemetry.SbomSyncsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if req.Format != "" {
		doc.Format = req.Format
	}

	project, err := p.resolveProject(ctx, userID, req.ProjectName)
	if err != nil {
		telemetry.SbomSyncsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	status := StatusSuccess

	findings, err := p.correlate(ctx, doc)
	if err != nil {
		slog.Warn("vulnerability correlation failed, continuing without findings",
			"project", project.ProjectName,
			"error", err,
		)
		status = StatusDegraded
		findings = nil
	}

	sbomID := uuid.New().String()

	locator, storageType, stored := p.storeArtifact(ctx, project.ID, sbomID, doc.Raw)
	if !stored {
		status = StatusDegraded
	}

	generatedAt := doc.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	record := &models.Sbom{
		ID:                   sbomID,
		ProjectID:            project.ID,
		StorageURL:           locator,
		StorageType:          storageType,
		Format:               doc.Format,
		Tool:                 valueOr(req.Source, defaultTool),
		CommitHash:           valueOr(req.CommitHash, defaultCommitHash),
		ComponentsCount:      doc.ComponentsCount(),
		VulnerabilitiesFound: len(findings),
		GeneratedAt:          generatedAt,
	}

	if err := p.sboms.Create(ctx, record); err != nil {
		telemetry.SbomSyncsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("persist sbom record: %w", err)
	}

	if err := p.sboms.CreateFindings(ctx, record.ID, findings); err != nil {
		telemetry.SbomSyncsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("persist findings: %w", err)
	}

	if err := p.projects.UpdateLatestSbom(ctx, project.ID, record.ID); err != nil {
		telemetry.SbomSyncsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("update latest sbom pointer: %w", err)
	}

	telemetry.SbomSyncsTotal.WithLabelValues(status).Inc()
	telemetry.SbomComponentsIngested.Add(float64(doc.ComponentsCount()))

	return &Receipt{
		ID:                   record.ID,
		Status:               status,
		Project:              project.ProjectName,
		ProjectID:            project.ID,
		SbomID:               record.ID,
		Format:               record.Format,
		Tool:                 record.Tool,
		CommitHash:           record.CommitHash,
		ComponentsCount:      record.ComponentsCount,
		VulnerabilitiesFound: record.VulnerabilitiesFound,
		StorageURL:           record.StorageURL,
		StorageType:          record.StorageType,
		SyncedAt:             record.CreatedAt,
	}, nil
}

// resolveProject finds the owner's project by name, creating it on first
// sync. A concurrent first sync loses the insert race benignly: the loser
// re-reads the winner's row.
func (p *Pipeline) resolveProject(ctx context.Context, userID, projectName string) (*models.Project, error) {
	project, err := p.projects.GetByOwnerAndName(ctx, userID, projectName)
	if err != nil {
		return nil, fmt.Errorf("look up project: %w", err)
	}
	if project != nil {
		return project, nil
	}

	project = &models.Project{
		UserID:      userID,
		ProjectName: projectName,
		RepoURL:     fmt.Sprintf("https://github.com/%s", projectName),
		Description: fmt.Sprintf("Project %s", projectName),
	}

	err = p.projects.Create(ctx, project)
	if err == nil {
		return project, nil
	}
	if !repositories.IsUniqueViolation(err) {
		return nil, fmt.Errorf("create project: %w", err)
	}

	project, err = p.projects.GetByOwnerAndName(ctx, userID, projectName)
	if err != nil {
		return nil, fmt.Errorf("re-read project after create race: %w", err)
	}
	if project == nil {
		return nil, fmt.Errorf("project %s vanished after create race", projectName)
	}
	return project, nil
}

func (p *Pipeline) correlate(ctx context.Context, doc *sbom.Document) ([]models.Finding, error) {
	if p.correlator == nil {
		return nil, nil
	}
	return p.correlator.Correlate(ctx, doc.Packages)
}

// storeArtifact writes the raw document to the primary store, then the local
// fallback, and finally records an unresolved placeholder locator so the sync
// can still complete. Returns stored=false when the primary write failed.
func (p *Pipeline) storeArtifact(ctx context.Context, projectID, sbomID string, raw json.RawMessage) (locator string, storageType string, stored bool) {
	key := storage.ArtifactKey(projectID, sbomID)

	result, err := p.store.Upload(ctx, key, bytes.NewReader(raw), int64(len(raw)))
	if err == nil {
		telemetry.ArtifactUploadsTotal.WithLabelValues(p.store.Backend(), "ok").Inc()
		return result.Locator, p.store.Backend(), true
	}

	telemetry.ArtifactUploadsTotal.WithLabelValues(p.store.Backend(), "error").Inc()
	slog.Warn("artifact upload failed",
		"backend", p.store.Backend(),
		"key", key,
		"error", err,
	)

	if p.fallback != nil {
		result, ferr := p.fallback.Upload(ctx, key, bytes.NewReader(raw), int64(len(raw)))
		if ferr == nil {
			telemetry.ArtifactUploadsTotal.WithLabelValues(p.fallback.Backend(), "ok").Inc()
			return result.Locator, p.fallback.Backend(), false
		}
		telemetry.ArtifactUploadsTotal.WithLabelValues(p.fallback.Backend(), "error").Inc()
		slog.Warn("fallback artifact upload failed", "key", key, "error", ferr)
	}

	placeholder := fmt.Sprintf("sbom_%s_%d.json", projectID, time.Now().Unix())
	return placeholder, models.StorageTypeLocal, false
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
