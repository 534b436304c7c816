package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/autothreat/autothreat-backend/internal/db/models"
)

// SbomRepository handles SBOM record and finding database operations
type SbomRepository struct {
	db *sql.DB
}

// NewSbomRepository creates a new SbomRepository
func NewSbomRepository(db *sql.DB) *SbomRepository {
	return &SbomRepository{db: db}
}

const sbomColumns = "id, project_id, storage_url, storage_type, format, tool, commit_hash, components_count, vulnerabilities_found, generated_at, created_at"

func scanSbom(row *sql.Row) (*models.Sbom, error) {
	var s models.Sbom
	err := row.Scan(
		&s.ID,
		&s.ProjectID,
		&s.StorageURL,
		&s.StorageType,
		&s.Format,
		&s.Tool,
		&s.CommitHash,
		&s.ComponentsCount,
		&s.VulnerabilitiesFound,
		&s.GeneratedAt,
		&s.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new SBOM record. CreatedAt is assigned here; the ID is
// kept when the caller pre-assigned one (the ingest pipeline does, because
// the artifact key embeds it before the row exists).
func (r *SbomRepository) Create(ctx context.Context, sbom *models.Sbom) error {
	if sbom.ID == "" {
		sbom.ID = uuid.New().String()
	}
	sbom.CreatedAt = time.Now()

	query := `
		INSERT INTO sboms (` + sbomColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		sbom.ID,
		sbom.ProjectID,
		sbom.StorageURL,
		sbom.StorageType,
		sbom.Format,
		sbom.Tool,
		sbom.CommitHash,
		sbom.ComponentsCount,
		sbom.VulnerabilitiesFound,
		sbom.GeneratedAt,
		sbom.CreatedAt,
	)

	return err
}

// CreateFindings batch-inserts the vulnerability findings for an SBOM inside
// a single transaction so a partial write never survives.
func (r *SbomRepository) CreateFindings(ctx context.Context, sbomID string, findings []models.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sbom_findings (id, sbom_id, package_name, package_version, purl, vulnerability_id, severity, affected_range, fixed_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i := range findings {
		f := &findings[i]
		f.ID = uuid.New().String()
		f.SbomID = sbomID
		f.CreatedAt = now

		_, err = stmt.ExecContext(ctx, f.ID, f.SbomID, f.PackageName, f.PackageVersion, f.Purl, f.VulnerabilityID, f.Severity, f.AffectedRange, f.FixedVersion, f.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetByIDAndOwner retrieves an SBOM record by ID, joined through projects so
// only the owning user can see it
func (r *SbomRepository) GetByIDAndOwner(ctx context.Context, sbomID, userID string) (*models.Sbom, error) {
	query := `
		SELECT s.id, s.project_id, s.storage_url, s.storage_type, s.format, s.tool, s.commit_hash,
		       s.components_count, s.vulnerabilities_found, s.generated_at, s.created_at
		FROM sboms s
		JOIN projects p ON p.id = s.project_id
		WHERE s.id = $1 AND p.user_id = $2
	`

	return scanSbom(r.db.QueryRowContext(ctx, query, sbomID, userID))
}

// ListByProject returns a project's SBOM records, newest first
func (r *SbomRepository) ListByProject(ctx context.Context, projectID string) ([]*models.Sbom, error) {
	query := `SELECT ` + sbomColumns + ` FROM sboms WHERE project_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sboms []*models.Sbom
	for rows.Next() {
		var s models.Sbom
		err := rows.Scan(
			&s.ID,
			&s.ProjectID,
			&s.StorageURL,
			&s.StorageType,
			&s.Format,
			&s.Tool,
			&s.CommitHash,
			&s.ComponentsCount,
			&s.VulnerabilitiesFound,
			&s.GeneratedAt,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		sboms = append(sboms, &s)
	}

	return sboms, rows.Err()
}

// ListFindings returns the findings recorded for an SBOM
func (r *SbomRepository) ListFindings(ctx context.Context, sbomID string) ([]models.Finding, error) {
	query := `
		SELECT id, sbom_id, package_name, package_version, purl, vulnerability_id, severity, affected_range, fixed_version, created_at
		FROM sbom_findings
		WHERE sbom_id = $1
		ORDER BY severity, package_name
	`

	rows, err := r.db.QueryContext(ctx, query, sbomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []models.Finding
	for rows.Next() {
		var f models.Finding
		err := rows.Scan(&f.ID, &f.SbomID, &f.PackageName, &f.PackageVersion, &f.Purl, &f.VulnerabilityID, &f.Severity, &f.AffectedRange, &f.FixedVersion, &f.CreatedAt)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}

	return findings, rows.Err()
}

// DeleteByIDAndOwner deletes an SBOM record owned by the given user and
// clears the project's latest pointer if it referenced it. Findings cascade.
// Returns false when no row matched.
func (r *SbomRepository) DeleteByIDAndOwner(ctx context.Context, sbomID, userID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE projects SET latest_sbom_id = NULL
		WHERE latest_sbom_id = $1 AND user_id = $2
	`, sbomID, userID)
	if err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM sboms s
		USING projects p
		WHERE s.id = $1 AND p.id = s.project_id AND p.user_id = $2
	`, sbomID, userID)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}
