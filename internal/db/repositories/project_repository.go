// project_repository.go implements ProjectRepository on sqlx, providing
// find-or-create resolution for the ingestion pipeline plus the owner-scoped
// CRUD queries behind the projects endpoints.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/autothreat/autothreat-backend/internal/db/models"
)

// ProjectRepository handles project database operations
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository creates a new ProjectRepository
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = "id, user_id, project_name, repo_url, description, tags, latest_sbom_id, created_at"

// GetByOwnerAndName retrieves a project by its unique (owner, name) pair
func (r *ProjectRepository) GetByOwnerAndName(ctx context.Context, userID, projectName string) (*models.Project, error) {
	var project models.Project
	query := `SELECT ` + projectColumns + `, 0 AS sbom_count FROM projects WHERE user_id = $1 AND project_name = $2`

	err := r.db.GetContext(ctx, &project, query, userID, projectName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// GetByIDAndOwner retrieves a project by ID, scoped to its owner
func (r *ProjectRepository) GetByIDAndOwner(ctx context.Context, projectID, userID string) (*models.Project, error) {
	var project models.Project
	query := `SELECT ` + projectColumns + `, 0 AS sbom_count FROM projects WHERE id = $1 AND user_id = $2`

	err := r.db.GetContext(ctx, &project, query, projectID, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// Create inserts a new project. ID and CreatedAt are assigned here. Tags nil
// defaults to an empty JSON array. A duplicate (owner, name) fails on the
// unique constraint; callers decide whether that is a conflict or a benign
// race to re-read.
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	project.ID = uuid.New().String()
	project.CreatedAt = time.Now()
	if len(project.Tags) == 0 {
		project.Tags = json.RawMessage("[]")
	}

	query := `
		INSERT INTO projects (id, user_id, project_name, repo_url, description, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		project.ID,
		project.UserID,
		project.ProjectName,
		project.RepoURL,
		project.Description,
		project.Tags,
		project.CreatedAt,
	)

	return err
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation, used to classify the create-or-fetch race on first sync.
func IsUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// ListByOwner returns the owner's projects with their SBOM counts, newest first
func (r *ProjectRepository) ListByOwner(ctx context.Context, userID string) ([]*models.Project, error) {
	var projects []*models.Project
	query := `
		SELECT p.id, p.user_id, p.project_name, p.repo_url, p.description, p.tags,
		       p.latest_sbom_id, p.created_at,
		       COUNT(s.id) AS sbom_count
		FROM projects p
		LEFT JOIN sboms s ON s.project_id = p.id
		WHERE p.user_id = $1
		GROUP BY p.id
		ORDER BY p.created_at DESC
	`

	if err := r.db.SelectContext(ctx, &projects, query, userID); err != nil {
		return nil, err
	}
	return projects, nil
}

// UpdateLatestSbom points the project at its most recent SBOM record
func (r *ProjectRepository) UpdateLatestSbom(ctx context.Context, projectID, sbomID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE projects SET latest_sbom_id = $1 WHERE id = $2`, sbomID, projectID)
	return err
}

// DeleteByIDAndOwner deletes a project owned by the given user; SBOM rows go
// with it via ON DELETE CASCADE. Returns false when no row matched.
func (r *ProjectRepository) DeleteByIDAndOwner(ctx context.Context, projectID, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
