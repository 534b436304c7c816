// Package projects implements the project management endpoints. Every query
// is scoped to the authenticated owner; another user's project reads as not
// found rather than forbidden.
package projects

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/autothreat/autothreat-backend/internal/db/models"
	"github.com/autothreat/autothreat-backend/internal/db/repositories"
	"github.com/autothreat/autothreat-backend/internal/middleware"
	"github.com/autothreat/autothreat-backend/internal/safego"
	"github.com/autothreat/autothreat-backend/internal/storage"
)

// artifactCleanupTimeout bounds the background artifact deletes after a
// project or SBOM row is removed
const artifactCleanupTimeout = 30 * time.Second

// Handlers handles project management endpoints
type Handlers struct {
	projectRepo *repositories.ProjectRepository
	sbomRepo    *repositories.SbomRepository
	store       storage.Store
}

// NewHandlers creates a new project Handlers instance. The store is used for
// best-effort artifact cleanup when a project is deleted; nil disables it.
func NewHandlers(db *sqlx.DB, sbomRepo *repositories.SbomRepository, store storage.Store) *Handlers {
	return &Handlers{
		projectRepo: repositories.NewProjectRepository(db),
		sbomRepo:    sbomRepo,
		store:       store,
	}
}

// CreateProjectRequest represents the request to create a project explicitly
type CreateProjectRequest struct {
	Name        string   `json:"name" binding:"required"`
	RepoURL     string   `json:"repo_url"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func projectJSON(p *models.Project) gin.H {
	var latest interface{}
	if p.LatestSbomID != nil {
		latest = *p.LatestSbomID
	}
	return gin.H{
		"id":             p.ID,
		"name":           p.ProjectName,
		"repo_url":       p.RepoURL,
		"description":    p.Description,
		"tags":           p.TagList(),
		"latest_sbom_id": latest,
		"sbom_count":     p.SbomCount,
		"created_at":     p.CreatedAt.Format(time.RFC3339),
	}
}

// @Summary      List projects
// @Description  List the caller's projects with per-project SBOM counts, newest first.
// @Tags         Projects
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "List of projects"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/projects [get]
// ListHandler lists the authenticated user's projects
// GET /api/v1/projects
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		projects, err := h.projectRepo.ListByOwner(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list projects",
			})
			return
		}

		resp := make([]gin.H, 0, len(projects))
		for _, p := range projects {
			resp = append(resp, projectJSON(p))
		}

		c.JSON(http.StatusOK, gin.H{
			"projects": resp,
		})
	}
}

// @Summary      Get project
// @Description  Retrieve one of the caller's projects by ID.
// @Tags         Projects
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Project ID"
// @Success      200  {object}  map[string]interface{}  "Project details"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Project not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/projects/{id} [get]
// GetHandler retrieves a single project
// GET /api/v1/projects/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		project, err := h.projectRepo.GetByIDAndOwner(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve project",
			})
			return
		}
		if project == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Project not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"project": projectJSON(project),
		})
	}
}

// @Summary      Create project
// @Description  Create a project explicitly. Projects are also auto-provisioned on first SBOM sync.
// @Tags         Projects
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateProjectRequest  true  "Project creation request"
// @Success      201  {object}  map[string]interface{}  "Project created"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      409  {object}  map[string]interface{}  "Project name already exists"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/projects [post]
// CreateHandler creates a new project
// POST /api/v1/projects
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}

		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		var tags json.RawMessage
		if req.Tags != nil {
			encoded, err := json.Marshal(req.Tags)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid tags",
				})
				return
			}
			tags = encoded
		}

		project := &models.Project{
			UserID:      userID,
			ProjectName: req.Name,
			RepoURL:     req.RepoURL,
			Description: req.Description,
			Tags:        tags,
		}

		if err := h.projectRepo.Create(c.Request.Context(), project); err != nil {
			if repositories.IsUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{
					"error": "A project with this name already exists",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create project",
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"project": projectJSON(project),
		})
	}
}

// @Summary      Delete project
// @Description  Delete a project and its SBOM records. Stored artifacts are removed best-effort; a failed artifact delete does not fail the request.
// @Tags         Projects
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Project ID"
// @Success      200  {object}  map[string]interface{}  "Deletion confirmation"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Project not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/projects/{id} [delete]
// DeleteHandler deletes a project and its SBOMs
// DELETE /api/v1/projects/:id
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		projectID := c.Param("id")

		// Snapshot the SBOM list before the row cascade removes it.
		sboms, err := h.sbomRepo.ListByProject(c.Request.Context(), projectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve project SBOMs",
			})
			return
		}

		matched, err := h.projectRepo.DeleteByIDAndOwner(c.Request.Context(), projectID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete project",
			})
			return
		}
		if !matched {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Project not found",
			})
			return
		}

		h.cleanupArtifacts(projectID, sboms)

		c.JSON(http.StatusOK, gin.H{
			"message": "Project deleted",
		})
	}
}

// cleanupArtifacts removes stored SBOM documents in the background. Artifacts
// on a different backend than the active store (fallback writes, placeholder
// locators) are left in place.
func (h *Handlers) cleanupArtifacts(projectID string, sboms []*models.Sbom) {
	if h.store == nil || len(sboms) == 0 {
		return
	}

	backend := h.store.Backend()
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), artifactCleanupTimeout)
		defer cancel()

		for _, s := range sboms {
			if s.StorageType != backend {
				continue
			}
			key := storage.ArtifactKey(projectID, s.ID)
			if err := h.store.Delete(ctx, key); err != nil {
				slog.Warn("failed to delete sbom artifact",
					"project_id", projectID,
					"sbom_id", s.ID,
					"error", err,
				)
			}
		}
	})
}
