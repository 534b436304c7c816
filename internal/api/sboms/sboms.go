// Package sboms implements the SBOM record endpoints: listing a project's
// ingestion history, inspecting a single record and its findings, and
// deleting a record together with its stored artifact.
package sboms

import (
	"context"
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

const artifactDeleteTimeout = 30 * time.Second

// Handlers handles SBOM record endpoints
type Handlers struct {
	sbomRepo    *repositories.SbomRepository
	projectRepo *repositories.ProjectRepository
	store       storage.Store
}

// NewHandlers creates a new SBOM Handlers instance. The store is used for
// best-effort artifact deletes; nil disables them.
func NewHandlers(sbomRepo *repositories.SbomRepository, db *sqlx.DB, store storage.Store) *Handlers {
	return &Handlers{
		sbomRepo:    sbomRepo,
		projectRepo: repositories.NewProjectRepository(db),
		store:       store,
	}
}

func sbomJSON(s *models.Sbom) gin.H {
	return gin.H{
		"id":                    s.ID,
		"project_id":            s.ProjectID,
		"format":                s.Format,
		"tool":                  s.Tool,
		"commit_hash":           s.CommitHash,
		"components_count":      s.ComponentsCount,
		"vulnerabilities_found": s.VulnerabilitiesFound,
		"storage_url":           s.StorageURL,
		"storage_type":          s.StorageType,
		"generated_at":          s.GeneratedAt.Format(time.RFC3339),
		"created_at":            s.CreatedAt.Format(time.RFC3339),
	}
}

// @Summary      List SBOM records
// @Description  List the ingestion history for one of the caller's projects, newest first.
// @Tags         SBOMs
// @Security     Bearer
// @Produce      json
// @Param        project  query  string  true  "Project ID"
// @Success      200  {object}  map[string]interface{}  "List of SBOM records"
// @Failure      400  {object}  map[string]interface{}  "Missing project parameter"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Project not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/sboms [get]
// ListHandler lists SBOM records for an owned project
// GET /api/v1/sboms?project=<id>
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		projectID := c.Query("project")
		if projectID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Missing required query parameter: project",
			})
			return
		}

		// Ownership check before listing; a foreign project reads as absent.
		project, err := h.projectRepo.GetByIDAndOwner(c.Request.Context(), projectID, userID)
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

		sboms, err := h.sbomRepo.ListByProject(c.Request.Context(), projectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list SBOMs",
			})
			return
		}

		resp := make([]gin.H, 0, len(sboms))
		for _, s := range sboms {
			resp = append(resp, sbomJSON(s))
		}

		c.JSON(http.StatusOK, gin.H{
			"sboms": resp,
		})
	}
}

// @Summary      Get SBOM record
// @Description  Retrieve a single SBOM record owned by the caller.
// @Tags         SBOMs
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "SBOM ID"
// @Success      200  {object}  map[string]interface{}  "SBOM record"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "SBOM not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/sboms/{id} [get]
// GetHandler retrieves a single SBOM record
// GET /api/v1/sboms/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		record, err := h.sbomRepo.GetByIDAndOwner(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve SBOM",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "SBOM not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"sbom": sbomJSON(record),
		})
	}
}

// @Summary      List SBOM findings
// @Description  List the vulnerability findings recorded for one SBOM, worst severity first.
// @Tags         SBOMs
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "SBOM ID"
// @Success      200  {object}  map[string]interface{}  "List of findings"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "SBOM not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/sboms/{id}/findings [get]
// FindingsHandler lists the findings for one SBOM
// GET /api/v1/sboms/:id/findings
func (h *Handlers) FindingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		sbomID := c.Param("id")

		record, err := h.sbomRepo.GetByIDAndOwner(c.Request.Context(), sbomID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve SBOM",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "SBOM not found",
			})
			return
		}

		findings, err := h.sbomRepo.ListFindings(c.Request.Context(), sbomID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list findings",
			})
			return
		}

		resp := make([]gin.H, 0, len(findings))
		for _, f := range findings {
			resp = append(resp, gin.H{
				"id":               f.ID,
				"package_name":     f.PackageName,
				"package_version":  f.PackageVersion,
				"purl":             f.Purl,
				"vulnerability_id": f.VulnerabilityID,
				"severity":         f.Severity,
				"affected_range":   f.AffectedRange,
				"fixed_version":    f.FixedVersion,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"findings": resp,
		})
	}
}

// @Summary      Delete SBOM record
// @Description  Delete an SBOM record and its findings. The stored artifact is removed best-effort; a failed artifact delete does not fail the request.
// @Tags         SBOMs
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "SBOM ID"
// @Success      200  {object}  map[string]interface{}  "Deletion confirmation"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "SBOM not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/sboms/{id} [delete]
// DeleteHandler deletes an SBOM record
// DELETE /api/v1/sboms/:id
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		sbomID := c.Param("id")

		record, err := h.sbomRepo.GetByIDAndOwner(c.Request.Context(), sbomID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve SBOM",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "SBOM not found",
			})
			return
		}

		matched, err := h.sbomRepo.DeleteByIDAndOwner(c.Request.Context(), sbomID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete SBOM",
			})
			return
		}
		if !matched {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "SBOM not found",
			})
			return
		}

		h.deleteArtifact(record)

		c.JSON(http.StatusOK, gin.H{
			"message": "SBOM deleted",
		})
	}
}

// deleteArtifact removes the stored document in the background. Artifacts on
// a different backend than the active store are left in place.
func (h *Handlers) deleteArtifact(record *models.Sbom) {
	if h.store == nil || record.StorageType != h.store.Backend() {
		return
	}

	key := storage.ArtifactKey(record.ProjectID, record.ID)
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), artifactDeleteTimeout)
		defer cancel()

		if err := h.store.Delete(ctx, key); err != nil {
			slog.Warn("failed to delete sbom artifact",
				"sbom_id", record.ID,
				"key", key,
				"error", err,
			)
		}
	})
}
