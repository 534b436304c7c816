// Package sync implements the SBOM ingestion endpoint used by CI uploaders.
// The heavy lifting lives in internal/ingest; this package only translates
// HTTP to pipeline calls.
package sync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/autothreat/autothreat-backend/internal/ingest"
	"github.com/autothreat/autothreat-backend/internal/middleware"
)

// Handlers handles the SBOM sync endpoint
type Handlers struct {
	pipeline *ingest.Pipeline
}

// NewHandlers creates a new sync Handlers instance
func NewHandlers(pipeline *ingest.Pipeline) *Handlers {
	return &Handlers{pipeline: pipeline}
}

// SyncMetadata carries optional uploader-supplied context for one sync
type SyncMetadata struct {
	Source     string `json:"source"`
	CommitHash string `json:"commitHash"`
	Format     string `json:"format"`
}

// SyncSbomRequest represents one SBOM upload
type SyncSbomRequest struct {
	Project  string          `json:"project" binding:"required"`
	Sbom     json.RawMessage `json:"sbom" binding:"required"`
	Metadata *SyncMetadata   `json:"metadata"`
}

// @Summary      Sync SBOM
// @Description  Ingest an SBOM document for a project: parse, correlate vulnerabilities, store the artifact, and record the result. The project is auto-provisioned on first sync. A partial failure (correlation or artifact storage) still succeeds with status "degraded".
// @Tags         Sync
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  SyncSbomRequest  true  "SBOM sync request"
// @Success      201  {object}  ingest.Receipt  "Sync receipt"
// @Failure      400  {object}  map[string]interface{}  "Invalid request or unparseable SBOM document"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/sbom/sync [post]
// SyncHandler ingests one SBOM document
// POST /api/v1/sbom/sync
func (h *Handlers) SyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SyncSbomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: project and sbom are required",
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

		syncReq := ingest.SyncRequest{
			ProjectName: req.Project,
			Document:    req.Sbom,
		}
		if req.Metadata != nil {
			syncReq.Source = req.Metadata.Source
			syncReq.CommitHash = req.Metadata.CommitHash
			syncReq.Format = req.Metadata.Format
		}

		receipt, err := h.pipeline.Sync(c.Request.Context(), userID, syncReq)
		if err != nil {
			if errors.Is(err, ingest.ErrInvalidDocument) {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid SBOM document: expected a JSON object in SPDX or CycloneDX format",
				})
				return
			}
			slog.Error("sbom sync failed",
				"project", req.Project,
				"user_id", userID,
				"error", err,
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to process SBOM",
			})
			return
		}

		c.JSON(http.StatusCreated, receipt)
	}
}
