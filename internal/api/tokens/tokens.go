// Package tokens implements the self-service API token endpoints. Tokens are
// opaque bearer credentials for CI uploads; the raw value is shown exactly
// once at creation and only its SHA-256 digest is stored.
package tokens

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/autothreat/autothreat-backend/internal/auth"
	"github.com/autothreat/autothreat-backend/internal/db/models"
	"github.com/autothreat/autothreat-backend/internal/db/repositories"
	"github.com/autothreat/autothreat-backend/internal/middleware"
)

// Handlers handles API token management endpoints
type Handlers struct {
	tokenRepo *repositories.TokenRepository
}

// NewHandlers creates a new token Handlers instance
func NewHandlers(db *sql.DB) *Handlers {
	return &Handlers{
		tokenRepo: repositories.NewTokenRepository(db),
	}
}

// CreateTokenRequest represents the request to create a new API token
type CreateTokenRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
	ExpiresAt   *string `json:"expires_at"` // RFC3339 format
}

// CreateTokenResponse represents the response when creating an API token
type CreateTokenResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Token       string     `json:"token"` // Only returned once during creation
	TokenPrefix string     `json:"token_prefix"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// @Summary      List API tokens
// @Description  List the caller's API tokens. Raw token values are never returned; only the display prefix.
// @Tags         Tokens
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "tokens plus remaining_requests for the current rate window"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/tokens [get]
// ListHandler lists the authenticated user's tokens
// GET /api/v1/tokens
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		tokens, err := h.tokenRepo.ListByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list tokens",
			})
			return
		}

		resp := make([]gin.H, 0, len(tokens))
		for _, t := range tokens {
			var expiresAt interface{}
			var lastUsed interface{}

			if t.ExpiresAt != nil {
				expiresAt = t.ExpiresAt.Format(time.RFC3339)
			}
			if t.LastUsedAt != nil {
				lastUsed = t.LastUsedAt.Format(time.RFC3339)
			}

			desc := ""
			if t.Description != nil {
				desc = *t.Description
			}

			resp = append(resp, gin.H{
				"id":           t.ID,
				"name":         t.Name,
				"description":  desc,
				"token_prefix": t.TokenPrefix,
				"expires_at":   expiresAt,
				"last_used_at": lastUsed,
				"created_at":   t.CreatedAt.Format(time.RFC3339),
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"tokens":             resp,
			"remaining_requests": c.GetInt(middleware.RateLimitRemainingKey),
		})
	}
}

// @Summary      Create API token
// @Description  Create a new API token. The full token value is only returned once during creation.
// @Tags         Tokens
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateTokenRequest  true  "Token creation request"
// @Success      201  {object}  CreateTokenResponse  "Token created (full value returned once)"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/tokens [post]
// CreateHandler creates a new API token
// POST /api/v1/tokens
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateTokenRequest
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

		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid expires_at format. Use RFC3339",
				})
				return
			}
			expiresAt = &parsed
		}

		// A token_hash collision means the generated secret already exists;
		// a fresh random value resolves it, so retry once before giving up.
		var token *models.Token
		var rawToken string
		for attempt := 0; ; attempt++ {
			raw, tokenHash, displayPrefix, err := auth.GenerateToken()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to generate token",
				})
				return
			}

			token = &models.Token{
				UserID:      userID,
				Name:        req.Name,
				Description: req.Description,
				TokenHash:   tokenHash,
				TokenPrefix: displayPrefix,
				ExpiresAt:   expiresAt,
			}

			err = h.tokenRepo.CreateToken(c.Request.Context(), token)
			if err == nil {
				rawToken = raw
				break
			}
			if repositories.IsUniqueViolation(err) && attempt == 0 {
				continue
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create token",
			})
			return
		}

		// Return full token (only time it's visible)
		c.JSON(http.StatusCreated, CreateTokenResponse{
			ID:          token.ID,
			Name:        token.Name,
			Description: token.Description,
			Token:       rawToken,
			TokenPrefix: token.TokenPrefix,
			ExpiresAt:   token.ExpiresAt,
			CreatedAt:   token.CreatedAt,
		})
	}
}

// @Summary      Delete API token
// @Description  Delete one of the caller's API tokens. A token owned by another user reads as not found.
// @Tags         Tokens
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Token ID"
// @Success      200  {object}  map[string]interface{}  "Deletion confirmation"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Token not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/tokens/{id} [delete]
// DeleteHandler deletes an API token
// DELETE /api/v1/tokens/:id
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		matched, err := h.tokenRepo.DeleteByIDAndUser(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete token",
			})
			return
		}

		if !matched {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Token not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Token deleted",
		})
	}
}
