// auth.go provides the Gin middleware that authenticates every API request
// through the credential chain (local JWT, external OIDC token, opaque API
// token) and attaches the resolved identity to the request context.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/autothreat/autothreat-backend/internal/auth"
)

// Context keys set by AuthMiddleware
const (
	IdentityKey = "identity"
	UserIDKey   = "user_id"
)

// AuthMiddleware returns a handler that requires a valid bearer credential.
// Requests without one get 401 with a generic message; the response never
// reveals which scheme rejected the credential.
func AuthMiddleware(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := authenticator.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingCredential):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Authentication required",
				})
			case errors.Is(err, auth.ErrInvalidCredential):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid or expired credential",
				})
			default:
				slog.Error("authentication infrastructure failure",
					"request_id", c.GetString(RequestIDKey),
					"error", err,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Authentication unavailable",
				})
			}
			return
		}

		c.Set(IdentityKey, identity)
		c.Set(UserIDKey, identity.UserID)

		c.Next()
	}
}

// IdentityFrom retrieves the authenticated identity from the context.
// Returns nil on unauthenticated routes.
func IdentityFrom(c *gin.Context) *auth.Identity {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil
	}
	identity, ok := v.(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}
