package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for the resolved user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
	// ContextPrincipal is the key for the full *models.Principal.
	ContextPrincipal = "principal"
)

// Authenticator turns a bearer token into the caller's identity. It is
// expected to reject revoked or idle-expired tokens and to return the
// currently resolved role, not the one baked into the token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Principal, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// JWT returns a middleware that authenticates the bearer token and sets the
// caller in context.
func JWT(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		token, ok := BearerToken(header)
		if !ok {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		p, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextPrincipal, p)
		c.Set(ContextUserID, p.UserID)
		c.Set(ContextUserRole, p.Role)
		c.Set(ContextUserEmail, p.Email)
		c.Next()
	}
}

// CurrentPrincipal returns the authenticated caller, or nil outside JWT.
func CurrentPrincipal(c *gin.Context) *models.Principal {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*models.Principal)
	return p
}

// UserID returns the authenticated user's id, or "".
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// Role returns the authenticated user's resolved role, or "".
func Role(c *gin.Context) models.Role {
	v, _ := c.Get(ContextUserRole)
	role, _ := v.(models.Role)
	return role
}
