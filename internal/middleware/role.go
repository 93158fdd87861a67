package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/roles"
	"github.com/eventgate/backend/pkg/response"
)

// RequireRole returns a middleware that admits callers whose role satisfies
// required under the role hierarchy (admin > officer > student).
func RequireRole(required models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextUserRole); !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		d := roles.Route(Role(c), required)
		if !d.Allowed {
			c.JSON(http.StatusForbidden, response.Body{Success: false, Error: "insufficient permissions", Code: apperr.CodeForbidden, Data: d})
			c.Abort()
			return
		}
		c.Next()
	}
}
