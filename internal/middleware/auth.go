package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rushilcs/data-viewer/internal/auth"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/response"
)

const (
	// ContextIdentity is the key for the authenticated models.Identity in gin context.
	ContextIdentity = "identity"
	// ContextUserRole is the key for the caller's role in gin context.
	ContextUserRole = "user_role"
)

// TokenValidator validates identity tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Auth returns a middleware that validates the bearer identity token and
// stores the identity in context.
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := validator.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextIdentity, claims.Identity())
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

// Identity returns the identity set by Auth.
func Identity(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}

// MustIdentity returns the identity set by Auth, aborting with 401 when absent.
func MustIdentity(c *gin.Context) (models.Identity, bool) {
	id, ok := Identity(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		c.Abort()
	}
	return id, ok
}
