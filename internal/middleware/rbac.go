package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/tutorstack/tutorstack-api/internal/models"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
	"github.com/tutorstack/tutorstack-api/pkg/response"
)

// RequireRoles blocks callers whose role set intersects none of the allowed
// roles. Fine-grained record ownership is decided in the services; this gate
// only keeps whole route groups away from the wrong audiences.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		identity, ok := value.(models.Identity)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		for _, role := range roles {
			if identity.Roles.Has(role) {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
