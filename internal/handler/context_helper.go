package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/tutorstack/tutorstack-api/internal/middleware"
	"github.com/tutorstack/tutorstack-api/internal/models"
)

func identityFromContext(c *gin.Context) (models.Identity, bool) {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return models.Identity{}, false
	}
	identity, ok := value.(models.Identity)
	return identity, ok
}
