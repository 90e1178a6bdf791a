package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"zenj-service/internal/middleware"
	"zenj-service/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if actor := actorFromContext(c); actor != "" {
		return &actor
	}
	return nil
}

func actorFromContext(c *gin.Context) string {
	if actor := c.GetString(middleware.ActorKey); actor != "" {
		return actor
	}
	return observability.ActorFromRequest(c.Request)
}
