package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"zenj-service/internal/observability"
)

const (
	// ActorKey holds the authenticated actor id in the gin context.
	ActorKey = "userID"
	// RequestIDKey holds the request id in the gin context.
	RequestIDKey = "request_id"
)

// ActorMiddleware takes the actor id set by the gateway. Credentials are
// verified upstream; a request without an actor is rejected.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := observability.ActorFromRequest(c.Request)
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user id"})
			return
		}
		c.Set(ActorKey, actor)
		c.Next()
	}
}

// RequestIDMiddleware propagates X-Request-Id, generating one when absent.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := observability.RequestIDFromRequest(c.Request)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Writer.Header().Set("X-Request-Id", requestID)
		c.Next()
	}
}
