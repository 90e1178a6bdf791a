package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"zenj-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, auditor Auditor, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if auditor == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		auditor.Emit(c.Request.Context(), telemetry.AuditEntry{
			Action:    telemetry.ActionDebugProbe,
			RequestID: requestIDFromContext(c),
			ActorID:   userIDFromContext(c),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
