package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"zenj-service/internal/config"
	"zenj-service/internal/directory"
	"zenj-service/internal/engine"
	"zenj-service/internal/handlers"
	"zenj-service/internal/middleware"
	"zenj-service/internal/observability"
	"zenj-service/internal/telemetry"
	"zenj-service/internal/ws"
)

// NewRouter wires every HTTP route.
func NewRouter(cfg *config.Config, dir *directory.Service, eng *engine.Engine, hub *ws.Hub, auditor *telemetry.AuditEmitter, logger *zap.Logger) *gin.Engine {
	if cfg.Telemetry.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	contactHandler := handlers.NewContactHandler(dir, eng)
	groupHandler := handlers.NewGroupHandler(dir, eng, auditor)
	conversationHandler := handlers.NewConversationHandler(eng, logger.Named("http"))
	profileHandler := handlers.NewProfileHandler(dir)
	conversationWS := ws.NewConversationWebSocketHandler(hub, eng, logger.Named("ws"))

	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestIDMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handlers.RegisterDebugRoutes(router, auditor, cfg.Server.DebugRoutes)

	// the upgrade reads the actor from the query when headers are unavailable
	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)

	api := router.Group("/", middleware.ActorMiddleware())

	api.POST("/users", profileHandler.Register)
	api.GET("/profile", profileHandler.GetProfile)
	api.PATCH("/profile", profileHandler.UpdateProfile)

	api.GET("/contacts", contactHandler.ListContacts)
	api.POST("/contacts", contactHandler.CreateContact)
	api.GET("/contacts/:contact_id", contactHandler.GetContact)
	api.PATCH("/contacts/:contact_id", contactHandler.UpdateContact)
	api.POST("/contacts/:contact_id/block", contactHandler.BlockContact)
	api.DELETE("/contacts/:contact_id/block", contactHandler.UnblockContact)
	api.POST("/contacts/:contact_id/select", contactHandler.SelectContact)
	api.DELETE("/focus", contactHandler.ClearFocus)

	api.POST("/groups", groupHandler.CreateGroup)
	api.POST("/groups/:group_id/members", groupHandler.AddMember)
	api.DELETE("/groups/:group_id/members/:member_id", groupHandler.RemoveMember)
	api.PUT("/groups/:group_id/owner", groupHandler.TransferOwnership)
	api.POST("/groups/:group_id/admins", groupHandler.GrantAdmin)
	api.DELETE("/groups/:group_id/admins/:member_id", groupHandler.RevokeAdmin)
	api.DELETE("/groups/:group_id", groupHandler.DeleteGroup)

	api.GET("/conversations/:conversation_id/messages", conversationHandler.GetMessages)
	api.POST("/conversations/:conversation_id/messages", conversationHandler.PostMessage)
	api.GET("/conversations/:conversation_id/state", conversationHandler.GetState)
	api.POST("/messages/:message_id/reactions", conversationHandler.AddReaction)
	api.PUT("/messages/:message_id/status", conversationHandler.UpdateStatus)

	return router
}

// NewHTTPServer wraps the router in a server bound to the configured port.
func NewHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
