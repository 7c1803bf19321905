package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"whatsapp-calling/internal/auth"
	"whatsapp-calling/internal/httpapi"
	"whatsapp-calling/internal/metrics"
	"whatsapp-calling/internal/rbac"
	"whatsapp-calling/internal/realtime"
	"whatsapp-calling/internal/whatsapp"
	"whatsapp-calling/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	DB       *sql.DB
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Webhook  whatsapp.WebhookHandler
	Handlers httpapi.Handlers
	Hub      *realtime.Hub
	AuthMW   gin.HandlerFunc
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := utils.HealthCheck(ctx, d.DB, time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	// Provider callbacks authenticate themselves (signature, verify token, shared header).
	r.GET("/webhooks/whatsapp", d.Webhook.Verify)
	r.POST("/webhooks/whatsapp", d.Webhook.Receive)
	r.POST("/gateway/events", d.Handlers.GatewayEvent)

	h := d.Handlers

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.AuthMW, rbac.RequireUser())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})

		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSalesManager))
		{
			calls.POST("", h.InitiateCall)
			calls.GET("/:session_id", h.GetCall)
			calls.POST("/:session_id/end", h.EndCall)
			calls.GET("/:session_id/token", h.CallToken)
		}
		v1.GET("/ice-servers", h.ICEServers)
		v1.GET("/ws", rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSalesManager), d.Hub.ServeWS)

		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleSalesManager))
		{
			reports.GET("/calls", h.CallsReport)
		}

		// Only sales managers (and admins) hand conversations between bot and humans.
		conv := v1.Group("/conversations")
		conv.Use(rbac.RequireAnyRole(rbac.RoleSalesManager))
		{
			conv.POST("/escalate", h.EscalateConversation)
			conv.POST("/:conversation_id/reactivate", h.ReactivateConversation)
		}
	}
}
