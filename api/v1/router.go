package v1

import (
	"ppe_realtime/api/v1/events"
	"ppe_realtime/api/v1/middleware"
	"ppe_realtime/internal/auth"
	"ppe_realtime/internal/eventlog"
	"ppe_realtime/internal/httpx"
	"ppe_realtime/internal/ws"

	"github.com/gin-gonic/gin"
)

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, srv *ws.Server, store eventlog.Store) {
	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/me", meHandler)

			eventsHandler := events.NewHandler(srv, srv, store)
			ppe := protected.Group("/ppe")
			{
				ppe.GET("/events", eventsHandler.List)
				ppe.POST("/events", middleware.RequireRole(auth.RoleAdmin, auth.RoleService), eventsHandler.Publish)
				ppe.GET("/rooms", middleware.RequireRole(auth.RoleAdmin), eventsHandler.Rooms)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns current user information
func meHandler(c *gin.Context) {
	uid, _ := c.Get("uid")
	username, _ := c.Get("username")
	role, _ := c.Get("role")
	department, _ := c.Get("department")

	httpx.OK(c, gin.H{
		"uid":        uid,
		"username":   username,
		"role":       role,
		"department": department,
	})
}
