package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sjperalta/opcost-api/internal/middleware"
)

// RegisterRoutes mounts the API on the v1 group
func RegisterRoutes(v1 *gin.RouterGroup, h *Handlers, jwtSecret string) {
	// Health check (public)
	v1.GET("/health", h.Health.Index)

	protected := v1.Group("")
	protected.Use(middleware.Auth(jwtSecret))
	{
		statements := protected.Group("/statements")
		{
			statements.GET("", h.Statement.Index)
			statements.POST("", h.Statement.Create)
			statements.GET("/:statement_id", h.Statement.Show)
			statements.DELETE("/:statement_id", h.Statement.Delete)

			statements.POST("/:statement_id/cost_items", h.Statement.AddCostItem)
			statements.PUT("/:statement_id/cost_items/:item_id", h.Statement.UpdateCostItem)
			statements.DELETE("/:statement_id/cost_items/:item_id", h.Statement.DeleteCostItem)

			statements.POST("/:statement_id/compute", h.Statement.Compute)
			statements.GET("/:statement_id/results", h.Statement.Results)
			statements.POST("/:statement_id/ready", h.Statement.Ready)

			statements.GET("/:statement_id/results/:result_id/pdf", h.Document.PDF)
			statements.GET("/:statement_id/export", h.Document.Export)

			statements.POST("/:statement_id/results/:result_id/send", h.Delivery.SendOne)
			statements.POST("/:statement_id/send", h.Delivery.SendAll)
			statements.GET("/:statement_id/deliveries", h.Delivery.Index)
		}

		// Static route first so "mark_all_as_read" is not matched as :notification_id
		notifications := protected.Group("/notifications")
		{
			notifications.GET("", h.Notification.Index)
			notifications.POST("/mark_all_as_read", h.Notification.MarkAllAsRead)
			notifications.POST("/:notification_id/mark_as_read", h.Notification.MarkAsRead)
		}

		staff := protected.Group("")
		staff.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleStaff))
		{
			staff.GET("/audits", h.Audit.Index)
			staff.GET("/jobs/status", h.Job.Status)
		}
	}
}
