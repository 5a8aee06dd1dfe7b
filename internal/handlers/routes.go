package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign/internal/middleware"
)

// RegisterRoutes mounts the API under api (normally /api/v1)
func RegisterRoutes(api *gin.RouterGroup, h *Handlers, jwtSecret string) {
	api.GET("/health", h.Health.Index)

	// Signer routes: the token is the only credential
	sign := api.Group("/sign/:token")
	{
		sign.GET("", h.Signing.Show)
		sign.POST("", h.Signing.Sign)
		sign.GET("/document", h.Signing.Document)
	}

	protected := api.Group("")
	protected.Use(middleware.Auth(jwtSecret))
	protected.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleOperator))
	{
		agreements := protected.Group("/agreements")
		{
			agreements.GET("", h.Agreement.Index)
			agreements.POST("", h.Agreement.Create)
			agreements.GET("/:id", h.Agreement.Show)
			agreements.DELETE("/:id", middleware.RequireAdmin(), h.Agreement.Delete)
			agreements.POST("/:id/upload", h.Agreement.UploadPdf)
			agreements.DELETE("/:id/upload", h.Agreement.RemovePdf)
			agreements.POST("/:id/generate", h.Agreement.Generate)
			agreements.POST("/:id/send", h.Agreement.Send)
			agreements.POST("/:id/regenerate_link", h.Agreement.RegenerateLink)
			agreements.POST("/:id/cancel", h.Agreement.Cancel)
			agreements.POST("/:id/notes", h.Agreement.AddNote)
			agreements.GET("/:id/audit", h.Audit.Trail)
			agreements.GET("/:id/audit/verify", h.Audit.Verify)
			agreements.GET("/:id/certificate", h.Audit.Certificate)
		}

		protected.GET("/audits", h.Audit.Index)
		protected.GET("/jobs/status", middleware.RequireAdmin(), h.Job.Status)
	}
}
