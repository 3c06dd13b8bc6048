package reports

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the report endpoints. submitGuards run before the
// submit handler only.
func RegisterRoutes(router *gin.RouterGroup, handler *Handler, submitGuards ...gin.HandlerFunc) {
	reports := router.Group("/reports")
	{
		reports.POST("", append(submitGuards, handler.Submit)...)
		reports.GET("", handler.List)
		reports.GET("/today", handler.Today)
		reports.GET("/daily", handler.Daily)
		reports.GET("/monthly", handler.Monthly)
		reports.GET("/statistics", handler.Statistics)
		reports.GET("/export", handler.Export)
		reports.GET("/quota", handler.Quota)
		reports.GET("/:id", handler.Get)
		reports.POST("/:id/mirror", handler.RetryMirror)
	}
}
