package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xyz-asif/floodreport/internal/app"
	"github.com/xyz-asif/floodreport/internal/config"
	"github.com/xyz-asif/floodreport/internal/features/media"
	"github.com/xyz-asif/floodreport/internal/features/reports"
	"github.com/xyz-asif/floodreport/internal/middleware"
	"github.com/xyz-asif/floodreport/internal/pkg/jwt"
	"github.com/xyz-asif/floodreport/internal/pkg/ratelimit"
)

func SetupRoutes(router *gin.Engine, a *app.App) {
	cfg := a.Config

	router.GET("/health", Health(a))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(submitterIdentity(a))

	burst := ratelimit.Middleware(a.Burst, middleware.SubmitterID)
	handler := reports.NewHandler(a.Service, a.Ledger, a.Quota, cfg.Location, cfg.MaxPhotoBytes)

	reports.RegisterRoutes(api, handler, burst)
	media.RegisterRoutes(api, a.LocalPhotos)
}

func submitterIdentity(a *app.App) gin.HandlerFunc {
	cfg := a.Config
	if cfg.SubmitterIdentity == config.IdentitySession {
		return middleware.SubmitterBySession(
			jwt.DefaultConfig(cfg.SessionSecret, cfg.SessionTTL),
			cfg.AppEnv == "production",
			a.Log,
		)
	}
	return middleware.SubmitterByIP()
}
