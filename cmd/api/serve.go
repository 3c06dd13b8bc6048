package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	docs "github.com/xyz-asif/floodreport/docs"
	"github.com/xyz-asif/floodreport/internal/middleware"
	"github.com/xyz-asif/floodreport/internal/routes"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background mirror workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, log, err := bootstrap(ctx, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			applied, err := a.Migrate(ctx)
			if err != nil {
				log.WithError(err).Error("failed to migrate ledger")
				return err
			}
			if applied > 0 {
				log.WithField("applied", applied).Info("ledger migrated")
			}

			cfg := a.Config
			docs.SwaggerInfo.Host = "localhost:" + cfg.Port

			if cfg.AppEnv == "production" {
				gin.SetMode(gin.ReleaseMode)
			}

			router := gin.New()
			router.Use(gin.Recovery())
			router.Use(middleware.Logger(log))
			router.Use(middleware.CORS(cfg.FrontendURL))

			router.GET(
				"/swagger/*any",
				ginSwagger.WrapHandler(
					swaggerFiles.Handler,
					ginSwagger.URL("/swagger/doc.json"),
					ginSwagger.DeepLinking(true),
					ginSwagger.DefaultModelsExpandDepth(-1),
					ginSwagger.DocExpansion("none"),
				),
			)

			routes.SetupRoutes(router, a)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.WithField("port", cfg.Port).Info("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return a.RunBackground(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("server stopped with error")
				return err
			}
			log.Info("server exited")
			return nil
		},
	}
}
