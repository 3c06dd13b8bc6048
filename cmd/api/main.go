// ================== cmd/api/main.go ==================
//
// @title Flood Report API
// @version 1.0
// @description Citizen flood report intake with a local ledger and a shared spreadsheet mirror.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/xyz-asif/floodreport/internal/app"
	"github.com/xyz-asif/floodreport/internal/config"
	"github.com/xyz-asif/floodreport/internal/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	serve := serveCommand()
	root := &cobra.Command{
		Use:          "floodreport",
		Short:        "Flood report intake service",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.AddCommand(serve, migrateCommand(), reconcileCommand(), checkCommand())
	return root
}

// bootstrap loads configuration, installs the logger and assembles the app.
func bootstrap(ctx context.Context, reg prometheus.Registerer) (*app.App, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	logger.SetDefault(log)

	a, err := app.New(ctx, cfg, log, reg)
	if err != nil {
		log.WithError(err).Error("failed to start")
		return nil, log, err
	}
	return a, log, nil
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the ledger schema up to date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, log, err := bootstrap(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			applied, err := a.Migrate(cmd.Context())
			if err != nil {
				log.WithError(err).Error("migration failed")
				return err
			}
			log.WithField("applied", applied).Info("ledger schema up to date")
			return nil
		},
	}
}

func reconcileCommand() *cobra.Command {
	var includeFresh bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, log, err := bootstrap(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if _, err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			if includeFresh {
				a.Reconciler.SetMinAge(0)
			}
			res, err := a.Reconciler.RunOnce(cmd.Context())
			log.WithFields(logrus.Fields{
				"scanned": res.Scanned,
				"synced":  res.Synced,
				"failed":  res.Failed,
			}).Info("reconciliation finished")
			return err
		},
	}
	cmd.Flags().BoolVar(&includeFresh, "all", false, "include reports submitted in the last minute")
	return cmd
}

func checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the ledger, photo storage and spreadsheet mirror",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := bootstrap(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range a.Check(cmd.Context()) {
				switch {
				case r.Skipped:
					fmt.Fprintf(out, "%-22s skipped\n", r.Component)
				case r.Err != nil:
					failed++
					fmt.Fprintf(out, "%-22s FAIL  %v\n", r.Component, r.Err)
				default:
					fmt.Fprintf(out, "%-22s ok\n", r.Component)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}
