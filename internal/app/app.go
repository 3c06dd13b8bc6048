// Package app assembles the ingestion pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/xyz-asif/floodreport/internal/config"
	"github.com/xyz-asif/floodreport/internal/database"
	"github.com/xyz-asif/floodreport/internal/features/reports"
	"github.com/xyz-asif/floodreport/internal/observability"
	"github.com/xyz-asif/floodreport/internal/pkg/cloudinary"
	"github.com/xyz-asif/floodreport/internal/pkg/photo"
	"github.com/xyz-asif/floodreport/internal/pkg/ratelimit"
	"github.com/xyz-asif/floodreport/internal/pkg/sheets"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// PhotoBackend is a photo store that can verify it is usable.
type PhotoBackend interface {
	reports.PhotoStore
	Check(ctx context.Context) error
}

// App holds every long-lived component of the service.
type App struct {
	Config  *config.Config
	Log     *logrus.Logger
	Metrics *observability.Metrics
	Clock   clockwork.Clock

	Ledger reports.Ledger
	Photos PhotoBackend
	// LocalPhotos is set only when photos are kept on disk.
	LocalPhotos *photo.LocalStore
	// Mirror is nil when the spreadsheet mirror is disabled.
	Mirror *sheets.Mirror

	Quota      *ratelimit.DailyQuota
	Burst      *ratelimit.RateLimiter
	Replicator *reports.Replicator
	// Queue is set only in async mirror mode.
	Queue      *reports.MirrorQueue
	Service    *reports.Service
	Reconciler *reports.Reconciler

	sqlite  *gorm.DB
	mongo   *database.MongoDB
	closers []func(context.Context) error
}

// New opens the ledger and photo storage and wires the pipeline. It does not
// migrate the ledger; call Migrate before serving.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{
		Config: cfg,
		Log:    log,
		Clock:  clockwork.NewRealClock(),
	}
	if reg != nil {
		a.Metrics = observability.NewMetrics(reg)
	} else {
		a.Metrics = observability.NewMetricsForTesting()
	}

	if err := a.openLedger(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	if err := a.openPhotos(); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	if err := a.openMirror(); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}

	var remote reports.RemoteMirror
	if a.Mirror != nil {
		remote = reports.NewSheetsMirror(a.Mirror)
	}
	policy := reports.RetryPolicy{
		Attempts:       cfg.MirrorAttempts,
		Delay:          cfg.MirrorRetryDelay,
		AttemptTimeout: cfg.MirrorAttemptTimeout,
	}
	a.Replicator = reports.NewReplicator(remote, a.Ledger, policy, a.Clock, a.Metrics, log)

	a.Quota = ratelimit.NewDailyQuota(a.Ledger, cfg.DailyReportLimit, cfg.Location, a.Clock)
	a.Burst = ratelimit.NewWithClock(cfg.SubmitBurstLimit, time.Minute, a.Clock)

	a.Service = reports.NewService(a.Ledger, a.Quota, a.Photos, a.Replicator, reports.ServiceOptions{
		StrictQuota:   cfg.StrictQuota,
		MaxPhotoBytes: cfg.MaxPhotoBytes,
		Metrics:       a.Metrics,
		Logger:        log,
	})
	if cfg.MirrorMode == config.MirrorAsync && a.Replicator.Enabled() {
		a.Queue = reports.NewMirrorQueue(a.Replicator, cfg.MirrorWorkers, cfg.MirrorQueueSize, a.Metrics, log)
		a.Service.SetDispatcher(a.Queue)
	}
	a.Reconciler = reports.NewReconciler(a.Ledger, a.Replicator, cfg.ReconcileBatch, cfg.ReconcileInterval, a.Clock, a.Metrics, log)

	log.WithFields(logrus.Fields{
		"ledger":      cfg.LedgerDriver,
		"photos":      cfg.PhotoStorage,
		"mirror":      a.Mirror != nil,
		"mirror_mode": cfg.MirrorMode,
		"timezone":    cfg.Location.String(),
	}).Info("pipeline assembled")
	return a, nil
}

func (a *App) openLedger(ctx context.Context) error {
	switch a.Config.LedgerDriver {
	case config.LedgerMongo:
		db, err := database.Connect(ctx, a.Config.MongoURI, a.Config.MongoDB, database.DefaultMongoOptions())
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		a.mongo = db
		a.closers = append(a.closers, db.Disconnect)
		a.Ledger = reports.NewMongoRepository(db.Database, a.Config.Location, a.Clock)
	default:
		db, err := database.OpenSQLite(a.Config.SQLitePath, a.Log)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		a.sqlite = db
		a.closers = append(a.closers, func(context.Context) error { return database.CloseSQLite(db) })
		a.Ledger = reports.NewRepository(db, a.Config.Location, a.Clock)
	}
	return nil
}

func (a *App) openPhotos() error {
	cfg := a.Config
	if cfg.PhotoStorage == config.PhotoCloudinary {
		svc, err := cloudinary.NewService(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder, cfg.MaxPhotoBytes)
		if err != nil {
			return fmt.Errorf("open photo storage: %w", err)
		}
		a.Photos = svc
		return nil
	}

	store, err := photo.NewLocalStore(cfg.UploadDir, cfg.MaxPhotoBytes)
	if err != nil {
		return fmt.Errorf("open photo storage: %w", err)
	}
	a.Photos = store
	a.LocalPhotos = store
	return nil
}

func (a *App) openMirror() error {
	cfg := a.Config
	if !cfg.SheetsEnabled {
		a.Log.Warn("spreadsheet mirror disabled, reports are kept in the local ledger only")
		return nil
	}

	creds := sheets.Credentials{
		File:         cfg.CredentialsFile,
		ProjectID:    cfg.SheetsProjectID,
		PrivateKeyID: cfg.SheetsPrivKeyID,
		PrivateKey:   cfg.SheetsPrivateKey,
		ClientEmail:  cfg.SheetsClientEmail,
		ClientID:     cfg.SheetsClientID,
	}
	opts, err := creds.ClientOptions()
	if err != nil {
		return fmt.Errorf("spreadsheet mirror: %w", err)
	}

	a.Metrics.MirrorOnline.Set(1)
	a.Mirror = sheets.NewMirror(sheets.GoogleDialer(cfg.SpreadsheetID, cfg.Worksheet, opts...), sheets.Options{
		Location:          cfg.Location,
		ReconnectInterval: cfg.MirrorReconnectInterval,
		RequestsPerSecond: cfg.MirrorAPIRPS,
		OfflineAfter:      cfg.MirrorAttempts,
		Clock:             a.Clock,
		Logger:            a.Log,
		OnStateChange: func(online bool) {
			if online {
				a.Metrics.MirrorOnline.Set(1)
			} else {
				a.Metrics.MirrorOnline.Set(0)
			}
		},
	})
	return nil
}

// Migrate brings the ledger schema up to date and returns how many steps
// were applied.
func (a *App) Migrate(ctx context.Context) (int, error) {
	if a.mongo != nil {
		return database.MigrateMongo(ctx, a.mongo.Database, reports.MongoMigrations)
	}
	return reports.PrepareSQLite(ctx, a.sqlite, a.Log)
}

// RunBackground runs the background workers until ctx is done.
func (a *App) RunBackground(ctx context.Context) error {
	a.Burst.StartCleanup(ctx, 5*time.Minute)

	g, ctx := errgroup.WithContext(ctx)
	if a.Queue != nil {
		g.Go(func() error { return a.Queue.Run(ctx) })
	}
	g.Go(func() error { return a.Reconciler.Run(ctx) })
	return g.Wait()
}

// CheckResult is the outcome of probing one dependency.
type CheckResult struct {
	Component string
	Err       error
	Skipped   bool
}

// Check checks every external dependency.
func (a *App) Check(ctx context.Context) []CheckResult {
	results := []CheckResult{
		{Component: "ledger (" + a.Config.LedgerDriver + ")", Err: a.Ledger.Ping(ctx)},
		{Component: "photos (" + a.Config.PhotoStorage + ")", Err: a.Photos.Check(ctx)},
	}
	if a.Mirror == nil {
		results = append(results, CheckResult{Component: "mirror", Skipped: true})
	} else {
		results = append(results, CheckResult{Component: "mirror", Err: a.Mirror.Connect(ctx)})
	}
	return results
}

// Close releases the ledger connection.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
