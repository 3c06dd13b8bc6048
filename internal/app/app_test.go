package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyz-asif/floodreport/internal/config"
	"github.com/xyz-asif/floodreport/internal/features/reports"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		AppEnv:               "test",
		Location:             time.FixedZone("WIB", 7*3600),
		DailyReportLimit:     10,
		SubmitBurstLimit:     30,
		SubmitterIdentity:    config.IdentityIP,
		LedgerDriver:         config.LedgerSQLite,
		SQLitePath:           filepath.Join(dir, "ledger.db"),
		PhotoStorage:         config.PhotoLocal,
		UploadDir:            filepath.Join(dir, "uploads"),
		MaxPhotoBytes:        5 * 1024 * 1024,
		MirrorMode:           config.MirrorSync,
		MirrorAttempts:       3,
		MirrorAttemptTimeout: time.Second,
		MirrorWorkers:        1,
		MirrorQueueSize:      10,
		ReconcileBatch:       10,
	}
}

func TestNew_SQLiteWithoutMirror(t *testing.T) {
	log, _ := test.NewNullLogger()
	a, err := New(context.Background(), testConfig(t), log, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	applied, err := a.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(reports.Migrations), applied)

	assert.Nil(t, a.Mirror)
	assert.Nil(t, a.Queue)
	assert.NotNil(t, a.LocalPhotos)
	assert.False(t, a.Replicator.Enabled())

	results := a.Check(context.Background())
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.True(t, results[2].Skipped)

	sub, err := a.Service.Submit(context.Background(), reports.SubmitInput{
		Address:      "Jl. Kemang Raya 12",
		FloodHeight:  "Setinggi lutut",
		ReporterName: "Sari",
	}, nil, "198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, reports.MirrorNotAttempted, sub.MirrorStatus)
}

func TestNew_MirrorRequiresCredentials(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := testConfig(t)
	cfg.SheetsEnabled = true
	cfg.SpreadsheetID = "sheet-123"

	_, err := New(context.Background(), cfg, log, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestNew_AsyncModeUsesQueue(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := testConfig(t)
	cfg.SheetsEnabled = true
	cfg.SpreadsheetID = "sheet-123"
	cfg.SheetsClientEmail = "svc@example.iam.gserviceaccount.com"
	cfg.SheetsPrivateKey = "key"
	cfg.MirrorMode = config.MirrorAsync

	a, err := New(context.Background(), cfg, log, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.NotNil(t, a.Mirror)
	assert.NotNil(t, a.Queue)
	assert.True(t, a.Replicator.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunBackground(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
