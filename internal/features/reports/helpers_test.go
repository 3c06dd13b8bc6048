package reports

import (
	"bytes"
	"context"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/xyz-asif/floodreport/internal/database"
	"github.com/xyz-asif/floodreport/internal/observability"
	"github.com/xyz-asif/floodreport/internal/pkg/photo"
	"github.com/xyz-asif/floodreport/internal/pkg/ratelimit"
	"github.com/xyz-asif/floodreport/internal/pkg/sheets"
	"github.com/xyz-asif/floodreport/internal/pkg/sheets/sheetstest"
)

var wib = time.FixedZone("WIB", 7*3600)

// 10:00 WIB on 15 March 2024
var testNow = time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC)

type fixture struct {
	clock      *clockwork.FakeClock
	log        *logrus.Logger
	hook       *test.Hook
	metrics    *observability.Metrics
	ledger     *Repository
	photoDir   string
	photos     *photo.LocalStore
	table      *sheetstest.Table
	replicator *Replicator
	quota      *ratelimit.DailyQuota
	svc        *Service
}

type fixtureOpts struct {
	noMirror bool
	strict   bool
	ledger   Ledger
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	f := &fixture{clock: clockwork.NewFakeClockAt(testNow), metrics: observability.NewMetricsForTesting()}
	f.log, f.hook = test.NewNullLogger()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), f.log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.CloseSQLite(db) })
	_, err = PrepareSQLite(context.Background(), db, f.log)
	require.NoError(t, err)
	f.ledger = NewRepository(db, wib, f.clock)

	f.photoDir = t.TempDir()
	f.photos, err = photo.NewLocalStore(f.photoDir, photo.DefaultMaxBytes)
	require.NoError(t, err)

	var ledger Ledger = f.ledger
	if opts.ledger != nil {
		ledger = opts.ledger
	}

	var remote RemoteMirror
	if !opts.noMirror {
		f.table = sheetstest.New(sheets.Header)
		m := sheets.NewMirror(f.table.Dialer(), sheets.Options{
			Location:          wib,
			ReconnectInterval: time.Minute,
			Clock:             f.clock,
			Logger:            f.log,
		})
		remote = NewSheetsMirror(m)
	}
	policy := RetryPolicy{Attempts: 3, Delay: 0, AttemptTimeout: time.Second}
	f.replicator = NewReplicator(remote, ledger, policy, f.clock, f.metrics, f.log)
	f.quota = ratelimit.NewDailyQuota(ledger, 10, wib, f.clock)
	f.svc = NewService(ledger, f.quota, f.photos, f.replicator, ServiceOptions{
		StrictQuota:   opts.strict,
		MaxPhotoBytes: photo.DefaultMaxBytes,
		Metrics:       f.metrics,
		Logger:        f.log,
	})
	return f
}

func validInput() SubmitInput {
	return SubmitInput{
		Address:       "Jl. Kemang Raya 12",
		FloodHeight:   "Setinggi lutut",
		ReporterName:  "Sari",
		ReporterPhone: "081234567890",
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(8, 8, color.NRGBA{R: 10, G: 90, B: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

// seed inserts a report submitted at the given instant.
func (f *fixture) seed(t *testing.T, at time.Time, submitter, address, severity string) *Report {
	t.Helper()
	f.clock.Advance(at.Sub(f.clock.Now()))
	r := &Report{Address: address, FloodHeight: severity, ReporterName: "Seed", SubmitterID: submitter}
	require.NoError(t, f.ledger.Insert(context.Background(), r))
	return r
}
