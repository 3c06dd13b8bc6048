package reports

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyz-asif/floodreport/internal/pkg/sheets"
	apperrors "github.com/xyz-asif/floodreport/pkg/errors"
)

func TestSubmit_HealthyMirror(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	sub, err := f.svc.Submit(ctx, validInput(), &PhotoUpload{Data: pngBytes(t), Filename: "banjir.PNG"}, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, sub.Success)
	assert.Equal(t, MirrorSynced, sub.MirrorStatus)
	require.NotNil(t, sub.Report)
	require.NotNil(t, sub.Report.PhotoRef)

	stored, err := f.ledger.Get(ctx, sub.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, MirrorSynced, stored.MirrorStatus)
	assert.Equal(t, 1, stored.MirrorAttempts)
	assert.NotNil(t, stored.MirroredAt)
	assert.Equal(t, "2024-03-15", stored.ReportDate)
	assert.Equal(t, ReviewPending, stored.Status)
	assert.True(t, testNow.Equal(stored.SubmittedAt))

	_, err = os.Stat(filepath.FromSlash(*stored.PhotoRef))
	require.NoError(t, err)

	require.Equal(t, 1, f.table.RowsFor(stored.ID))
	row := f.table.Rows()[0]
	assert.Equal(t, "2024-03-15 10:00:00", row[0])
	assert.Equal(t, "Jl. Kemang Raya 12", row[1])
	assert.Equal(t, "Setinggi lutut", row[2])
	assert.Equal(t, "pending", row[7])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MirrorWrites.WithLabelValues("synced")))
}

func TestSubmit_QuotaReached(t *testing.T) {
	f := newFixture(t, fixtureOpts{noMirror: true})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		sub, err := f.svc.Submit(ctx, validInput(), nil, "10.0.0.2")
		require.NoError(t, err, "report %d", i+1)
		assert.Equal(t, MirrorNotAttempted, sub.MirrorStatus)
	}

	sub, err := f.svc.Submit(ctx, validInput(), nil, "10.0.0.2")
	require.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
	assert.False(t, sub.Success)
	assert.Contains(t, sub.Message, "limit of 10 reports")

	n, err := f.ledger.CountBySubmitterAndDate(ctx, "10.0.0.2", f.quota.Today())
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	// another submitter is unaffected
	_, err = f.svc.Submit(ctx, validInput(), nil, "10.0.0.3")
	require.NoError(t, err)
}

func TestSubmit_QuotaResetsAtLocalMidnight(t *testing.T) {
	f := newFixture(t, fixtureOpts{noMirror: true})
	ctx := context.Background()

	// 23:30 WIB on 15 March
	f.clock.Advance(testNow.Add(13*time.Hour + 30*time.Minute).Sub(f.clock.Now()))
	for i := 0; i < 10; i++ {
		_, err := f.svc.Submit(ctx, validInput(), nil, "10.0.0.4")
		require.NoError(t, err)
	}
	_, err := f.svc.Submit(ctx, validInput(), nil, "10.0.0.4")
	require.ErrorIs(t, err, apperrors.ErrQuotaExceeded)

	// 00:30 WIB on 16 March, still 15 March in UTC
	f.clock.Advance(time.Hour)
	sub, err := f.svc.Submit(ctx, validInput(), nil, "10.0.0.4")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-16", sub.Report.ReportDate)
}

func TestSubmit_PhotoTooLarge(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	big := bytes.Repeat([]byte{0xff}, 6*1024*1024)
	sub, err := f.svc.Submit(context.Background(), validInput(), &PhotoUpload{Data: big, Filename: "big.jpg"}, "10.0.0.5")
	require.ErrorIs(t, err, apperrors.ErrPhotoTooLarge)
	assert.False(t, sub.Success)
	assert.Contains(t, sub.Message, "5 MB")

	_, total, err := f.ledger.QueryAll(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	entries, err := os.ReadDir(f.photoDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, f.table.Appends)
}

func TestSubmit_PhotoWrongFormat(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	sub, err := f.svc.Submit(context.Background(), validInput(), &PhotoUpload{Data: pngBytes(t), Filename: "scan.bmp"}, "10.0.0.5")
	require.ErrorIs(t, err, apperrors.ErrPhotoInvalidFormat)
	assert.Contains(t, sub.Message, "JPG")
}

func TestSubmit_MirrorAlwaysFails(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.table.SetFailures(nil, errors.New("quota exceeded for sheets api"))

	sub, err := f.svc.Submit(context.Background(), validInput(), nil, "10.0.0.6")
	require.NoError(t, err)
	assert.True(t, sub.Success)
	assert.Equal(t, MirrorFailed, sub.MirrorStatus)
	assert.Contains(t, sub.Message, "saved locally")

	stored, err := f.ledger.Get(context.Background(), sub.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, MirrorFailed, stored.MirrorStatus)
	assert.Equal(t, 3, stored.MirrorAttempts)
	assert.Contains(t, stored.MirrorError, "quota exceeded for sheets api")
	assert.Equal(t, 3, f.table.Appends)
	assert.Empty(t, f.table.Rows())
}

func TestSubmit_MirrorUnreachableStopsEarly(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.table.SetFailures(errors.New("dns lookup failed"), nil)

	// every attempt redials until the mirror gives up and goes offline
	first, err := f.svc.Submit(context.Background(), validInput(), nil, "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, MirrorFailed, first.MirrorStatus)

	stored, err := f.ledger.Get(context.Background(), first.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.MirrorAttempts)
	assert.Equal(t, 3, f.table.Dials)

	// once offline, later submissions fail fast without dialing
	second, err := f.svc.Submit(context.Background(), validInput(), nil, "10.0.0.17")
	require.NoError(t, err)
	assert.Equal(t, MirrorFailed, second.MirrorStatus)

	stored, err = f.ledger.Get(context.Background(), second.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.MirrorAttempts)
	assert.Contains(t, stored.MirrorError, "offline")
	assert.Equal(t, 3, f.table.Dials)
}

func TestSubmit_TransientDialFailureIsRetried(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.table.FailDials = 1

	sub, err := f.svc.Submit(context.Background(), validInput(), nil, "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, MirrorSynced, sub.MirrorStatus)

	stored, err := f.ledger.Get(context.Background(), sub.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.MirrorAttempts)
	assert.Equal(t, 2, f.table.Dials)
	assert.Equal(t, 1, f.table.RowsFor(sub.Report.ID))
}

// stalledMirror never answers; each write lasts until its context ends.
type stalledMirror struct {
	calls atomic.Int32
}

func (s *stalledMirror) Write(ctx context.Context, _ *Report) error {
	s.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestReplicate_AttemptTimeout(t *testing.T) {
	f := newFixture(t, fixtureOpts{noMirror: true})
	remote := &stalledMirror{}
	rep := NewReplicator(remote, f.ledger, RetryPolicy{Attempts: 2, AttemptTimeout: 50 * time.Millisecond}, f.clock, f.metrics, f.log)

	r := &Report{Address: "Jl. Test 9", FloodHeight: "Setinggi betis", ReporterName: "Ayu", SubmitterID: "10.0.0.30"}
	require.NoError(t, f.ledger.Insert(context.Background(), r))

	start := time.Now()
	assert.Equal(t, MirrorFailed, rep.Replicate(context.Background(), r))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.EqualValues(t, 2, remote.calls.Load())

	stored, err := f.ledger.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, MirrorFailed, stored.MirrorStatus)
	assert.Equal(t, 2, stored.MirrorAttempts)
	assert.Contains(t, stored.MirrorError, "deadline exceeded")
}

func TestSubmit_LostAckIsNotDuplicated(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.table.LoseAcks = 1

	sub, err := f.svc.Submit(context.Background(), validInput(), nil, "10.0.0.8")
	require.NoError(t, err)
	assert.Equal(t, MirrorSynced, sub.MirrorStatus)
	assert.Equal(t, 1, f.table.RowsFor(sub.Report.ID))
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	in := validInput()
	in.Address = "   "
	in.FloodHeight = "very wet"
	in.ReporterPhone = "0812"

	sub, err := f.svc.Submit(context.Background(), in, &PhotoUpload{Data: pngBytes(t), Filename: "banjir.png"}, "10.0.0.9")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	var verr *apperrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "address")
	assert.Contains(t, verr.Fields, "floodHeight")
	assert.Contains(t, verr.Fields, "reporterPhone")
	assert.Contains(t, sub.Message, "address is required")
	assert.Zero(t, f.table.Appends)

	// nothing is stored for a rejected report
	entries, err := os.ReadDir(f.photoDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	rows, err := f.ledger.QueryByDate(context.Background(), testNow)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSubmit_NumericSeverityAndMissingPhone(t *testing.T) {
	f := newFixture(t, fixtureOpts{noMirror: true})

	in := validInput()
	in.FloodHeight = " 45 cm "
	in.ReporterPhone = ""

	sub, err := f.svc.Submit(context.Background(), in, nil, "10.0.0.10")
	require.NoError(t, err)
	assert.Equal(t, "45", sub.Report.FloodHeight)
	assert.Nil(t, sub.Report.ReporterPhone)
}

type failingInsertLedger struct {
	Ledger
}

func (failingInsertLedger) Insert(context.Context, *Report) error {
	return errors.New("disk I/O error")
}

func TestSubmit_InsertFailureRemovesPhoto(t *testing.T) {
	base := newFixture(t, fixtureOpts{})
	f := newFixture(t, fixtureOpts{ledger: failingInsertLedger{Ledger: base.ledger}})

	sub, err := f.svc.Submit(context.Background(), validInput(), &PhotoUpload{Data: pngBytes(t), Filename: "a.png"}, "10.0.0.11")
	require.ErrorIs(t, err, apperrors.ErrLocalStorage)
	assert.False(t, sub.Success)
	assert.Contains(t, sub.Message, "could not be saved")

	entries, err := os.ReadDir(f.photoDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, f.table.Appends)
}

type failingCountLedger struct {
	Ledger
}

func (failingCountLedger) CountBySubmitterAndDate(context.Context, string, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestSubmit_QuotaCheckFailureRejects(t *testing.T) {
	base := newFixture(t, fixtureOpts{})
	f := newFixture(t, fixtureOpts{ledger: failingCountLedger{Ledger: base.ledger}})

	_, err := f.svc.Submit(context.Background(), validInput(), nil, "10.0.0.12")
	require.ErrorIs(t, err, apperrors.ErrLocalStorage)
}

func TestSubmit_StrictQuotaUnderConcurrency(t *testing.T) {
	f := newFixture(t, fixtureOpts{noMirror: true, strict: true})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(context.Background(), validInput(), nil, "10.0.0.13")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted, rejected := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, apperrors.ErrQuotaExceeded):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, accepted)
	assert.Equal(t, 10, rejected)
}

type recordingDispatcher struct {
	queued []Report
	full   bool
}

func (d *recordingDispatcher) Enqueue(r Report) bool {
	if d.full {
		return false
	}
	d.queued = append(d.queued, r)
	return true
}

func TestSubmit_AsyncMirrorLeavesPending(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	d := &recordingDispatcher{}
	f.svc.SetDispatcher(d)

	sub, err := f.svc.Submit(context.Background(), validInput(), nil, "10.0.0.14")
	require.NoError(t, err)
	assert.Equal(t, MirrorPending, sub.MirrorStatus)
	require.Len(t, d.queued, 1)
	assert.Equal(t, sub.Report.ID, d.queued[0].ID)
	assert.Zero(t, f.table.Appends)

	stored, err := f.ledger.Get(context.Background(), sub.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, MirrorPending, stored.MirrorStatus)

	d.full = true
	sub, err = f.svc.Submit(context.Background(), validInput(), nil, "10.0.0.14")
	require.NoError(t, err)
	assert.Equal(t, MirrorPending, sub.MirrorStatus)
}

func TestRetryMirror(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.table.SetFailures(nil, errors.New("503"))

	sub, err := f.svc.Submit(context.Background(), validInput(), nil, "10.0.0.15")
	require.NoError(t, err)
	require.Equal(t, MirrorFailed, sub.MirrorStatus)

	f.table.SetFailures(nil, nil)
	rep, err := f.svc.RetryMirror(context.Background(), sub.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, MirrorSynced, rep.MirrorStatus)
	assert.Equal(t, 1, f.table.RowsFor(sub.Report.ID))

	_, err = f.svc.RetryMirror(context.Background(), 9999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestToRow(t *testing.T) {
	phone := "0811111111"
	ref := "https://res.cloudinary.com/demo/image/upload/x.jpg"
	row := ToRow(&Report{ID: 7, Address: "A", FloodHeight: "30", ReporterName: "N", ReporterPhone: &phone, PhotoRef: &ref, SubmitterID: "ip", Status: "pending"})
	assert.Equal(t, sheets.Row{ReportID: 7, Address: "A", Severity: "30", ReporterName: "N", ReporterPhone: phone, PhotoRef: ref, SubmitterID: "ip", Status: "pending"}, row)
}
