package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/xyz-asif/floodreport/internal/observability"
	"github.com/xyz-asif/floodreport/internal/pkg/sheets"
	apperrors "github.com/xyz-asif/floodreport/pkg/errors"
)

// RemoteMirror makes one attempt at writing a report to the shared remote
// store. Writing a report that is already present must not duplicate it.
type RemoteMirror interface {
	Write(ctx context.Context, r *Report) error
}

// SheetsMirror adapts a worksheet mirror to RemoteMirror.
type SheetsMirror struct {
	m *sheets.Mirror
}

func NewSheetsMirror(m *sheets.Mirror) *SheetsMirror {
	return &SheetsMirror{m: m}
}

func (s *SheetsMirror) Write(ctx context.Context, r *Report) error {
	_, err := s.m.Write(ctx, ToRow(r))
	return err
}

// ToRow maps a report onto the worksheet layout.
func ToRow(r *Report) sheets.Row {
	row := sheets.Row{
		ReportID:     r.ID,
		Timestamp:    r.SubmittedAt,
		Address:      r.Address,
		Severity:     r.FloodHeight,
		ReporterName: r.ReporterName,
		SubmitterID:  r.SubmitterID,
		Status:       r.Status,
	}
	if r.ReporterPhone != nil {
		row.ReporterPhone = *r.ReporterPhone
	}
	if r.PhotoRef != nil {
		row.PhotoRef = *r.PhotoRef
	}
	return row
}

// RetryPolicy bounds the attempts made for one report.
type RetryPolicy struct {
	Attempts       int
	Delay          time.Duration
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 2 * time.Second, AttemptTimeout: 30 * time.Second}
}

// Replicator pushes committed reports to the remote mirror with bounded
// retries and records the outcome in the ledger.
type Replicator struct {
	mirror  RemoteMirror
	ledger  Ledger
	policy  RetryPolicy
	clock   clockwork.Clock
	metrics *observability.Metrics
	log     logrus.FieldLogger
}

func NewReplicator(mirror RemoteMirror, ledger Ledger, policy RetryPolicy, clock clockwork.Clock, metrics *observability.Metrics, log logrus.FieldLogger) *Replicator {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Replicator{
		mirror:  mirror,
		ledger:  ledger,
		policy:  policy,
		clock:   clock,
		metrics: metrics,
		log:     log.WithField("component", "replicator"),
	}
}

// Enabled reports whether a remote mirror is configured.
func (r *Replicator) Enabled() bool {
	return r != nil && r.mirror != nil
}

// Replicate writes rep to the mirror and returns the resulting status. It
// never fails the caller: errors end up in the ledger's mirror_error column.
// Attempts are not cut short by ctx cancellation once started.
func (r *Replicator) Replicate(ctx context.Context, rep *Report) MirrorStatus {
	if !r.Enabled() {
		return MirrorNotAttempted
	}
	ctx = context.WithoutCancel(ctx)
	log := r.log.WithField("report_id", rep.ID)

	r.record(ctx, rep.ID, MirrorUpdate{Status: MirrorPending})

	var lastErr error
	attempts := 0
	for attempts < r.policy.Attempts {
		attempts++
		lastErr = r.attempt(ctx, rep)
		if lastErr == nil {
			r.metrics.MirrorWrites.WithLabelValues("synced").Inc()
			r.record(ctx, rep.ID, MirrorUpdate{Status: MirrorSynced, Attempts: attempts, At: r.clock.Now()})
			rep.MirrorStatus = MirrorSynced
			return MirrorSynced
		}

		log.WithError(lastErr).WithField("attempt", attempts).Warn("mirror write failed")
		if errors.Is(lastErr, apperrors.ErrMirrorOffline) || attempts == r.policy.Attempts {
			break
		}
		r.metrics.MirrorWrites.WithLabelValues("retry").Inc()
		r.clock.Sleep(r.policy.Delay)
	}

	failure := fmt.Errorf("%w: %v", apperrors.ErrMirror, lastErr)
	r.metrics.MirrorWrites.WithLabelValues("failed").Inc()
	log.WithError(failure).WithField("attempts", attempts).Error("mirror write gave up, report kept locally")
	r.record(ctx, rep.ID, MirrorUpdate{Status: MirrorFailed, Attempts: attempts, Error: failure.Error()})
	rep.MirrorStatus = MirrorFailed
	return MirrorFailed
}

func (r *Replicator) attempt(ctx context.Context, rep *Report) error {
	if r.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		defer cancel()
	}
	start := r.clock.Now()
	err := r.mirror.Write(ctx, rep)
	r.metrics.MirrorAttemptDuration.Observe(r.clock.Since(start).Seconds())
	return err
}

func (r *Replicator) record(ctx context.Context, id int64, upd MirrorUpdate) {
	if err := r.ledger.UpdateMirrorStatus(ctx, id, upd); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"report_id": id,
			"status":    upd.Status,
		}).Error("failed to record mirror status")
	}
}
