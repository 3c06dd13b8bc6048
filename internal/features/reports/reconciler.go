package reports

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/xyz-asif/floodreport/internal/observability"
)

// Reconciler retries mirroring for reports that never reached the remote
// store, oldest first.
type Reconciler struct {
	ledger     Ledger
	replicator *Replicator
	batch      int
	interval   time.Duration
	// reports younger than this are still owned by the submit path
	minAge  time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics
	log     logrus.FieldLogger
}

// ReconcileResult summarizes one sweep.
type ReconcileResult struct {
	Scanned int `json:"scanned"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

func NewReconciler(ledger Ledger, replicator *Replicator, batch int, interval time.Duration, clock clockwork.Clock, metrics *observability.Metrics, log logrus.FieldLogger) *Reconciler {
	if batch < 1 {
		batch = 50
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
	return &Reconciler{
		ledger:     ledger,
		replicator: replicator,
		batch:      batch,
		interval:   interval,
		minAge:     time.Minute,
		clock:      clock,
		metrics:    metrics,
		log:        log.WithField("component", "reconciler"),
	}
}

// SetMinAge changes how old a report must be before a sweep touches it.
func (r *Reconciler) SetMinAge(d time.Duration) {
	r.minAge = d
}

// RunOnce sweeps one batch of unsynced reports.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	if !r.replicator.Enabled() {
		return res, nil
	}

	pending, err := r.ledger.ListUnsynced(ctx, r.clock.Now().Add(-r.minAge), r.batch)
	if err != nil {
		r.metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return res, err
	}

	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		res.Scanned++
		status := r.replicator.Replicate(ctx, &pending[i])
		r.metrics.ReconcileReports.WithLabelValues(string(status)).Inc()
		if status == MirrorSynced {
			res.Synced++
		} else {
			res.Failed++
		}
	}

	r.metrics.ReconcileRuns.WithLabelValues("ok").Inc()
	if res.Scanned > 0 {
		r.log.WithFields(logrus.Fields{
			"scanned": res.Scanned,
			"synced":  res.Synced,
			"failed":  res.Failed,
		}).Info("reconciliation sweep finished")
	}
	return res, nil
}

// Run sweeps on every interval tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 || !r.replicator.Enabled() {
		<-ctx.Done()
		return nil
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.WithError(err).Error("reconciliation sweep failed")
			}
		}
	}
}
