package reports

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/xyz-asif/floodreport/internal/observability"
	"golang.org/x/sync/errgroup"
)

// MirrorQueue runs background mirror writes for committed reports. Reports
// that do not fit in the queue stay pending and are picked up by the
// reconciler.
type MirrorQueue struct {
	replicator *Replicator
	queue      chan Report
	workers    int
	metrics    *observability.Metrics
	log        logrus.FieldLogger
}

func NewMirrorQueue(replicator *Replicator, workers, size int, metrics *observability.Metrics, log logrus.FieldLogger) *MirrorQueue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MirrorQueue{
		replicator: replicator,
		queue:      make(chan Report, size),
		workers:    workers,
		metrics:    metrics,
		log:        log.WithField("component", "mirror_queue"),
	}
}

// Enqueue queues r without blocking.
func (q *MirrorQueue) Enqueue(r Report) bool {
	select {
	case q.queue <- r:
		q.metrics.MirrorQueueDepth.Set(float64(len(q.queue)))
		return true
	default:
		return false
	}
}

// Run starts the workers and blocks until ctx is done. Reports still queued
// at shutdown are left for the reconciler.
func (q *MirrorQueue) Run(ctx context.Context) error {
	q.log.WithField("workers", q.workers).Info("mirror queue started")
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case r := <-q.queue:
					q.metrics.MirrorQueueDepth.Set(float64(len(q.queue)))
					q.replicator.Replicate(ctx, &r)
				}
			}
		})
	}
	err := g.Wait()
	q.log.WithField("left_queued", len(q.queue)).Info("mirror queue stopped")
	return err
}
