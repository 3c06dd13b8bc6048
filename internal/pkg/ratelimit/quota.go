package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Counter reports how many reports a submitter has on a given calendar day.
type Counter interface {
	CountBySubmitterAndDate(ctx context.Context, submitterID string, day time.Time) (int64, error)
}

// DailyQuota caps accepted reports per submitter per calendar day in a fixed
// timezone. The count comes from the ledger, so there is no separate state to
// keep in sync with inserts.
type DailyQuota struct {
	counter Counter
	limit   int
	loc     *time.Location
	clock   clockwork.Clock
}

func NewDailyQuota(counter Counter, limit int, loc *time.Location, clock clockwork.Clock) *DailyQuota {
	if loc == nil {
		loc = time.FixedZone("UTC+7", 7*3600)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DailyQuota{counter: counter, limit: limit, loc: loc, clock: clock}
}

func (q *DailyQuota) Limit() int { return q.limit }

// Today returns midnight of the current day in the quota's timezone.
func (q *DailyQuota) Today() time.Time {
	now := q.clock.Now().In(q.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, q.loc)
}

// MayAccept reports whether submitterID is still under today's limit.
func (q *DailyQuota) MayAccept(ctx context.Context, submitterID string) (bool, error) {
	remaining, err := q.Remaining(ctx, submitterID)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// Remaining returns how many more reports submitterID may file today.
func (q *DailyQuota) Remaining(ctx context.Context, submitterID string) (int, error) {
	n, err := q.counter.CountBySubmitterAndDate(ctx, submitterID, q.Today())
	if err != nil {
		return 0, fmt.Errorf("count today's reports: %w", err)
	}
	remaining := q.limit - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ResetsAt returns the next midnight in the quota's timezone.
func (q *DailyQuota) ResetsAt() time.Time {
	return q.Today().AddDate(0, 0, 1)
}
