package reports

import (
	"context"
	"time"
)

// Ledger is the durable local record of every accepted report. All list
// operations return reports newest first.
type Ledger interface {
	// Insert stores r, assigning ID, SubmittedAt and ReportDate.
	Insert(ctx context.Context, r *Report) error
	Get(ctx context.Context, id int64) (*Report, error)
	QueryByDate(ctx context.Context, day time.Time) ([]Report, error)
	QueryByMonth(ctx context.Context, month Month) ([]Report, error)
	QueryAll(ctx context.Context, offset, limit int) ([]Report, int64, error)
	CountBySubmitterAndDate(ctx context.Context, submitterID string, day time.Time) (int64, error)
	MonthlyStatistics(ctx context.Context, month Month) (*Statistics, error)

	// UpdateMirrorStatus records a mirror outcome. A synced report is never
	// moved back to another status.
	UpdateMirrorStatus(ctx context.Context, id int64, upd MirrorUpdate) error
	// ListUnsynced returns reports submitted before the cutoff whose mirror
	// status is not synced, oldest first.
	ListUnsynced(ctx context.Context, before time.Time, limit int) ([]Report, error)
	Ping(ctx context.Context) error
}

// dayKey formats day as a report_date value in loc.
func dayKey(day time.Time, loc *time.Location) string {
	return day.In(loc).Format(DateLayout)
}

// buildStatistics derives the summary from per-day counts and the top
// severity and address. Days must be in ascending date order.
func buildStatistics(month Month, daily []DailyCount, severity, address string) *Statistics {
	stats := &Statistics{
		Month:               month.String(),
		MostCommonSeverity:  severity,
		MostAffectedAddress: address,
		Daily:               daily,
	}
	if stats.Daily == nil {
		stats.Daily = []DailyCount{}
	}

	for i, d := range daily {
		stats.TotalReports += d.Count
		if stats.PeakDay == nil || d.Count > stats.PeakDay.Count {
			stats.PeakDay = &daily[i]
		}
	}
	stats.DaysWithReports = len(daily)
	if stats.DaysWithReports > 0 {
		avg := float64(stats.TotalReports) / float64(stats.DaysWithReports)
		stats.AvgPerDay = float64(int64(avg*100+0.5)) / 100
	}
	return stats
}
