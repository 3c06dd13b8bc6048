package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	apperrors "github.com/xyz-asif/floodreport/pkg/errors"
	"gorm.io/gorm"
)

// Repository is the SQLite ledger.
type Repository struct {
	db    *gorm.DB
	loc   *time.Location
	clock clockwork.Clock
}

func NewRepository(db *gorm.DB, loc *time.Location, clock clockwork.Clock) *Repository {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Repository{db: db, loc: loc, clock: clock}
}

func (r *Repository) Insert(ctx context.Context, rep *Report) error {
	now := r.clock.Now().UTC()
	rep.ID = 0
	rep.SubmittedAt = now
	rep.ReportDate = dayKey(now, r.loc)
	if rep.Status == "" {
		rep.Status = ReviewPending
	}
	if rep.MirrorStatus == "" {
		rep.MirrorStatus = MirrorNotAttempted
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(rep).Error
	})
	if err != nil {
		return fmt.Errorf("%w: insert report: %v", apperrors.ErrLocalStorage, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*Report, error) {
	var rep Report
	err := r.db.WithContext(ctx).First(&rep, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get report %d: %v", apperrors.ErrLocalStorage, id, err)
	}
	rep.SubmittedAt = rep.SubmittedAt.UTC()
	return &rep, nil
}

func (r *Repository) QueryByDate(ctx context.Context, day time.Time) ([]Report, error) {
	return r.find(ctx, r.newest(ctx).Where("report_date = ?", dayKey(day, r.loc)))
}

func (r *Repository) QueryByMonth(ctx context.Context, month Month) ([]Report, error) {
	return r.find(ctx, r.newest(ctx).Where("report_date >= ? AND report_date < ?", month.FirstDay(), month.NextFirstDay()))
}

func (r *Repository) QueryAll(ctx context.Context, offset, limit int) ([]Report, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Report{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("%w: count reports: %v", apperrors.ErrLocalStorage, err)
	}
	out, err := r.find(ctx, r.newest(ctx).Offset(offset).Limit(limit))
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *Repository) CountBySubmitterAndDate(ctx context.Context, submitterID string, day time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Report{}).
		Where("submitter_id = ? AND report_date = ?", submitterID, dayKey(day, r.loc)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: count reports: %v", apperrors.ErrLocalStorage, err)
	}
	return n, nil
}

func (r *Repository) MonthlyStatistics(ctx context.Context, month Month) (*Statistics, error) {
	inMonth := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&Report{}).
			Where("report_date >= ? AND report_date < ?", month.FirstDay(), month.NextFirstDay())
	}

	var daily []DailyCount
	err := inMonth().Select("report_date AS date, COUNT(*) AS count").
		Group("report_date").Order("report_date ASC").Scan(&daily).Error
	if err != nil {
		return nil, fmt.Errorf("%w: daily counts: %v", apperrors.ErrLocalStorage, err)
	}

	severity, err := r.mostCommon(inMonth(), "flood_height")
	if err != nil {
		return nil, err
	}
	address, err := r.mostCommon(inMonth(), "address")
	if err != nil {
		return nil, err
	}
	return buildStatistics(month, daily, severity, address), nil
}

// mostCommon returns the most frequent value of column; ties go to the
// lexicographically smaller value.
func (r *Repository) mostCommon(q *gorm.DB, column string) (string, error) {
	var top []struct {
		Value string
		N     int64
	}
	err := q.Select(column + " AS value, COUNT(*) AS n").
		Group(column).Order("n DESC").Order("value ASC").Limit(1).Scan(&top).Error
	if err != nil {
		return "", fmt.Errorf("%w: top %s: %v", apperrors.ErrLocalStorage, column, err)
	}
	if len(top) == 0 {
		return "", nil
	}
	return top[0].Value, nil
}

func (r *Repository) UpdateMirrorStatus(ctx context.Context, id int64, upd MirrorUpdate) error {
	fields := map[string]interface{}{
		"mirror_status":   upd.Status,
		"mirror_error":    upd.Error,
		"mirror_attempts": gorm.Expr("mirror_attempts + ?", upd.Attempts),
	}
	if upd.Status == MirrorSynced {
		at := upd.At
		if at.IsZero() {
			at = r.clock.Now()
		}
		fields["mirrored_at"] = at.UTC()
		fields["mirror_error"] = ""
	}

	q := r.db.WithContext(ctx).Model(&Report{}).Where("id = ?", id)
	if upd.Status != MirrorSynced {
		q = q.Where("mirror_status <> ?", MirrorSynced)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("%w: update mirror status: %v", apperrors.ErrLocalStorage, res.Error)
	}
	if res.RowsAffected == 0 {
		// Either missing or already synced.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) ListUnsynced(ctx context.Context, before time.Time, limit int) ([]Report, error) {
	q := r.db.WithContext(ctx).
		Where("mirror_status <> ? AND submitted_at < ?", MirrorSynced, before.UTC()).
		Order("submitted_at ASC").Order("id ASC").
		Limit(limit)
	return r.find(ctx, q)
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repository) newest(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Order("submitted_at DESC").Order("id DESC")
}

func (r *Repository) find(_ context.Context, q *gorm.DB) ([]Report, error) {
	out := []Report{}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: query reports: %v", apperrors.ErrLocalStorage, err)
	}
	for i := range out {
		out[i].SubmittedAt = out[i].SubmittedAt.UTC()
	}
	return out, nil
}
