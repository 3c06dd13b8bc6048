package reports

import (
	"fmt"
	"time"
)

// MirrorStatus tracks whether a report reached the remote spreadsheet.
type MirrorStatus string

const (
	MirrorNotAttempted MirrorStatus = "not_attempted"
	MirrorPending      MirrorStatus = "pending"
	MirrorSynced       MirrorStatus = "synced"
	MirrorFailed       MirrorStatus = "failed"
)

// ReviewPending is the review status every new report starts with.
const ReviewPending = "pending"

// DateLayout is the calendar-day format used for report_date and query params.
const DateLayout = "2006-01-02"

// Report is a single flood observation submitted by a citizen.
type Report struct {
	ID             int64        `gorm:"column:id;primaryKey;autoIncrement" bson:"_id" json:"id"`
	SubmittedAt    time.Time    `gorm:"column:submitted_at" bson:"submittedAt" json:"submittedAt"`
	Address        string       `gorm:"column:address" bson:"address" json:"address"`
	FloodHeight    string       `gorm:"column:flood_height" bson:"floodHeight" json:"floodHeight"`
	ReporterName   string       `gorm:"column:reporter_name" bson:"reporterName" json:"reporterName"`
	ReporterPhone  *string      `gorm:"column:reporter_phone" bson:"reporterPhone,omitempty" json:"reporterPhone,omitempty"`
	PhotoRef       *string      `gorm:"column:photo_ref" bson:"photoRef,omitempty" json:"photoRef,omitempty"`
	SubmitterID    string       `gorm:"column:submitter_id" bson:"submitterId" json:"-"`
	ReportDate     string       `gorm:"column:report_date" bson:"reportDate" json:"reportDate"`
	Status         string       `gorm:"column:status" bson:"status" json:"status"`
	MirrorStatus   MirrorStatus `gorm:"column:mirror_status" bson:"mirrorStatus" json:"mirrorStatus"`
	MirrorAttempts int          `gorm:"column:mirror_attempts" bson:"mirrorAttempts" json:"mirrorAttempts"`
	MirrorError    string       `gorm:"column:mirror_error" bson:"mirrorError,omitempty" json:"mirrorError,omitempty"`
	MirroredAt     *time.Time   `gorm:"column:mirrored_at" bson:"mirroredAt,omitempty" json:"mirroredAt,omitempty"`
}

func (Report) TableName() string { return "flood_reports" }

// MirrorUpdate is the outcome of one round of mirror attempts.
type MirrorUpdate struct {
	Status   MirrorStatus
	Attempts int
	Error    string
	At       time.Time
}

// Statistics summarizes one month of reports.
type Statistics struct {
	Month               string       `json:"month"`
	TotalReports        int64        `json:"totalReports"`
	DaysWithReports     int          `json:"daysWithReports"`
	AvgPerDay           float64      `json:"avgPerDay"`
	MostCommonSeverity  string       `json:"mostCommonSeverity"`
	MostAffectedAddress string       `json:"mostAffectedAddress"`
	PeakDay             *DailyCount  `json:"peakDay,omitempty"`
	Daily               []DailyCount `json:"daily"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// SubmitInput is the user-supplied part of a report.
type SubmitInput struct {
	Address       string `json:"address" form:"address" validate:"required,max=500"`
	FloodHeight   string `json:"floodHeight" form:"floodHeight" validate:"required,severity"`
	ReporterName  string `json:"reporterName" form:"reporterName" validate:"required,max=100"`
	ReporterPhone string `json:"reporterPhone" form:"reporterPhone" validate:"omitempty,alldigits,min=10"`
}

// PhotoUpload is an optional image attached to a submission.
type PhotoUpload struct {
	Data     []byte
	Filename string
}

// Submission is what the caller is told about a submit attempt.
type Submission struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	Report       *Report      `json:"report,omitempty"`
	MirrorStatus MirrorStatus `json:"mirrorStatus,omitempty"`
}

// Quota is the caller's standing against the daily limit.
type Quota struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resetsAt"`
}

// Month identifies a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q, expected YYYY-MM", s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// FirstDay returns the first day of the month as a report_date value.
func (m Month) FirstDay() string {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).Format(DateLayout)
}

// NextFirstDay returns the first day of the following month.
func (m Month) NextFirstDay() string {
	return time.Date(m.Year, m.Month+1, 1, 0, 0, 0, 0, time.UTC).Format(DateLayout)
}
