package sheets

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Header is the fixed column layout of the mirrored worksheet. ReportId
// trails the public columns and carries the local ledger id used to detect
// rows that were already appended.
var Header = []string{
	"Timestamp",
	"Address",
	"Severity",
	"ReporterName",
	"ReporterPhone",
	"SubmitterId",
	"PhotoRef",
	"Status",
	"ReportId",
}

// IDColumn is the zero-based index of ReportId in Header.
const IDColumn = 8

const TimestampLayout = "2006-01-02 15:04:05"

// Table is a single worksheet in a remote spreadsheet.
type Table interface {
	// Header returns the first row.
	Header(ctx context.Context) ([]string, error)
	// SetHeader overwrites the first row.
	SetHeader(ctx context.Context, header []string) error
	// Column returns the values of a column below the header row.
	Column(ctx context.Context, index int) ([]string, error)
	// Append adds one row after the last non-empty row.
	Append(ctx context.Context, values []interface{}) error
}

// Dialer locates or creates the worksheet and returns a handle to it.
type Dialer func(ctx context.Context) (Table, error)

// Row is one mirrored report.
type Row struct {
	ReportID      int64
	Timestamp     time.Time
	Address       string
	Severity      string
	ReporterName  string
	ReporterPhone string
	SubmitterID   string
	PhotoRef      string
	Status        string
}

// Values renders the row in Header order. Timestamps are written in loc.
func (r Row) Values(loc *time.Location) []interface{} {
	if loc == nil {
		loc = time.UTC
	}
	return []interface{}{
		r.Timestamp.In(loc).Format(TimestampLayout),
		cellText(r.Address),
		cellText(r.Severity),
		cellText(r.ReporterName),
		cellText(r.ReporterPhone),
		cellText(r.SubmitterID),
		photoCell(r.PhotoRef),
		cellText(r.Status),
		r.ReportID,
	}
}

// cellText keeps user input literal when written with USER_ENTERED: formula
// prefixes and all-digit strings (phone numbers lose their leading zero
// otherwise) are quoted with an apostrophe.
func cellText(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\'':
		return "'" + s
	}
	if isDigits(s) {
		return "'" + s
	}
	return s
}

// photoCell links externally hosted photos and leaves local paths as text.
func photoCell(ref string) string {
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		return `=HYPERLINK("` + strings.ReplaceAll(ref, `"`, `""`) + `", "View photo")`
	}
	return cellText(ref)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func headerMatches(got []string) bool {
	if len(got) != len(Header) {
		return false
	}
	for i := range Header {
		if strings.TrimSpace(got[i]) != Header[i] {
			return false
		}
	}
	return true
}
