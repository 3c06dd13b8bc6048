// Package sheetstest provides an in-memory worksheet for mirror tests.
package sheetstest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xyz-asif/floodreport/internal/pkg/sheets"
)

var ErrUnavailable = errors.New("sheetstest: remote unavailable")

// Table is an in-memory sheets.Table. Failure knobs let tests simulate an
// unreachable service or an append whose acknowledgement is lost.
type Table struct {
	mu     sync.Mutex
	header []string
	rows   [][]interface{}

	// DialErr makes Dialer fail.
	DialErr error
	// FailDials makes the next n dials fail with ErrUnavailable.
	FailDials int
	// AppendErr makes every Append fail without storing the row.
	AppendErr error
	// LoseAcks makes the next n appends store the row but return an error.
	LoseAcks int

	Dials   int
	Appends int
}

// New returns a table whose first row is header (nil for an empty sheet).
func New(header []string) *Table {
	return &Table{header: append([]string(nil), header...)}
}

// Dialer returns a sheets.Dialer that hands out this table.
func (t *Table) Dialer() sheets.Dialer {
	return func(ctx context.Context) (sheets.Table, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.Dials++
		if t.DialErr != nil {
			return nil, t.DialErr
		}
		if t.FailDials > 0 {
			t.FailDials--
			return nil, ErrUnavailable
		}
		return t, nil
	}
}

func (t *Table) SetFailures(dialErr, appendErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.DialErr = dialErr
	t.AppendErr = appendErr
}

func (t *Table) Header(_ context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.header...), nil
}

func (t *Table) SetHeader(_ context.Context, header []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.header = append([]string(nil), header...)
	return nil
}

func (t *Table) Column(_ context.Context, index int) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.rows))
	for _, r := range t.rows {
		if index < len(r) {
			out = append(out, fmt.Sprint(r[index]))
		} else {
			out = append(out, "")
		}
	}
	return out, nil
}

func (t *Table) Append(_ context.Context, values []interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Appends++
	if t.AppendErr != nil {
		return t.AppendErr
	}
	t.rows = append(t.rows, append([]interface{}(nil), values...))
	if t.LoseAcks > 0 {
		t.LoseAcks--
		return ErrUnavailable
	}
	return nil
}

// Rows returns a copy of the stored rows.
func (t *Table) Rows() [][]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]interface{}, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]interface{}(nil), r...)
	}
	return out
}

// RowsFor counts stored rows carrying report id.
func (t *Table) RowsFor(id int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	want := fmt.Sprint(id)
	n := 0
	for _, r := range t.rows {
		if len(r) > sheets.IDColumn && fmt.Sprint(r[sheets.IDColumn]) == want {
			n++
		}
	}
	return n
}
