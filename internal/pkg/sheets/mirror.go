package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	apperrors "github.com/xyz-asif/floodreport/pkg/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrOffline is returned while the mirror is offline.
var ErrOffline = apperrors.ErrMirrorOffline

// Options tunes a Mirror. Zero values pick sensible defaults.
type Options struct {
	Location          *time.Location
	ReconnectInterval time.Duration
	RequestsPerSecond float64
	// OfflineAfter is the number of consecutive failed dials that take the
	// mirror offline. Defaults to 3.
	OfflineAfter int
	Clock        clockwork.Clock
	Logger       logrus.FieldLogger
	// OnStateChange is called with the new state whenever the mirror goes
	// online or offline.
	OnStateChange func(online bool)
}

// State is a point-in-time view of the mirror connection.
type State struct {
	Online       bool      `json:"online"`
	Connected    bool      `json:"connected"`
	LastError    string    `json:"lastError,omitempty"`
	OfflineSince time.Time `json:"offlineSince,omitempty"`
}

// Mirror appends report rows to a worksheet, connecting lazily and going
// offline when the remote store keeps refusing connections. A weighted
// semaphore serializes the check-then-append sequence so concurrent writers
// never interleave rows; waiting for it honours the caller's context.
type Mirror struct {
	dial         Dialer
	loc          *time.Location
	reconnect    time.Duration
	offlineAfter int
	clock        clockwork.Clock
	limiter      *rate.Limiter
	log          logrus.FieldLogger
	onState      func(bool)

	sem *semaphore.Weighted

	// mu guards the fields below and is never held across a remote call.
	mu           sync.RWMutex
	table        Table
	online       bool
	lastErr      error
	lastDial     time.Time
	offlineSince time.Time
	dialFailures int

	// ids already confirmed present in the worksheet
	known *cache.Cache
}

func NewMirror(dial Dialer, opts Options) *Mirror {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = time.Minute
	}
	if opts.OfflineAfter <= 0 {
		opts.OfflineAfter = 3
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Mirror{
		dial:         dial,
		loc:          opts.Location,
		reconnect:    opts.ReconnectInterval,
		offlineAfter: opts.OfflineAfter,
		clock:        opts.Clock,
		limiter:      rate.NewLimiter(limit, 5),
		log:          opts.Logger.WithField("component", "sheets"),
		onState:      opts.OnStateChange,
		sem:          semaphore.NewWeighted(1),
		online:       true,
		known:        cache.New(24*time.Hour, time.Hour),
	}
}

// Connect establishes the worksheet connection if it is not already up.
func (m *Mirror) Connect(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for mirror: %w", err)
	}
	defer m.sem.Release(1)

	_, err := m.connect(ctx)
	return err
}

// Write appends row unless a row with the same ReportID is already present.
// It reports whether a new row was appended.
func (m *Mirror) Write(ctx context.Context, row Row) (bool, error) {
	id := idString(row.ReportID)
	if _, ok := m.known.Get(id); ok {
		return false, nil
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("wait for mirror: %w", err)
	}
	defer m.sem.Release(1)

	// another writer may have mirrored it while we waited
	if _, ok := m.known.Get(id); ok {
		return false, nil
	}

	table, err := m.connect(ctx)
	if err != nil {
		return false, err
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return false, err
	}
	ids, err := table.Column(ctx, IDColumn)
	if err != nil {
		m.drop(err)
		return false, fmt.Errorf("read report ids: %w", err)
	}
	found := false
	for _, v := range ids {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		m.known.SetDefault(v, struct{}{})
		if v == id {
			found = true
		}
	}
	if found {
		m.log.WithField("report_id", row.ReportID).Debug("row already mirrored")
		return false, nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return false, err
	}
	if err := table.Append(ctx, row.Values(m.loc)); err != nil {
		m.drop(err)
		return false, fmt.Errorf("append row: %w", err)
	}
	m.known.SetDefault(id, struct{}{})
	return true, nil
}

// State returns the current connection state. It never waits on a remote
// call in progress.
func (m *Mirror) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := State{Online: m.online, Connected: m.table != nil, OfflineSince: m.offlineSince}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// connect returns the open table, dialing if needed. While offline it only
// redials once the reconnect interval has passed. A failed dial is an
// ordinary retryable error until OfflineAfter consecutive failures take the
// mirror offline; from then on failures are ErrOffline. Callers hold m.sem.
func (m *Mirror) connect(ctx context.Context) (Table, error) {
	now := m.clock.Now()

	m.mu.Lock()
	if m.table != nil {
		table := m.table
		m.mu.Unlock()
		return table, nil
	}
	if !m.online && now.Sub(m.lastDial) < m.reconnect {
		err := fmt.Errorf("%w: %v", ErrOffline, m.lastErr)
		m.mu.Unlock()
		return nil, err
	}
	m.lastDial = now
	m.mu.Unlock()

	table, err := m.dial(ctx)
	if err == nil {
		err = m.ensureHeader(ctx, table)
	}
	if err != nil {
		if m.dialFailed(err) {
			return nil, fmt.Errorf("%w: %v", ErrOffline, err)
		}
		return nil, fmt.Errorf("connect to worksheet: %w", err)
	}

	m.mu.Lock()
	m.table = table
	m.lastErr = nil
	m.dialFailures = 0
	recovered := !m.online
	offlineFor := now.Sub(m.offlineSince)
	m.online = true
	m.offlineSince = time.Time{}
	m.mu.Unlock()

	if recovered {
		m.log.WithField("offline_for", offlineFor.Round(time.Second).String()).Info("mirror back online")
		m.notify(true)
	}
	return table, nil
}

func (m *Mirror) ensureHeader(ctx context.Context, table Table) error {
	got, err := table.Header(ctx)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if headerMatches(got) {
		return nil
	}
	m.log.WithFields(logrus.Fields{
		"found":    strings.Join(got, ","),
		"expected": strings.Join(Header, ","),
	}).Warn("worksheet header drifted, repairing")
	if err := table.SetHeader(ctx, Header); err != nil {
		return fmt.Errorf("repair header: %w", err)
	}
	return nil
}

// drop forgets the table after a failed call so the next write redials and
// re-verifies the worksheet.
func (m *Mirror) drop(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = nil
	m.lastErr = err
}

// dialFailed records a failed dial and reports whether the mirror is now
// offline.
func (m *Mirror) dialFailed(err error) bool {
	m.mu.Lock()
	m.table = nil
	m.lastErr = err
	m.dialFailures++
	wentOffline := m.online && m.dialFailures >= m.offlineAfter
	if wentOffline {
		m.online = false
		m.offlineSince = m.clock.Now()
	}
	failures := m.dialFailures
	offline := !m.online
	m.mu.Unlock()

	if wentOffline {
		m.log.WithError(err).WithField("failed_dials", failures).Warn("mirror offline, local reporting continues")
		m.notify(false)
	} else if !offline {
		m.log.WithError(err).WithField("failed_dials", failures).Debug("mirror dial failed")
	}
	return offline
}

func (m *Mirror) notify(online bool) {
	if m.onState != nil {
		m.onState(online)
	}
}

// IsOffline reports whether err came from an offline mirror.
func IsOffline(err error) bool {
	return errors.Is(err, ErrOffline)
}
