// Package janitor runs the periodic cleanup jobs of the identity store:
// expired sessions, stranded link requests, old session redirects and used
// or expired magic-link tokens.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// Reaper fails link requests whose coordinator went away.
// *linking.Coordinator implements it.
type Reaper interface {
	ReapStranded(ctx context.Context, olderThan time.Duration) (int, error)
}

// Config configures the janitor
type Config struct {
	// Schedule is a cron expression, e.g. "@every 10m" or "*/5 * * * *"
	Schedule           string
	StrandedAfter      time.Duration
	RedirectRetention  time.Duration
	MagicLinkRetention time.Duration
	// RunTimeout bounds a single run
	RunTimeout time.Duration
}

// DefaultConfig returns the default janitor configuration
func DefaultConfig() Config {
	return Config{
		Schedule:           "@every 10m",
		StrandedAfter:      10 * time.Minute,
		RedirectRetention:  30 * 24 * time.Hour,
		MagicLinkRetention: 24 * time.Hour,
		RunTimeout:         5 * time.Minute,
	}
}

// Report counts what one run removed
type Report struct {
	ExpiredSessions int64
	StrandedLinks   int64
	Redirects       int64
	MagicLinks      int64
}

// Janitor runs cleanup on a cron schedule
type Janitor struct {
	store   storage.Maintenance
	reaper  Reaper
	config  Config
	metrics *observability.Metrics
	log     logrus.FieldLogger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Janitor
type Option func(*Janitor)

// WithMetrics counts removed rows in idlink_janitor_removed_total
func WithMetrics(m *observability.Metrics) Option {
	return func(j *Janitor) { j.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(j *Janitor) { j.log = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// New creates a janitor. reaper may be nil to skip stranded-link reaping.
func New(store storage.Maintenance, reaper Reaper, config Config, opts ...Option) *Janitor {
	d := DefaultConfig()
	if config.Schedule == "" {
		config.Schedule = d.Schedule
	}
	if config.StrandedAfter <= 0 {
		config.StrandedAfter = d.StrandedAfter
	}
	if config.RedirectRetention <= 0 {
		config.RedirectRetention = d.RedirectRetention
	}
	if config.MagicLinkRetention <= 0 {
		config.MagicLinkRetention = d.MagicLinkRetention
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = d.RunTimeout
	}

	j := &Janitor{
		store:  store,
		reaper: reaper,
		config: config,
		log:    logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.log = j.log.WithField("component", "janitor")
	return j
}

// RunOnce runs every cleanup step. A failing step does not stop the others;
// all failures are joined into the returned error.
func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   []error
	)
	now := j.now().UTC()

	n, err := j.store.DeleteExpiredSessions(ctx, now)
	report.ExpiredSessions = j.count("expired_sessions", n, err, &errs)

	if j.reaper != nil {
		reaped, err := j.reaper.ReapStranded(ctx, j.config.StrandedAfter)
		report.StrandedLinks = j.count("stranded_links", int64(reaped), err, &errs)
	}

	n, err = j.store.DeleteRedirectsBefore(ctx, now.Add(-j.config.RedirectRetention))
	report.Redirects = j.count("redirects", n, err, &errs)

	n, err = j.store.DeleteMagicLinkTokensBefore(ctx, now.Add(-j.config.MagicLinkRetention))
	report.MagicLinks = j.count("magic_links", n, err, &errs)

	return report, errors.Join(errs...)
}

func (j *Janitor) count(kind string, n int64, err error, errs *[]error) int64 {
	if err != nil {
		j.log.WithError(err).WithField("kind", kind).Error("Janitor step failed")
		*errs = append(*errs, fmt.Errorf("%s: %w", kind, err))
	}
	j.metrics.AddJanitorRemoved(kind, n)
	return n
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.config.RunTimeout)
	defer cancel()

	start := time.Now()
	report, err := j.RunOnce(ctx)
	entry := j.log.WithFields(logrus.Fields{
		"expired_sessions": report.ExpiredSessions,
		"stranded_links":   report.StrandedLinks,
		"redirects":        report.Redirects,
		"magic_links":      report.MagicLinks,
		"duration_ms":      time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("Janitor run finished with errors")
		return
	}
	entry.Info("Janitor run completed")
}

// Start schedules runs. Overlapping runs are skipped.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return errors.New("janitor already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(j.log))))
	if _, err := c.AddFunc(j.config.Schedule, j.run); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.config.Schedule, err)
	}
	c.Start()
	j.cron = c

	j.log.WithField("schedule", j.config.Schedule).Info("Janitor started")
	return nil
}

// Stop stops scheduling and returns a context done when the running job ends
func (j *Janitor) Stop() context.Context {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := j.cron.Stop()
	j.cron = nil
	return ctx
}
