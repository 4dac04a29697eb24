// Package watch owns the poll loop: build a catalog snapshot, diff it against
// the previous one, route the changes to interested receivers, and deliver.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pkgwatch/internal/catalog"
	"pkgwatch/internal/config"
	"pkgwatch/internal/notify"
	"pkgwatch/internal/registry"
	"pkgwatch/internal/storage"
	logx "pkgwatch/pkg/logx"
)

const (
	defaultPollInterval = time.Minute
	defaultThrottle     = time.Second
)

type Service struct {
	cfgm    *config.Manager
	reg     *registry.Registry
	builder *catalog.Builder
	exec    *notify.Executor
	store   storage.Store // may be nil
	log     logx.Logger

	cronMu   sync.Mutex
	cron     *cron.Cron
	entryID  cron.EntryID
	interval time.Duration
	runCtx   context.Context

	// mu guards the loop state below. The poll trigger is serialized
	// (DelayIfStillRunning), so only status/query commands contend here.
	mu          sync.Mutex
	prev        catalog.Snapshot
	lastPoll    time.Time
	lastErr     string
	lastChanges int
}

func New(cfgm *config.Manager, reg *registry.Registry, builder *catalog.Builder, exec *notify.Executor, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfgm:    cfgm,
		reg:     reg,
		builder: builder,
		exec:    exec,
		store:   store,
		log:     log,
	}
}

// Start primes the previous snapshot with one synchronous build, then starts
// the recurring trigger. Cycles never overlap: a tick that fires while the
// previous cycle is still running is delayed, not run concurrently, so the
// previous-snapshot state is only ever touched by one cycle at a time.
func (s *Service) Start(ctx context.Context) error {
	cfg := s.cfgm.Get()
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	interval, err := config.ParseDurationOrDefault("catalog.poll_interval", cfg.Catalog.PollInterval, defaultPollInterval)
	if err != nil {
		return err
	}
	// Zero would mean a free-running trigger; unlike the throttle there is no
	// disabled reading for the poll interval, so fall back to the default.
	if interval <= 0 {
		interval = defaultPollInterval
	}

	// Prime so the first scheduled tick diffs against real data. A failed
	// priming build is not fatal: the first successful tick primes instead
	// (and does not diff, to avoid announcing the whole catalog as new).
	snap, err := s.builder.Build(ctx, s.source(cfg))
	if err != nil {
		s.log.Warn("initial catalog fetch failed; will prime on a later tick", logx.Err(err))
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		s.prev = snap
		s.lastPoll = time.Now()
		s.mu.Unlock()
		s.log.Info("catalog primed", logx.Int("entries", len(snap)))
	}

	cl := cronLogger{log: s.log}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)))

	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	s.runCtx = ctx
	s.cron = c
	s.interval = interval
	id, err := c.AddFunc("@every "+interval.String(), func() { s.poll(ctx) })
	if err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	s.entryID = id
	c.Start()
	s.log.Info("poll loop started", logx.Duration("interval", interval))
	return nil
}

// Reschedule swaps the poll interval at runtime (config hot reload).
func (s *Service) Reschedule(interval time.Duration) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron == nil || interval == s.interval {
		return nil
	}
	ctx := s.runCtx
	s.cron.Remove(s.entryID)
	id, err := s.cron.AddFunc("@every "+interval.String(), func() { s.poll(ctx) })
	if err != nil {
		return fmt.Errorf("reschedule poll: %w", err)
	}
	s.entryID = id
	s.interval = interval
	s.log.Info("poll interval updated", logx.Duration("interval", interval))
	return nil
}

// Stop halts the trigger and waits (bounded by ctx) for an in-flight cycle.
func (s *Service) Stop(ctx context.Context) {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("poll loop stop timed out")
	}
}

// poll runs one cycle: build -> diff -> route -> deliver. A failed build
// aborts the cycle and leaves the previous snapshot untouched, so the missed
// changes surface on the next successful poll.
func (s *Service) poll(ctx context.Context) {
	cfg := s.cfgm.Get()
	if cfg == nil || ctx.Err() != nil {
		return
	}
	start := time.Now()

	snap, err := s.builder.Build(ctx, s.source(cfg))
	if err != nil {
		s.log.Warn("catalog poll failed", logx.Err(err))
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	prev := s.prev
	// Replaced unconditionally: delivery failures below do not roll this
	// back (at-most-once, best-effort).
	s.prev = snap
	s.lastPoll = time.Now()
	s.lastErr = ""
	s.mu.Unlock()

	if prev == nil {
		s.log.Info("catalog primed", logx.Int("entries", len(snap)))
		return
	}

	changes := catalog.Diff(prev, snap, renderOptions(cfg))
	s.mu.Lock()
	s.lastChanges = len(changes)
	s.mu.Unlock()
	if len(changes) == 0 {
		s.log.Debug("no catalog changes", logx.Duration("took", time.Since(start)))
		return
	}

	plan := notify.Route(changes, s.reg.Receivers(), cfg.Notify.Header)
	throttle, err := config.ParseDurationOrDefault("notify.throttle", cfg.Notify.Throttle, defaultThrottle)
	if err != nil {
		s.log.Warn("invalid notify.throttle; using default", logx.Err(err))
		throttle = defaultThrottle
	}
	sent, failed := s.exec.Deliver(ctx, plan, throttle)
	s.log.Info("catalog changes delivered",
		logx.Int("changes", len(changes)),
		logx.Int("receivers", len(plan)),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)),
	)
}

func (s *Service) source(cfg *config.Config) catalog.Source {
	timeout, err := config.ParseDurationOrDefault("catalog.fetch_timeout", cfg.Catalog.FetchTimeout, 30*time.Second)
	if err != nil {
		timeout = 30 * time.Second
	}
	return catalog.Source{
		Endpoint:      cfg.Catalog.Endpoint,
		Timeout:       timeout,
		IncludeHidden: cfg.Catalog.ShowHidden,
	}
}

func renderOptions(cfg *config.Config) catalog.RenderOptions {
	return catalog.RenderOptions{
		ShowPublisher:    cfg.Catalog.ShowPublisher,
		ShowDescription:  cfg.Catalog.ShowDescription,
		ShowDeletions:    cfg.Catalog.ShowDeletions,
		Language:         cfg.Catalog.Language,
		FallbackLanguage: cfg.Catalog.FallbackLanguage,
	}
}

// Status is a point-in-time view for the status command.
type Status struct {
	LastPoll    time.Time
	LastErr     string
	Entries     int
	LastChanges int
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		LastPoll:    s.lastPoll,
		LastErr:     s.lastErr,
		Entries:     len(s.prev),
		LastChanges: s.lastChanges,
	}
}

// Current returns the latest successfully built snapshot (nil before the
// first successful poll). Used by the catalog query command.
func (s *Service) Current() catalog.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

// ---- cron logger bridge ----

type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.log.Debug(msg, kvFields(kv)...)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.log.Warn(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	var fields []logx.Field
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		fields = append(fields, logx.Any(k, kv[i+1]))
	}
	return fields
}
