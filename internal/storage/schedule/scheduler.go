package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
	"github.com/yndnr/meshkv/internal/telemetry/metric"
)

// DefaultTick is how often the scheduler evaluates its spec.
const DefaultTick = time.Second

// SaveFunc performs one scheduled save.
type SaveFunc func(ctx context.Context) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick sets the evaluation period.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocation sets the zone calendar specs are evaluated in (default UTC).
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics records trigger outcomes.
func WithMetrics(m *metric.Registry) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler triggers saves from a Spec. It fires at most once per matching
// minute for calendar specs and once per elapsed interval for @every specs.
// A trigger that finds a save still running is skipped, not queued.
type Scheduler struct {
	save    SaveFunc
	tick    time.Duration
	now     func() time.Time
	loc     *time.Location
	logger  *slog.Logger
	metrics *metric.Registry

	mu   sync.Mutex
	spec *Spec
	// last is the minute (calendar) or instant (interval) of the last fire.
	last time.Time

	inFlight atomic.Bool
	wg       sync.WaitGroup

	runMu  sync.Mutex
	cancel context.CancelFunc
	doneCh chan struct{}
}

// New creates a stopped scheduler with no spec.
func New(save SaveFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		save: save,
		tick: DefaultTick,
		now:  time.Now,
		loc:  time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Discard()
	}
	return s
}

// SetSpec replaces the schedule. A nil spec disables scheduling. Interval
// specs start counting from the moment they are set.
func (s *Scheduler) SetSpec(spec *Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spec = spec
	s.last = time.Time{}
	if spec != nil && spec.Interval() > 0 {
		s.last = s.now()
	}
	if spec == nil {
		s.logger.Info("snapshot schedule disabled")
	} else {
		s.logger.Info("snapshot schedule set", "schedule", spec.String())
	}
}

// Spec returns the current schedule, or nil.
func (s *Scheduler) Spec() *Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Start launches the evaluation loop. It is a no-op if already running.
func (s *Scheduler) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	go s.loop(ctx, s.doneCh)
}

// Running reports whether the evaluation loop is running.
func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

// Stop ends the loop, cancels a running scheduled save and waits for it.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	cancel, done := s.cancel, s.doneCh
	s.cancel, s.doneCh = nil, nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Evaluate(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Evaluate checks the spec against the clock once and starts a save if it
// is due. It reports whether a save was started.
func (s *Scheduler) Evaluate(ctx context.Context) bool {
	if !s.due(s.now().In(s.loc)) {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("scheduled save skipped, previous save still running")
		s.metrics.RecordTrigger("skipped")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.run(ctx)
	}()
	return true
}

// due decides and records a fire under the lock so one matching window
// yields one trigger.
func (s *Scheduler) due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spec == nil {
		return false
	}
	if every := s.spec.Interval(); every > 0 {
		if now.Sub(s.last) < every {
			return false
		}
		s.last = now
		return true
	}
	minute := now.Truncate(time.Minute)
	if !Matches(s.spec, now) || minute.Equal(s.last) {
		return false
	}
	s.last = minute
	return true
}

func (s *Scheduler) run(ctx context.Context) {
	start := s.now()
	err := s.save(ctx)
	switch {
	case err == nil:
		s.metrics.RecordTrigger("fired")
		s.logger.Info("scheduled save completed", "duration", s.now().Sub(start))
	case errors.Is(err, domain.ErrBusy):
		s.metrics.RecordTrigger("skipped")
		s.logger.Warn("scheduled save skipped, save already in progress")
	case ctx.Err() != nil:
		s.metrics.RecordTrigger("failed")
		s.logger.Warn("scheduled save cancelled", "error", err)
	default:
		s.metrics.RecordTrigger("failed")
		s.logger.Error("scheduled save failed, will retry at next trigger", "error", err)
	}
}
