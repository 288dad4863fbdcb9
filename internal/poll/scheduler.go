package poll

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the refresh interval when none is configured.
const DefaultInterval = 10 * time.Second

// FetchFunc performs one refresh.
type FetchFunc func(ctx context.Context) error

// Logger defines the logging interface used in this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Scheduler runs one FetchFunc periodically.
//
// Thread Safety: all methods are safe for concurrent use. Fetches of the
// same scheduler never overlap.
type Scheduler struct {
	name     string
	fetch    FetchFunc
	interval time.Duration
	clock    Clock
	logger   Logger

	mu      sync.Mutex
	timer   Timer
	gen     uint64
	running bool

	fetchMu sync.Mutex
}

// NewScheduler creates a stopped scheduler. name is used in log lines.
func NewScheduler(name string, fetch FetchFunc, interval time.Duration, clock Clock) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{
		name:     name,
		fetch:    fetch,
		interval: interval,
		clock:    clock,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Start fetches immediately and schedules the next fetch. It returns the
// error of this first fetch. Calling Start on a running scheduler cancels
// the pending timer before anything else.
//
// ctx bounds the whole schedule: once it is done no further fetch is
// scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.gen++
	gen := s.gen
	s.running = true
	s.mu.Unlock()

	return s.tick(ctx, gen)
}

// Stop cancels the pending fetch.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.gen++
	s.running = false
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// tick fetches and, if gen is still current, schedules the next tick.
func (s *Scheduler) tick(ctx context.Context, gen uint64) error {
	s.fetchMu.Lock()
	err := s.fetch(ctx)
	s.fetchMu.Unlock()

	if err != nil {
		s.logger.Warn("poll fetch failed", "name", s.name, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || ctx.Err() != nil {
		return err
	}
	s.timer = s.clock.AfterFunc(s.interval, func() {
		s.tick(ctx, gen) //nolint:errcheck // logged in tick
	})
	s.logger.Debug("poll scheduled", "name", s.name, "in", s.interval)
	return err
}
