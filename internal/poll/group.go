package poll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrUnknownName is returned for names without a registered fetch.
var ErrUnknownName = errors.New("poll: unknown name")

// Group owns one Scheduler per name.
type Group struct {
	interval time.Duration
	clock    Clock
	logger   Logger

	mu         sync.Mutex
	schedulers map[string]*Scheduler
}

// NewGroup creates an empty group. Every scheduler added uses interval and clock.
func NewGroup(interval time.Duration, clock Clock) *Group {
	return &Group{
		interval:   interval,
		clock:      clock,
		logger:     noopLogger{},
		schedulers: make(map[string]*Scheduler),
	}
}

// SetLogger sets the logger passed to every scheduler added afterwards.
func (g *Group) SetLogger(logger Logger) {
	g.logger = logger
}

// Add registers fetch under name. Adding an existing name stops and
// replaces its scheduler.
func (g *Group) Add(name string, fetch FetchFunc) {
	s := NewScheduler(name, fetch, g.interval, g.clock)
	s.SetLogger(g.logger)

	g.mu.Lock()
	old := g.schedulers[name]
	g.schedulers[name] = s
	g.mu.Unlock()

	if old != nil {
		old.Stop()
	}
}

func (g *Group) get(name string) (*Scheduler, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.schedulers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return s, nil
}

// Start starts (or restarts) the scheduler for name.
func (g *Group) Start(ctx context.Context, name string) error {
	s, err := g.get(name)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// Stop stops the scheduler for name.
func (g *Group) Stop(name string) error {
	s, err := g.get(name)
	if err != nil {
		return err
	}
	s.Stop()
	return nil
}

// Running reports whether the scheduler for name is running.
func (g *Group) Running(name string) bool {
	s, err := g.get(name)
	return err == nil && s.Running()
}

// Names returns the registered names in sorted order.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.schedulers))
	for name := range g.schedulers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every scheduler. A failed first fetch does not prevent
// the others from starting; all failures are joined.
func (g *Group) StartAll(ctx context.Context) error {
	var errs []error
	for _, name := range g.Names() {
		if err := g.Start(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every scheduler.
func (g *Group) StopAll() {
	for _, name := range g.Names() {
		g.Stop(name) //nolint:errcheck // name comes from Names
	}
}
