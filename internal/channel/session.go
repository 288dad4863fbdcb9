package channel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrNotConnected is returned by Session.Send while the transport is down.
var ErrNotConnected = errors.New("channel: not connected")

const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
)

// Backoff bounds the delay between reconnect attempts. The delay doubles
// after every failed attempt and resets once a connection succeeds.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) next(d time.Duration) time.Duration {
	d *= 2
	if d > b.Max {
		return b.Max
	}
	return d
}

// Session keeps a Transport connected and feeds its frames to a Reconciler.
type Session struct {
	transport  Transport
	reconciler *Reconciler
	backoff    Backoff
	logger     Logger

	connected    atomic.Bool
	onConnection func(connected bool)
}

// NewSession creates a session. Zero backoff fields take the defaults of
// 1s and 30s.
func NewSession(transport Transport, reconciler *Reconciler, backoff Backoff) *Session {
	if backoff.Initial <= 0 {
		backoff.Initial = defaultInitialDelay
	}
	if backoff.Max < backoff.Initial {
		backoff.Max = defaultMaxDelay
	}
	return &Session{
		transport:  transport,
		reconciler: reconciler,
		backoff:    backoff,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.logger = logger
}

// OnConnectionChange registers a callback for connect and disconnect.
// It must be set before Run.
func (s *Session) OnConnectionChange(fn func(connected bool)) {
	s.onConnection = fn
}

// Connected reports whether the transport is currently up.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Run connects, pumps frames and reconnects until ctx is cancelled.
// It only returns once ctx is done.
func (s *Session) Run(ctx context.Context) error {
	delay := s.backoff.Initial
	for {
		err := s.transport.Connect(ctx)
		if err == nil {
			delay = s.backoff.Initial
			err = s.serve(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}

		s.logger.Warn("channel disconnected, retrying", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = s.backoff.next(delay)
	}
}

// serve runs one connected period.
func (s *Session) serve(ctx context.Context) error {
	defer s.transport.Close() //nolint:errcheck // reconnect path

	if err := s.reconciler.Resync(ctx); err != nil {
		return err
	}
	s.setConnected(true)
	defer s.setConnected(false)
	s.logger.Info("channel connected")

	for {
		frame, err := s.transport.Receive(ctx)
		if err != nil {
			return err
		}
		if err := s.reconciler.Deliver(ctx, frame); err != nil {
			return err
		}
	}
}

func (s *Session) setConnected(v bool) {
	if s.connected.Swap(v) == v {
		return
	}
	if s.onConnection != nil {
		s.onConnection(v)
	}
}

// Send writes msg to the backend.
func (s *Session) Send(ctx context.Context, msg Message) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Type, err)
	}
	return nil
}
