package channel

import (
	"context"
	"errors"
	"sort"

	"github.com/trackside/signalbox/internal/catalog"
	"github.com/trackside/signalbox/internal/state"
)

// Logger defines the logging interface used in this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer receives one call per processed inbound frame.
type Observer interface {
	ObserveMessage(msgType, outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveMessage(string, string) {}

// Message outcomes reported to the Observer.
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeDropped = "dropped"
)

const inboxSize = 256

type event struct {
	frame   []byte
	resync  bool
	kind    catalog.Kind
	removed []int
}

// Reconciler applies inbound channel messages to the state store.
//
// Frames, resync markers and catalog removals are queued and applied by
// Run in the order they were queued. Run is the only code path that writes
// to the store.
type Reconciler struct {
	store    *state.Store
	inbox    chan event
	logger   Logger
	observer Observer

	// pendingResync is owned by the Run goroutine.
	pendingResync bool
}

// NewReconciler creates a Reconciler writing to store.
func NewReconciler(store *state.Store) *Reconciler {
	return &Reconciler{
		store:         store,
		inbox:         make(chan event, inboxSize),
		logger:        noopLogger{},
		observer:      noopObserver{},
		pendingResync: true,
	}
}

// SetLogger sets the logger for the reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// SetObserver sets the per-message observer.
func (r *Reconciler) SetObserver(o Observer) {
	r.observer = o
}

// Run applies queued events until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.inbox:
			r.apply(ev)
		}
	}
}

// Deliver queues a raw inbound frame. It blocks while the queue is full.
func (r *Reconciler) Deliver(ctx context.Context, frame []byte) error {
	return r.enqueue(ctx, event{frame: frame})
}

// Resync marks the next state message as the first one of a new
// connection. A Session calls it after every (re)connect. Its entries are
// upserted like any other; entries it omits stay in the store.
func (r *Reconciler) Resync(ctx context.Context) error {
	return r.enqueue(ctx, event{resync: true})
}

// CatalogRemoved queues removal of entries whose catalog records disappeared.
func (r *Reconciler) CatalogRemoved(ctx context.Context, kind catalog.Kind, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	return r.enqueue(ctx, event{kind: kind, removed: ids})
}

func (r *Reconciler) enqueue(ctx context.Context, ev event) error {
	select {
	case r.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) apply(ev event) {
	switch {
	case ev.resync:
		r.pendingResync = true
	case ev.removed != nil:
		r.store.Remove(ev.kind, ev.removed)
		r.logger.Debug("removed state for deleted catalog records", "kind", ev.kind, "count", len(ev.removed))
	default:
		if err := r.Handle(ev.frame); err != nil {
			r.logger.Warn("dropping channel message", "error", err)
		}
	}
}

// Handle decodes and applies one frame synchronously. It must only be
// called from the goroutine running Run, or when Run is not running.
//
// Malformed frames and unknown types return an error and leave the store
// unchanged.
func (r *Reconciler) Handle(frame []byte) error {
	v, err := Decode(frame)
	if err != nil {
		msgType := "invalid"
		if errors.Is(err, ErrUnknownType) {
			msgType = "unknown"
		}
		r.observer.ObserveMessage(msgType, OutcomeDropped)
		return err
	}

	switch m := v.(type) {
	case State:
		r.applyState(m)
		r.observer.ObserveMessage(string(TypeState), OutcomeApplied)
	case SetPoints, SetPowerSwitch, SetReverser, SetSpeed, ToggleDecoderFunction, Refresh:
		// Outbound shapes echoed back carry no state.
		r.logger.Debug("ignoring inbound command message", "type", v.MessageType())
		r.observer.ObserveMessage(string(v.MessageType()), OutcomeIgnored)
	default:
		r.observer.ObserveMessage(string(v.MessageType()), OutcomeIgnored)
	}
	return nil
}

func (r *Reconciler) applyState(m State) {
	resync := r.pendingResync
	r.pendingResync = false

	keys := make([]string, 0, len(m.Entries))
	for key := range m.Entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	updates := make([]state.Update, 0, len(keys))
	for _, key := range keys {
		k, entry, err := toEntry(key, m.Entries[key])
		if err != nil {
			r.logger.Warn("dropping state entry", "key", key, "error", err)
			continue
		}
		updates = append(updates, state.Update{Kind: k.Kind, ID: k.ID, Entry: entry})
	}

	r.store.ApplyEntries(updates)
	if resync {
		r.logger.Info("state resynchronised", "entries", len(updates))
	}
}
