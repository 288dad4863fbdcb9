package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

type keyed interface {
	catalogKey() string
}

// list is the decoded, immutable form of one resource. It is replaced
// wholesale and never modified after construction.
type list struct {
	raw       json.RawMessage
	items     []keyed
	byKey     map[string]keyed
	fetchedAt time.Time
}

// ResourceStats describes one resource in the registry.
type ResourceStats struct {
	Count     int       `json:"count"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Registry is a read-mostly cache of catalog lists keyed by resource.
//
// Each resource is swapped as a whole value on Replace, so readers never
// see a half-updated list. All public methods are thread-safe.
type Registry struct {
	repo   Repository
	mu     sync.RWMutex
	lists  map[Resource]*list
	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry. repo may be nil, in which case
// nothing is persisted.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		lists:  make(map[Resource]*list),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache loads every persisted list from the repository. Lists that
// no longer decode are skipped with a warning.
func (r *Registry) RefreshCache(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	stored, err := r.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading catalog cache: %w", err)
	}

	loaded := 0
	for resource, raw := range stored {
		l, err := decodeList(resource, raw)
		if err != nil {
			r.logger.Warn("skipping cached catalog list", "resource", resource, "error", err)
			continue
		}
		r.mu.Lock()
		if _, exists := r.lists[resource]; !exists {
			r.lists[resource] = l
			loaded++
		}
		r.mu.Unlock()
	}

	r.logger.Info("catalog cache loaded", "resources", loaded)
	return nil
}

// Replace installs raw as the current list for resource and persists it.
//
// It returns the numeric ids present in the previous list but absent from
// the new one. Resources without a live-state kind return nil. On a decode
// error the previous list is kept.
func (r *Registry) Replace(ctx context.Context, resource Resource, raw json.RawMessage) ([]int, error) {
	l, err := decodeList(resource, raw)
	if err != nil {
		return nil, err
	}
	l.fetchedAt = r.now()

	r.mu.Lock()
	prev := r.lists[resource]
	r.lists[resource] = l
	r.mu.Unlock()

	var removed []int
	if _, ok := resource.Kind(); ok && prev != nil {
		for key := range prev.byKey {
			if _, still := l.byKey[key]; still {
				continue
			}
			if id, err := strconv.Atoi(key); err == nil {
				removed = append(removed, id)
			}
		}
		sort.Ints(removed)
	}

	if r.repo != nil {
		if err := r.repo.Save(ctx, resource, l.raw); err != nil {
			r.logger.Warn("persisting catalog list failed", "resource", resource, "error", err)
		}
	}

	r.logger.Debug("catalog list replaced", "resource", resource, "count", len(l.items), "removed", len(removed))
	return removed, nil
}

// List returns the raw JSON array last stored for resource, or an empty
// array if nothing has been fetched yet.
func (r *Registry) List(resource Resource) json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.lists[resource]; ok {
		return l.raw
	}
	return json.RawMessage("[]")
}

// Has reports whether a specialized record of kind with id is known.
func (r *Registry) Has(kind Kind, id int) bool {
	_, ok := r.lookup(kind.Resource(), strconv.Itoa(id))
	return ok
}

// Stats reports the size and fetch time of every loaded resource.
func (r *Registry) Stats() map[Resource]ResourceStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Resource]ResourceStats, len(r.lists))
	for resource, l := range r.lists {
		out[resource] = ResourceStats{Count: len(l.items), FetchedAt: l.fetchedAt}
	}
	return out
}

func (r *Registry) lookup(resource Resource, key string) (keyed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lists[resource]
	if !ok {
		return nil, false
	}
	item, ok := l.byKey[key]
	return item, ok
}

func get[T keyed](r *Registry, resource Resource, id int) (T, bool) {
	var zero T
	item, ok := r.lookup(resource, strconv.Itoa(id))
	if !ok {
		return zero, false
	}
	v, ok := item.(T)
	return v, ok
}

func all[T keyed](r *Registry, resource Resource) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lists[resource]
	if !ok {
		return nil
	}
	out := make([]T, 0, len(l.items))
	for _, item := range l.items {
		if v, ok := item.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Train returns the train with id.
func (r *Registry) Train(id int) (Train, bool) { return get[Train](r, ResourceTrains, id) }

// Points returns the points with id.
func (r *Registry) Points(id int) (Points, bool) { return get[Points](r, ResourcePoints, id) }

// PowerSwitch returns the power switch with id.
func (r *Registry) PowerSwitch(id int) (PowerSwitch, bool) {
	return get[PowerSwitch](r, ResourcePowerSwitches, id)
}

// Signal returns the signal with id.
func (r *Registry) Signal(id int) (Signal, bool) { return get[Signal](r, ResourceSignals, id) }

// BlockDetector returns the block detector with id.
func (r *Registry) BlockDetector(id int) (BlockDetector, bool) {
	return get[BlockDetector](r, ResourceBlockDetectors, id)
}

// Entity returns the entity with id.
func (r *Registry) Entity(id int) (Entity, bool) { return get[Entity](r, ResourceEntities, id) }

// Device returns the device with id.
func (r *Registry) Device(id int) (Device, bool) { return get[Device](r, ResourceDevices, id) }

// Controllers returns the controllers in backend order.
func (r *Registry) Controllers() []Controller { return all[Controller](r, ResourceControllers) }

// Turnouts returns the turnouts in backend order.
func (r *Registry) Turnouts() []Turnout { return all[Turnout](r, ResourceTurnouts) }

// Trains returns the trains in backend order.
func (r *Registry) Trains() []Train { return all[Train](r, ResourceTrains) }

// decodeList parses raw into the record type of resource.
func decodeList(resource Resource, raw json.RawMessage) (*list, error) {
	var (
		items []keyed
		err   error
	)
	switch resource {
	case ResourceControllers:
		items, err = decodeItems[Controller](raw)
	case ResourceTurnouts:
		items, err = decodeItems[Turnout](raw)
	case ResourceDevices:
		items, err = decodeItems[Device](raw)
	case ResourceEntities:
		items, err = decodeItems[Entity](raw)
	case ResourceBlockDetectors:
		items, err = decodeItems[BlockDetector](raw)
	case ResourcePoints:
		items, err = decodeItems[Points](raw)
	case ResourcePowerSwitches:
		items, err = decodeItems[PowerSwitch](raw)
	case ResourceSignals:
		items, err = decodeItems[Signal](raw)
	case ResourceSignalAutomations:
		items, err = decodeItems[SignalAutomation](raw)
	case ResourceTrains:
		items, err = decodeItems[Train](raw)
	case ResourceTrainControllers:
		items, err = decodeItems[TrainController](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, resource, err)
	}

	l := &list{
		raw:   append(json.RawMessage(nil), raw...),
		items: items,
		byKey: make(map[string]keyed, len(items)),
	}
	for _, item := range items {
		l.byKey[item.catalogKey()] = item
	}
	return l, nil
}

func decodeItems[T keyed](raw json.RawMessage) ([]keyed, error) {
	var typed []T
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, err
	}
	out := make([]keyed, len(typed))
	for i := range typed {
		out[i] = typed[i]
	}
	return out, nil
}
