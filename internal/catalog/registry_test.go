package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
)

// MockRepository is an in-memory Repository.
type MockRepository struct {
	mu      sync.Mutex
	lists   map[Resource]json.RawMessage
	saveErr error
	saves   int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{lists: make(map[Resource]json.RawMessage)}
}

func (m *MockRepository) Save(_ context.Context, resource Resource, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.lists[resource] = payload
	return nil
}

func (m *MockRepository) LoadAll(context.Context) (map[Resource]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Resource]json.RawMessage, len(m.lists))
	for k, v := range m.lists {
		out[k] = v
	}
	return out, nil
}

func TestRegistry_ReplaceReportsRemovedIDs(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMockRepository())

	removed, err := reg.Replace(ctx, ResourcePoints, json.RawMessage(`[
		{"id":1,"entity_id":10,"through_state":"OFF","diverge_state":"ON"},
		{"id":2,"entity_id":11,"through_state":"OFF","diverge_state":"ON"},
		{"id":3,"entity_id":12,"through_state":"OFF","diverge_state":"ON"}]`))
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("first Replace removed = %v, want none", removed)
	}

	removed, err = reg.Replace(ctx, ResourcePoints, json.RawMessage(`[
		{"id":2,"entity_id":11,"through_state":"OFF","diverge_state":"ON"}]`))
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if !reflect.DeepEqual(removed, []int{1, 3}) {
		t.Errorf("removed = %v, want [1 3]", removed)
	}
	if reg.Has(KindPoints, 1) {
		t.Error("points 1 still present after removal")
	}
	if !reg.Has(KindPoints, 2) {
		t.Error("points 2 missing")
	}
}

func TestRegistry_ReplaceNonKindResourceReportsNothing(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)

	if _, err := reg.Replace(ctx, ResourceControllers, json.RawMessage(`[{"id":"c1","name":"Yard"}]`)); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	removed, err := reg.Replace(ctx, ResourceControllers, json.RawMessage(`[]`))
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if removed != nil {
		t.Errorf("removed = %v, want nil", removed)
	}
	if got := reg.Controllers(); len(got) != 0 {
		t.Errorf("Controllers() = %v, want empty", got)
	}
}

func TestRegistry_InvalidPayloadKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)

	if _, err := reg.Replace(ctx, ResourceTrains, json.RawMessage(`[{"id":7,"entity_id":1,"max_speed":126}]`)); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	_, err := reg.Replace(ctx, ResourceTrains, json.RawMessage(`{"not":"a list"}`))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("Replace() error = %v, want ErrInvalidPayload", err)
	}

	train, ok := reg.Train(7)
	if !ok || train.MaxSpeed != 126 {
		t.Errorf("Train(7) = %+v, %v; want previous list kept", train, ok)
	}
}

func TestRegistry_ReturnedValuesAreSnapshots(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)
	if _, err := reg.Replace(ctx, ResourceTurnouts, json.RawMessage(`[{"id":"t1","controller_id":"c1","name":"Loop","state":"straight"}]`)); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	turnouts := reg.Turnouts()
	turnouts[0].State = "turn"

	if got := reg.Turnouts()[0].State; got != "straight" {
		t.Errorf("registry state mutated through returned slice: %q", got)
	}
}

func TestRegistry_PersistsAndWarmStarts(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()

	first := NewRegistry(repo)
	if _, err := first.Replace(ctx, ResourceSignals, json.RawMessage(`[{"id":4,"entity_id":9}]`)); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	second := NewRegistry(repo)
	if err := second.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	sig, ok := second.Signal(4)
	if !ok || sig.EntityID != 9 {
		t.Errorf("Signal(4) = %+v, %v after warm start", sig, ok)
	}
}

func TestRegistry_SaveFailureDoesNotFailReplace(t *testing.T) {
	repo := NewMockRepository()
	repo.saveErr = errors.New("disk full")
	reg := NewRegistry(repo)

	if _, err := reg.Replace(context.Background(), ResourceSignals, json.RawMessage(`[{"id":1,"entity_id":1}]`)); err != nil {
		t.Fatalf("Replace() error = %v, want nil", err)
	}
	if !reg.Has(KindSignal, 1) {
		t.Error("signal 1 missing")
	}
}

func TestRegistry_ListAndStats(t *testing.T) {
	reg := NewRegistry(nil)
	if got := string(reg.List(ResourceDevices)); got != "[]" {
		t.Errorf("List() before fetch = %s, want []", got)
	}

	raw := json.RawMessage(`[{"id":1,"external_id":"0x01","name":"Board","entities":[3,4]}]`)
	if _, err := reg.Replace(context.Background(), ResourceDevices, raw); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if got := string(reg.List(ResourceDevices)); got != string(raw) {
		t.Errorf("List() = %s", got)
	}
	stats := reg.Stats()
	if stats[ResourceDevices].Count != 1 || stats[ResourceDevices].FetchedAt.IsZero() {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestEntity_Kind(t *testing.T) {
	id := 5
	tests := []struct {
		name   string
		entity Entity
		want   Kind
		ok     bool
	}{
		{"points", Entity{Points: &id}, KindPoints, true},
		{"train", Entity{Train: &id}, KindTrain, true},
		{"unlinked", Entity{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, gotID, ok := tt.entity.Kind()
			if kind != tt.want || ok != tt.ok || (ok && gotID != id) {
				t.Errorf("Kind() = (%q, %d, %v)", kind, gotID, ok)
			}
		})
	}
}
