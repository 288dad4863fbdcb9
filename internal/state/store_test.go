package state

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"
)

func model(s string) json.RawMessage { return json.RawMessage(s) }

func TestStore_ReadIsReferentiallyStable(t *testing.T) {
	s := NewStore()
	first := s.Read()
	if s.Read() != first {
		t.Fatal("Read() returned a different snapshot without a write")
	}

	s.ApplyPartialUpdate(KindPoints, 1, model(`{"id":1}`), Through)
	second := s.Read()
	if second == first {
		t.Fatal("Read() returned the old snapshot after a write")
	}
	if s.Read() != second {
		t.Error("Read() not stable after write")
	}
	if second.Version() != first.Version()+1 {
		t.Errorf("Version() = %d, want %d", second.Version(), first.Version()+1)
	}
}

func TestStore_FullEntryOverwritesWithoutMerge(t *testing.T) {
	s := NewStore()
	speed := 40.0
	s.ApplyEntries([]Update{{Kind: KindTrain, ID: 3, Entry: Entry{
		Model:     model(`{"id":3,"max_speed":126}`),
		State:     On,
		Speed:     &speed,
		Direction: Reverse,
	}}})

	s.ApplyEntries([]Update{{Kind: KindTrain, ID: 3, Entry: Entry{
		Model: model(`{"id":3,"max_speed":100}`),
		State: Off,
	}}})

	got, ok := s.Read().Get(KindTrain, 3)
	if !ok {
		t.Fatal("train 3 missing")
	}
	want := Entry{Kind: KindTrain, Model: model(`{"id":3,"max_speed":100}`), State: Off}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entry = %+v, want %+v", got, want)
	}
}

func TestStore_PartialUpdatePreservesModelAndTrainFields(t *testing.T) {
	s := NewStore()
	speed := 12.0
	fns := map[string]DecoderFunction{"0": {Label: "Lights", State: Off}}
	s.ApplyEntries([]Update{{Kind: KindTrain, ID: 1, Entry: Entry{
		Model:     model(`{"id":1}`),
		State:     On,
		Speed:     &speed,
		Direction: Forward,
		Functions: fns,
	}}})

	newSpeed := 20.0
	s.ApplyEntries([]Update{{Kind: KindTrain, ID: 1, Entry: Entry{Speed: &newSpeed}}})

	got, _ := s.Read().Get(KindTrain, 1)
	if string(got.Model) != `{"id":1}` {
		t.Errorf("Model = %s, want preserved", got.Model)
	}
	if got.State != On || got.Direction != Forward || !reflect.DeepEqual(got.Functions, fns) {
		t.Errorf("entry = %+v, want untouched fields preserved", got)
	}
	if got.Speed == nil || *got.Speed != 20 {
		t.Errorf("Speed = %v, want 20", got.Speed)
	}
}

func TestStore_MissingStateIsStoredAsUnknown(t *testing.T) {
	s := NewStore()
	speed := 8.0

	s.ApplyEntries([]Update{
		{Kind: KindTrain, ID: 4, Entry: Entry{Speed: &speed}},
		{Kind: KindSignal, ID: 6, Entry: Entry{Model: model(`{"id":6}`)}},
	})
	s.ApplyFullSnapshot(map[Kind]map[int]Entry{
		KindPoints: {2: {Model: model(`{"id":2}`)}},
	})

	snap := s.Read()
	for _, k := range []Key{{KindTrain, 4}, {KindSignal, 6}, {KindPoints, 2}} {
		got, ok := snap.Get(k.Kind, k.ID)
		if !ok {
			t.Fatalf("%s missing", k)
		}
		if got.State != Unknown || !got.State.Valid(k.Kind) {
			t.Errorf("%s state = %q, want unknown", k, got.State)
		}
	}
	if train, _ := snap.Get(KindTrain, 4); train.Speed == nil || *train.Speed != 8 {
		t.Errorf("train 4 speed = %v, want 8", train.Speed)
	}

	// A later partial without a state keeps the stored one.
	s.ApplyPartialUpdate(KindSignal, 6, nil, Clear)
	s.ApplyEntries([]Update{{Kind: KindSignal, ID: 6, Entry: Entry{}}})
	if got, _ := s.Read().Get(KindSignal, 6); got.State != Clear {
		t.Errorf("signal 6 state = %q, want clear", got.State)
	}
}

func TestStore_SwitchingKeepsModel(t *testing.T) {
	s := NewStore()
	m := model(`{"id":1,"entity_id":5,"through_state":"OFF","diverge_state":"ON"}`)

	s.ApplyPartialUpdate(KindPoints, 1, m, Through)
	if got, _ := s.Read().Get(KindPoints, 1); got.State != Through {
		t.Fatalf("state = %q, want through", got.State)
	}

	s.ApplyPartialUpdate(KindPoints, 1, nil, Switching)
	got, _ := s.Read().Get(KindPoints, 1)
	if got.State != Switching {
		t.Errorf("state = %q, want switching", got.State)
	}
	if string(got.Model) != string(m) {
		t.Errorf("model = %s, want unchanged", got.Model)
	}
}

func TestStore_FullSnapshotLeavesAbsentKinds(t *testing.T) {
	s := NewStore()
	s.ApplyPartialUpdate(KindPoints, 1, model(`{"id":1}`), Through)
	s.ApplyPartialUpdate(KindPoints, 2, model(`{"id":2}`), Diverge)
	s.ApplyPartialUpdate(KindSignal, 9, model(`{"id":9}`), Danger)

	s.ApplyFullSnapshot(map[Kind]map[int]Entry{
		KindPoints: {2: {Model: model(`{"id":2}`), State: Through}},
	})

	snap := s.Read()
	if _, ok := snap.Get(KindPoints, 1); ok {
		t.Error("points 1 survived a snapshot that replaced the kind")
	}
	if got, _ := snap.Get(KindPoints, 2); got.State != Through || got.Kind != KindPoints {
		t.Errorf("points 2 = %+v", got)
	}
	if got, ok := snap.Get(KindSignal, 9); !ok || got.State != Danger {
		t.Errorf("signal 9 = %+v, %v; want untouched", got, ok)
	}
}

func TestStore_OldSnapshotsAreNotMutated(t *testing.T) {
	s := NewStore()
	s.ApplyPartialUpdate(KindPowerSwitch, 1, model(`{"id":1}`), Off)
	before := s.Read()

	s.ApplyPartialUpdate(KindPowerSwitch, 1, nil, On)
	s.Remove(KindPowerSwitch, []int{1})

	if got, _ := before.Get(KindPowerSwitch, 1); got.State != Off {
		t.Errorf("earlier snapshot changed: %+v", got)
	}
	if s.Read().Len(KindPowerSwitch) != 0 {
		t.Error("power switch 1 not removed")
	}
}

func TestStore_ReplayDeterminism(t *testing.T) {
	sequence := func(s *Store) {
		s.ApplyPartialUpdate(KindPoints, 1, model(`{"id":1}`), Through)
		s.ApplyFullSnapshot(map[Kind]map[int]Entry{
			KindSignal: {4: {Model: model(`{"id":4}`), State: Clear}},
		})
		s.ApplyPartialUpdate(KindPoints, 1, nil, Switching)
		s.ApplyEntries([]Update{
			{Kind: KindPoints, ID: 2, Entry: Entry{Model: model(`{"id":2}`), State: Diverge}},
			{Kind: KindSignal, ID: 4, Entry: Entry{State: Danger}},
		})
		s.Remove(KindPoints, []int{2})
	}

	a, b := NewStore(), NewStore()
	sequence(a)
	sequence(b)

	if !reflect.DeepEqual(a.Read().Keyed(), b.Read().Keyed()) {
		t.Errorf("replays diverged:\n%v\n%v", a.Read().Keyed(), b.Read().Keyed())
	}
	if a.Read().Version() != b.Read().Version() {
		t.Errorf("versions diverged: %d vs %d", a.Read().Version(), b.Read().Version())
	}
}

func TestStore_ConcurrentReadersSeeWholeWrites(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := s.Read()
			a, okA := snap.Get(KindPoints, 1)
			b, okB := snap.Get(KindPoints, 2)
			if okA != okB || (okA && a.State != b.State) {
				t.Errorf("torn snapshot at version %d: %+v / %+v", snap.Version(), a, b)
				return
			}
		}
	}()

	for i := 0; i < 500; i++ {
		v := Through
		if i%2 == 1 {
			v = Diverge
		}
		s.ApplyEntries([]Update{
			{Kind: KindPoints, ID: 1, Entry: Entry{Model: model(`{"id":1}`), State: v}},
			{Kind: KindPoints, ID: 2, Entry: Entry{Model: model(`{"id":2}`), State: v}},
		})
	}
	close(stop)
	wg.Wait()
}

func TestStore_SubscribeDeliversChanges(t *testing.T) {
	s := NewStore()
	sub := s.Subscribe(4)
	defer s.Unsubscribe(sub)

	s.ApplyPartialUpdate(KindSignal, 2, model(`{"id":2}`), Off)

	change := <-sub.C
	if change.Full {
		t.Error("single entry update marked Full")
	}
	if !reflect.DeepEqual(change.Keys, []Key{{Kind: KindSignal, ID: 2}}) {
		t.Errorf("Keys = %v", change.Keys)
	}
	if change.Snapshot != s.Read() {
		t.Error("change does not carry the published snapshot")
	}
}

func TestStore_SlowSubscriberGetsLatestAsResync(t *testing.T) {
	s := NewStore()
	sub := s.Subscribe(1)
	defer s.Unsubscribe(sub)

	for i := 1; i <= 5; i++ {
		s.ApplyPartialUpdate(KindBlockDetector, i, model(`{}`), On)
	}

	change := <-sub.C
	if change.Snapshot != s.Read() {
		t.Errorf("got version %d, want latest %d", change.Snapshot.Version(), s.Read().Version())
	}
	if !change.Full {
		t.Error("dropped notifications must be reported as Full")
	}
}

func TestStore_UnsubscribeClosesChannel(t *testing.T) {
	s := NewStore()
	sub := s.Subscribe(1)
	s.Unsubscribe(sub)
	s.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Error("channel still open after Unsubscribe")
	}
	s.ApplyPartialUpdate(KindSignal, 1, model(`{}`), Off)
}
