package channel

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trackside/signalbox/internal/catalog"
	"github.com/trackside/signalbox/internal/state"
)

// toEntry converts one "state" payload entry into a store key and entry.
//
// The kind comes from the entry's own "type". The id comes from model.id,
// falling back to a "<kind>-<id>" payload key.
func toEntry(key string, raw StateEntry) (state.Key, state.Entry, error) {
	kind, ok := catalog.ParseKind(raw.Type)
	if !ok {
		return state.Key{}, state.Entry{}, fmt.Errorf("%w: entry %q has kind %q", ErrMalformed, key, raw.Type)
	}

	entry := state.Entry{
		Kind:  kind,
		Model: raw.Model,
		Speed: raw.Speed,
	}

	id, ok := entry.ModelID()
	if !ok {
		k, err := state.ParseKey(key)
		if err != nil || k.Kind != kind {
			return state.Key{}, state.Entry{}, fmt.Errorf("%w: entry %q has no model id", ErrMalformed, key)
		}
		id = k.ID
	}

	if len(raw.State) > 0 {
		entry.State = normalizeValue(kind, raw.State, raw.Model)
	}

	if kind == catalog.KindTrain {
		switch state.Direction(strings.ToLower(raw.Direction)) {
		case state.Forward:
			entry.Direction = state.Forward
		case state.Reverse:
			entry.Direction = state.Reverse
		}
		if len(raw.Functions) > 0 {
			fns, err := decodeFunctions(raw.Functions)
			if err != nil {
				return state.Key{}, state.Entry{}, fmt.Errorf("%w: entry %q functions: %w", ErrMalformed, key, err)
			}
			entry.Functions = fns
		}
	}

	return state.Key{Kind: kind, ID: id}, entry, nil
}

// normalizeValue maps the backend's state value onto the kind's enum.
// Already-normalized values pass through. Anything unrecognised is unknown.
func normalizeValue(kind catalog.Kind, raw json.RawMessage, model json.RawMessage) state.Value {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return state.Unknown
	}

	if kind == catalog.KindPoints {
		var m struct {
			ThroughState string `json:"through_state"`
			DivergeState string `json:"diverge_state"`
		}
		if json.Unmarshal(model, &m) == nil {
			switch {
			case m.ThroughState != "" && s == m.ThroughState:
				return state.Through
			case m.DivergeState != "" && s == m.DivergeState:
				return state.Diverge
			}
		}
	}

	v := state.Value(strings.ToLower(s))
	if v.Valid(kind) {
		return v
	}
	return state.Unknown
}

// decodeFunctions accepts {"0": {"label": "Lights", "state": "on"}} and the
// short form {"0": "on"}.
func decodeFunctions(raw json.RawMessage) (map[string]state.DecoderFunction, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	out := make(map[string]state.DecoderFunction, len(generic))
	for name, v := range generic {
		var fn state.DecoderFunction
		if err := json.Unmarshal(v, &fn); err != nil {
			var short string
			if err := json.Unmarshal(v, &short); err != nil {
				return nil, fmt.Errorf("function %q: %w", name, err)
			}
			fn.State = state.Value(short)
		}
		fn.State = state.Value(strings.ToLower(string(fn.State)))
		if fn.State != state.On {
			fn.State = state.Off
		}
		out[name] = fn
	}
	return out, nil
}
