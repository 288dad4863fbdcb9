package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the message discriminant.
type Type string

// Message types.
const (
	TypeState                 Type = "state"
	TypeSetPoints             Type = "set-points"
	TypeSetPowerSwitch        Type = "set-power_switch"
	TypeSetReverser           Type = "set-reverser"
	TypeSetSpeed              Type = "set-speed"
	TypeToggleDecoderFunction Type = "toggle-decoder-function"
	TypeRefresh               Type = "refresh"
)

var (
	// ErrUnknownType is returned by Decode for unrecognised discriminants.
	ErrUnknownType = errors.New("channel: unknown message type")

	// ErrMalformed is returned when a frame or payload is not valid JSON
	// of the expected shape.
	ErrMalformed = errors.New("channel: malformed message")
)

// Message is the wire envelope.
type Message struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Variant is one decoded member of the message union.
type Variant interface {
	MessageType() Type
}

// StateEntry is one value of a "state" payload as sent by the backend.
// State stays raw so per-kind normalization can see the original form.
type StateEntry struct {
	Type      string          `json:"type"`
	Model     json.RawMessage `json:"model,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	Speed     *float64        `json:"speed,omitempty"`
	Direction string          `json:"direction,omitempty"`
	Functions json.RawMessage `json:"functions,omitempty"`
}

// State carries device state keyed by an opaque backend key.
type State struct {
	Entries map[string]StateEntry
}

// SetPoints moves points to "through" or "diverge".
type SetPoints struct {
	ID    int    `json:"id"`
	State string `json:"state"`
}

// SetPowerSwitch turns a power switch "on" or "off".
type SetPowerSwitch struct {
	ID    int    `json:"id"`
	State string `json:"state"`
}

// SetReverser sets a train's direction to "forward" or "reverse".
type SetReverser struct {
	ID    int    `json:"id"`
	State string `json:"state"`
}

// SetSpeed sets a train's speed.
type SetSpeed struct {
	ID    int     `json:"id"`
	State float64 `json:"state"`
}

// ToggleDecoderFunction flips a named decoder function.
type ToggleDecoderFunction struct {
	ID    int    `json:"id"`
	State string `json:"state"`
}

// Refresh asks the backend to resend the full state.
type Refresh struct{}

func (State) MessageType() Type                 { return TypeState }
func (SetPoints) MessageType() Type             { return TypeSetPoints }
func (SetPowerSwitch) MessageType() Type        { return TypeSetPowerSwitch }
func (SetReverser) MessageType() Type           { return TypeSetReverser }
func (SetSpeed) MessageType() Type              { return TypeSetSpeed }
func (ToggleDecoderFunction) MessageType() Type { return TypeToggleDecoderFunction }
func (Refresh) MessageType() Type               { return TypeRefresh }

// Decode parses a raw frame into its Variant. Unknown discriminants return
// ErrUnknownType so callers can log and move on.
func Decode(raw []byte) (Variant, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch msg.Type {
	case TypeState:
		var entries map[string]StateEntry
		if err := unmarshalPayload(msg, &entries); err != nil {
			return nil, err
		}
		return State{Entries: entries}, nil
	case TypeSetPoints:
		return decodeAs[SetPoints](msg)
	case TypeSetPowerSwitch:
		return decodeAs[SetPowerSwitch](msg)
	case TypeSetReverser:
		return decodeAs[SetReverser](msg)
	case TypeSetSpeed:
		return decodeAs[SetSpeed](msg)
	case TypeToggleDecoderFunction:
		return decodeAs[ToggleDecoderFunction](msg)
	case TypeRefresh:
		return Refresh{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// Encode wraps a Variant in its envelope.
func Encode(v Variant) (Message, error) {
	switch p := v.(type) {
	case Refresh:
		return Message{Type: TypeRefresh}, nil
	case State:
		payload, err := json.Marshal(p.Entries)
		if err != nil {
			return Message{}, fmt.Errorf("encoding %s: %w", TypeState, err)
		}
		return Message{Type: TypeState, Payload: payload}, nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return Message{}, fmt.Errorf("encoding %s: %w", v.MessageType(), err)
		}
		return Message{Type: v.MessageType(), Payload: payload}, nil
	}
}

func decodeAs[T Variant](msg Message) (Variant, error) {
	var v T
	if err := unmarshalPayload(msg, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func unmarshalPayload(msg Message, into any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrMalformed, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, into); err != nil {
		return fmt.Errorf("%w: %s payload: %w", ErrMalformed, msg.Type, err)
	}
	return nil
}
