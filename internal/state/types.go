package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/trackside/signalbox/internal/catalog"
)

// Kind is a device kind carrying live state.
type Kind = catalog.Kind

// Device kinds.
const (
	KindPoints        = catalog.KindPoints
	KindPowerSwitch   = catalog.KindPowerSwitch
	KindBlockDetector = catalog.KindBlockDetector
	KindSignal        = catalog.KindSignal
	KindTrain         = catalog.KindTrain
)

// Value is a per-kind state enum value.
type Value string

// Shared values.
const (
	Unknown   Value = "unknown"
	Switching Value = "switching"
	On        Value = "on"
	Off       Value = "off"
)

// Points positions.
const (
	Through Value = "through"
	Diverge Value = "diverge"
)

// Signal aspects.
const (
	Danger Value = "danger"
	Clear  Value = "clear"
)

var validValues = map[Kind][]Value{
	KindBlockDetector: {Off, On, Unknown},
	KindPoints:        {Through, Diverge, Unknown, Switching},
	KindPowerSwitch:   {On, Off, Unknown, Switching},
	KindSignal:        {Off, Danger, Clear, Unknown},
	KindTrain:         {On, Off, Unknown},
}

// Valid reports whether v is a state value of kind.
func (v Value) Valid(kind Kind) bool {
	for _, allowed := range validValues[kind] {
		if v == allowed {
			return true
		}
	}
	return false
}

// Direction is a train's direction of travel.
type Direction string

// Directions.
const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// DecoderFunction is one labelled function of a train decoder.
type DecoderFunction struct {
	Label string `json:"label"`
	State Value  `json:"state"`
}

// Entry is the live state of one device: the catalog model the backend
// attached plus the current value. Train entries also carry speed,
// direction and decoder functions.
//
// Entries are values. Model and Functions must not be modified after the
// entry has been handed to a Store.
type Entry struct {
	Kind  Kind            `json:"type"`
	Model json.RawMessage `json:"model,omitempty"`
	State Value           `json:"state"`

	Speed     *float64                   `json:"speed,omitempty"`
	Direction Direction                  `json:"direction,omitempty"`
	Functions map[string]DecoderFunction `json:"functions,omitempty"`
}

// Partial reports whether the entry omits its model. A partial entry is
// merged into the existing one instead of replacing it.
func (e Entry) Partial() bool {
	return len(e.Model) == 0
}

// ModelID returns the "id" field of the model, if present.
func (e Entry) ModelID() (int, bool) {
	if len(e.Model) == 0 {
		return 0, false
	}
	var m struct {
		ID *int `json:"id"`
	}
	if err := json.Unmarshal(e.Model, &m); err != nil || m.ID == nil {
		return 0, false
	}
	return *m.ID, true
}

// Key identifies one entry in the store.
type Key struct {
	Kind Kind
	ID   int
}

// String formats the key as "<kind>-<id>", e.g. "points-1".
func (k Key) String() string {
	return FormatKey(k.Kind, k.ID)
}

// FormatKey builds the composite channel key for kind and id.
func FormatKey(kind Kind, id int) string {
	return string(kind) + "-" + strconv.Itoa(id)
}

// ParseKey splits a composite key such as "power_switch-12" back into its
// kind and id. Kind names may contain underscores but not hyphens, so the
// split is on the last hyphen. The id must be unsigned decimal digits.
func ParseKey(s string) (Key, error) {
	idx := strings.LastIndex(s, "-")
	if idx <= 0 || idx == len(s)-1 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	kind, ok := catalog.ParseKind(s[:idx])
	if !ok {
		return Key{}, fmt.Errorf("%w: unknown kind in %q", ErrInvalidKey, s)
	}
	digits := s[idx+1:]
	if digits[0] < '0' || digits[0] > '9' {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	id, err := strconv.Atoi(digits)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return Key{Kind: kind, ID: id}, nil
}
