package command

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/trackside/signalbox/internal/catalog"
	"github.com/trackside/signalbox/internal/channel"
	"github.com/trackside/signalbox/internal/state"
)

// Sender writes one message to the live channel.
type Sender interface {
	Send(ctx context.Context, msg channel.Message) error
}

// TrainLookup finds a train's catalog record.
type TrainLookup interface {
	Train(id int) (catalog.Train, bool)
}

// StateReader exposes the current state snapshot.
type StateReader interface {
	Read() *state.Snapshot
}

// Observer receives one call per dispatched command.
type Observer interface {
	ObserveCommand(msgType, outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveCommand(string, string) {}

// Command outcomes reported to the Observer.
const (
	OutcomeSent     = "sent"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Dispatcher validates operator intents and sends them.
//
// Thread Safety: safe for concurrent use if the Sender is.
type Dispatcher struct {
	sender   Sender
	trains   TrainLookup
	state    StateReader
	observer Observer
}

// NewDispatcher creates a dispatcher. trains and states are used to find a
// train's max speed; either may be nil.
func NewDispatcher(sender Sender, trains TrainLookup, states StateReader) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		trains:   trains,
		state:    states,
		observer: noopObserver{},
	}
}

// SetObserver sets the per-command observer.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// SetPoints moves points to "through" or "diverge".
func (d *Dispatcher) SetPoints(ctx context.Context, id int, target string) error {
	if err := checkEnum("set-points", target, "through", "diverge"); err != nil {
		return d.reject(channel.TypeSetPoints, err)
	}
	return d.send(ctx, channel.SetPoints{ID: id, State: target})
}

// SetPowerSwitch turns a power switch "on" or "off".
func (d *Dispatcher) SetPowerSwitch(ctx context.Context, id int, target string) error {
	if err := checkEnum("set-power_switch", target, "on", "off"); err != nil {
		return d.reject(channel.TypeSetPowerSwitch, err)
	}
	return d.send(ctx, channel.SetPowerSwitch{ID: id, State: target})
}

// SetReverser sets a train's direction to "forward" or "reverse".
func (d *Dispatcher) SetReverser(ctx context.Context, id int, target string) error {
	if err := checkEnum("set-reverser", target, "forward", "reverse"); err != nil {
		return d.reject(channel.TypeSetReverser, err)
	}
	return d.send(ctx, channel.SetReverser{ID: id, State: target})
}

// SetSpeed sets a train's speed. value must lie in [0, max_speed].
func (d *Dispatcher) SetSpeed(ctx context.Context, id int, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return d.reject(channel.TypeSetSpeed, invalid("set-speed", "state", "speed must be a finite number"))
	}
	maxSpeed, ok := d.maxSpeed(id)
	if !ok {
		return d.reject(channel.TypeSetSpeed, invalid("set-speed", "id", "unknown train %d", id))
	}
	if value < 0 || value > maxSpeed {
		return d.reject(channel.TypeSetSpeed, invalid("set-speed", "state", "speed %g outside [0, %g]", value, maxSpeed))
	}
	return d.send(ctx, channel.SetSpeed{ID: id, State: value})
}

// ToggleDecoderFunction flips the named function of a train decoder.
func (d *Dispatcher) ToggleDecoderFunction(ctx context.Context, id int, name string) error {
	if strings.TrimSpace(name) == "" {
		return d.reject(channel.TypeToggleDecoderFunction, invalid("toggle-decoder-function", "state", "function name is required"))
	}
	return d.send(ctx, channel.ToggleDecoderFunction{ID: id, State: name})
}

// Refresh asks the backend to resend the full state.
func (d *Dispatcher) Refresh(ctx context.Context) error {
	return d.send(ctx, channel.Refresh{})
}

// maxSpeed prefers the catalog record and falls back to the model the
// backend attached to the train's live state.
func (d *Dispatcher) maxSpeed(id int) (float64, bool) {
	if d.trains != nil {
		if t, ok := d.trains.Train(id); ok {
			return t.MaxSpeed, true
		}
	}
	if d.state != nil {
		if e, ok := d.state.Read().Get(state.KindTrain, id); ok && len(e.Model) > 0 {
			var t catalog.Train
			if err := json.Unmarshal(e.Model, &t); err == nil {
				return t.MaxSpeed, true
			}
		}
	}
	return 0, false
}

func (d *Dispatcher) send(ctx context.Context, v channel.Variant) error {
	msg, err := channel.Encode(v)
	if err != nil {
		d.observer.ObserveCommand(string(v.MessageType()), OutcomeFailed)
		return err
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		d.observer.ObserveCommand(string(msg.Type), OutcomeFailed)
		return err
	}
	d.observer.ObserveCommand(string(msg.Type), OutcomeSent)
	return nil
}

func (d *Dispatcher) reject(t channel.Type, err error) error {
	d.observer.ObserveCommand(string(t), OutcomeRejected)
	return err
}

func checkEnum(command, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return invalid(command, "state", "%q is not one of %s", value, strings.Join(allowed, ", "))
}
