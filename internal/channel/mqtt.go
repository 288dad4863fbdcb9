package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/trackside/signalbox/internal/infrastructure/mqtt"
)

// Broker is the part of *mqtt.Client the MQTT transport uses.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTTransport carries the channel over a broker: state frames arrive on
// inbound and commands are published to outbound.
type MQTTTransport struct {
	broker   Broker
	inbound  string
	outbound string
	qos      byte

	mu     sync.Mutex
	frames chan []byte
	done   chan struct{}
}

// NewMQTTTransport creates a transport over broker.
func NewMQTTTransport(broker Broker, inbound, outbound string, qos byte) *MQTTTransport {
	return &MQTTTransport{
		broker:   broker,
		inbound:  inbound,
		outbound: outbound,
		qos:      qos,
	}
}

// Connect subscribes to the inbound topic.
func (t *MQTTTransport) Connect(_ context.Context) error {
	frames := make(chan []byte, inboxSize)
	done := make(chan struct{})

	handler := func(_ string, payload []byte) error {
		frame := append([]byte(nil), payload...)
		select {
		case frames <- frame:
			return nil
		case <-done:
			return ErrClosed
		}
	}
	if err := t.broker.Subscribe(t.inbound, t.qos, handler); err != nil {
		return fmt.Errorf("subscribing to %s: %w", t.inbound, err)
	}

	t.mu.Lock()
	t.frames, t.done = frames, done
	t.mu.Unlock()
	return nil
}

// Receive returns the next inbound payload.
func (t *MQTTTransport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	frames, done := t.frames, t.done
	t.mu.Unlock()
	if frames == nil {
		return nil, ErrClosed
	}

	select {
	case frame := <-frames:
		return frame, nil
	case <-done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send publishes msg as JSON to the outbound topic.
func (t *MQTTTransport) Send(_ context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Type, err)
	}
	return t.broker.Publish(t.outbound, payload, t.qos, false)
}

// Close unsubscribes and releases pending Receive calls.
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	done := t.done
	t.frames, t.done = nil, nil
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	close(done)
	return t.broker.Unsubscribe(t.inbound)
}
