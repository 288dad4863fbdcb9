package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trackside/signalbox/internal/catalog"
	"github.com/trackside/signalbox/internal/state"
)

const namespace = "signalbox"

// SnapshotReader is the read side of the state store.
type SnapshotReader interface {
	Read() *state.Snapshot
}

// Collector records channel, command and catalog activity.
//
// All methods are safe on a nil receiver so callers can leave metrics
// disabled without guarding each call.
type Collector struct {
	Messages         *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	CatalogFetches   *prometheus.CounterVec
	ChannelConnected prometheus.Gauge
	RelayClients     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the signalbox metrics on reg. A nil reg uses the default
// Prometheus registerer. When store is non-nil, per-kind entry counts are
// exported as signalbox_state_entries.
func New(reg prometheus.Registerer, store SnapshotReader) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	messages, err := registerCounterVec(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_total",
			Help:      "Inbound channel frames by message type and outcome.",
		},
		[]string{"type", "outcome"},
	), "channel_messages_total")
	if err != nil {
		return nil, err
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Outbound commands by message type and outcome.",
		},
		[]string{"type", "outcome"},
	), "commands_total")
	if err != nil {
		return nil, err
	}

	fetches, err := registerCounterVec(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_fetches_total",
			Help:      "Catalog fetches by resource and outcome.",
		},
		[]string{"resource", "outcome"},
	), "catalog_fetches_total")
	if err != nil {
		return nil, err
	}

	connected, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channel_connected",
		Help:      "1 while the backend state channel is connected.",
	}), "channel_connected")
	if err != nil {
		return nil, err
	}

	relay, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_clients",
		Help:      "WebSocket clients subscribed to state changes.",
	}), "relay_clients")
	if err != nil {
		return nil, err
	}

	if store != nil {
		if err := reg.Register(newEntriesCollector(store)); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return &Collector{
		Messages:         messages,
		Commands:         commands,
		CatalogFetches:   fetches,
		ChannelConnected: connected,
		RelayClients:     relay,
		gatherer:         gatherer,
	}, nil
}

// Handler serves the gathered metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveMessage counts one processed inbound frame.
func (c *Collector) ObserveMessage(msgType, outcome string) {
	if c == nil || c.Messages == nil {
		return
	}
	c.Messages.WithLabelValues(labelOrUnknown(msgType), outcome).Inc()
}

// ObserveCommand counts one dispatched command.
func (c *Collector) ObserveCommand(msgType, outcome string) {
	if c == nil || c.Commands == nil {
		return
	}
	c.Commands.WithLabelValues(labelOrUnknown(msgType), outcome).Inc()
}

// ObserveFetch counts one catalog fetch.
func (c *Collector) ObserveFetch(resource, outcome string) {
	if c == nil || c.CatalogFetches == nil {
		return
	}
	c.CatalogFetches.WithLabelValues(labelOrUnknown(resource), outcome).Inc()
}

// SetChannelConnected records the channel connection state.
func (c *Collector) SetChannelConnected(connected bool) {
	if c == nil || c.ChannelConnected == nil {
		return
	}
	if connected {
		c.ChannelConnected.Set(1)
		return
	}
	c.ChannelConnected.Set(0)
}

// SetRelayClients records the number of relay subscribers.
func (c *Collector) SetRelayClients(n int) {
	if c == nil || c.RelayClients == nil {
		return
	}
	c.RelayClients.Set(float64(n))
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// entriesCollector reports store sizes at scrape time.
type entriesCollector struct {
	store SnapshotReader
	desc  *prometheus.Desc
}

func newEntriesCollector(store SnapshotReader) *entriesCollector {
	return &entriesCollector{
		store: store,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "state", "entries"),
			"Entries held in the live state store by kind.",
			[]string{"kind"}, nil,
		),
	}
}

func (e *entriesCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.desc
}

func (e *entriesCollector) Collect(ch chan<- prometheus.Metric) {
	snap := e.store.Read()
	for _, kind := range catalog.Kinds {
		ch <- prometheus.MustNewConstMetric(e.desc, prometheus.GaugeValue, float64(snap.Len(kind)), string(kind))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("metrics: %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("metrics: %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
