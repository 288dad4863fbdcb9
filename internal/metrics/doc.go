// Package metrics exposes signalbox counters and gauges in Prometheus format.
//
// A Collector satisfies the observer interfaces of the channel, command and
// poll packages, so wiring is a matter of passing it to their SetObserver
// hooks. Store sizes are read lazily at scrape time.
package metrics
