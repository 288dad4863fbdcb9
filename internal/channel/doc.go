// Package channel implements the live message channel to the backend.
//
// Messages are a JSON union discriminated by "type". Inbound "state"
// messages are decoded by the Reconciler and written to the state store;
// outbound commands are built by the command dispatcher and written by a
// Session over a Transport (a WebSocket to the backend, or an MQTT bridge).
//
// Ordering: a Session hands frames to the Reconciler in arrival order and
// the Reconciler applies them one at a time from a single goroutine.
package channel
