// Package api implements the local HTTP API and WebSocket relay for signalbox.
//
// This package provides:
//   - REST endpoints for reading live state and the cached catalog
//   - Command endpoints that validate and forward commands to the backend
//   - A WebSocket hub that relays state changes to local UIs
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server only reads from the state store and catalog registry. Commands
// go through the command dispatcher onto the backend channel; their effects
// come back as ordinary state messages and reach relay clients through the
// store's change notifications.
//
// # Graceful Degradation
//
// Reads and the relay keep working while the backend channel is down.
// Commands fail with 503 until it reconnects.
package api
