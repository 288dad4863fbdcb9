// Package catalog holds the slow-changing configuration of the railway:
// devices, entities, the specialized records behind them (points, power
// switches, signals, block detectors, trains) and the controller-side
// catalog (controllers, turnouts, signal automations, train controllers).
//
// The backend serves each resource as a JSON array at GET /api/<resource>/.
// Client fetches them, Registry keeps the latest list of each as an
// immutable value snapshot, and Repository persists that list so a restart
// has a populated registry before the first fetch completes.
//
// Catalog data is never changed by the live channel. The only writer is
// Registry.Replace, called when a fetch completes. Replace reports the ids
// that disappeared from a resource; that is the deletion signal for live
// state.
package catalog
