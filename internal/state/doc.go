// Package state holds the reconciled live state of every device kind.
//
// The Store publishes immutable Snapshots through an atomic pointer. Reads
// never lock and return the same *Snapshot until the next write, so a
// consumer can compare pointers to skip work when nothing changed. Writes
// are serialized and each one becomes visible as a single publication;
// a reader never sees a model from one message paired with the state of
// another.
//
// The channel reconciler is the only writer in a running process.
package state
