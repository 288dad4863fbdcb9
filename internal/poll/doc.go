// Package poll refreshes catalog resources on a fixed interval.
//
// A Scheduler fetches once when started and then again every interval.
// A failed fetch is returned to whoever triggered it but never stops the
// schedule. Restarting a running scheduler cancels its pending timer
// first, so each scheduler has at most one timer pending. Stop cancels the
// pending timer; a fetch already in flight completes but schedules nothing.
package poll
