// Package command turns operator intents into outbound channel messages.
//
// Every Dispatcher operation builds exactly one message, validates it and
// hands it to a Sender. Invalid input returns a *ValidationError and
// nothing is sent. The dispatcher never writes to the state store: points
// and power switches only show "switching" once the backend reports it.
package command
