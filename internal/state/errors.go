package state

import "errors"

// ErrInvalidKey is returned when a composite key cannot be parsed.
var ErrInvalidKey = errors.New("state: invalid key")
