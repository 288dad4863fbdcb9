package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed matches every catalog fetch failure, including *FetchError.
	ErrFetchFailed = errors.New("catalog: fetch failed")

	// ErrUnknownResource is returned for resource names the backend does not serve.
	ErrUnknownResource = errors.New("catalog: unknown resource")

	// ErrInvalidPayload is returned when a resource list cannot be decoded.
	ErrInvalidPayload = errors.New("catalog: invalid payload")
)

// FetchError is returned when the backend answers with a non-success status.
// Cause carries the decoded JSON error body, or the raw body text when it
// is not JSON.
type FetchError struct {
	Resource Resource
	Status   int
	Cause    any
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("an error occurred (%d)", e.Status)
}

// Is makes errors.Is(err, ErrFetchFailed) true for a *FetchError.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}
