package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Concrete errors wrap one of these; test with errors.Is.
var (
	// ErrNetwork is a transport or connection failure.
	ErrNetwork = errors.New("network error")

	// ErrAuth is a non-success status from an authenticated call.
	ErrAuth = errors.New("auth error")

	// ErrParse is a malformed response or cache body.
	ErrParse = errors.New("parse error")

	// ErrStorage is a filesystem failure reading or writing the cache.
	ErrStorage = errors.New("storage error")
)

// StatusError is returned when the authority answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: authority returned status %d", e.Op, e.StatusCode)
}

// Is makes a StatusError match ErrAuth.
func (e *StatusError) Is(target error) bool {
	return target == ErrAuth
}
