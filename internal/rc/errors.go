package rc

import (
	"errors"
	"fmt"
)

// ErrorKind distinguishes the ways an rc call can fail, so callers never
// have to inspect error strings.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindDecode    ErrorKind = "decode"
)

// CallError reports a failed rc call.
type CallError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *CallError) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Message != "" {
			return fmt.Sprintf("rc %s: status %d: %s", e.Op, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("rc %s: status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("rc %s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call failed on a deadline.
func (e *CallError) Timeout() bool {
	return e.Kind == KindTimeout
}

// KindOf extracts the error kind from any error returned by the client.
func KindOf(err error) (ErrorKind, bool) {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind, true
	}
	return "", false
}
