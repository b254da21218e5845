package cgminer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed API call
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindDNS        ErrorKind = "dns"
	KindParse      ErrorKind = "parse"
	KindUnknown    ErrorKind = "unknown"
)

// ErrInvalidInput marks host/port/command validation failures. These are
// never retried and never reach the network.
var ErrInvalidInput = errors.New("invalid input")

// ErrControlDisabled is returned when a control command is issued on a
// client constructed without AllowControl.
var ErrControlDisabled = fmt.Errorf("%w: control commands disabled", ErrInvalidInput)

// Error is a failed miner API call tagged with its kind
type Error struct {
	Kind ErrorKind
	Host string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cgminer %s error (%s): %s: %v", e.Kind, e.Host, e.Msg, e.Err)
	}
	return fmt.Sprintf("cgminer %s error (%s): %s", e.Kind, e.Host, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error kind is worth retrying.
// Only transport-level failures are; parse failures are final.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindConnection
}

// KindOf extracts the ErrorKind from an error chain, or KindUnknown
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}
