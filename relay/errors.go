package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport covers network failures and non-JSON or 5xx relay responses.
	ErrTransport = errors.New("relay: transport failure")
	// ErrMissingParams means the bundle lacked a field the relay requires.
	ErrMissingParams = errors.New("relay: missing parameters")
	// ErrRelayRejected means the relay answered with an error for the bundle.
	ErrRelayRejected = errors.New("relay: bundle rejected")
)

// RelayError describes a failed dispatch to a single relay.
type RelayError struct {
	Relay   string
	Kind    error
	Code    int
	Message string
	Err     error
}

func (e *RelayError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Relay, e.Kind)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RelayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
