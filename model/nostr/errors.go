package nostr

import (
	"errors"
	"fmt"
)

// ProtocolError is returned when an inbound frame cannot be decoded. The frame is discarded,
// the connection it arrived on stays up.
type ProtocolError struct {
	Reason string
	Err    error
}

func NewProtocolErrorf(msg string, args ...interface{}) ProtocolError {
	return ProtocolError{Reason: fmt.Sprintf(msg, args...)}
}

func (e ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func (e ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError returns whether the given error is a ProtocolError.
func IsProtocolError(err error) bool {
	var protocolErr ProtocolError
	return errors.As(err, &protocolErr)
}

// ValidationError is returned for events that decode but are structurally invalid. Such events
// are discarded: never cached, never forwarded.
type ValidationError struct {
	EventID string
	Reason  string
}

func NewValidationErrorf(eventID string, msg string, args ...interface{}) ValidationError {
	return ValidationError{EventID: eventID, Reason: fmt.Sprintf(msg, args...)}
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid event %q: %s", e.EventID, e.Reason)
}

// IsValidationError returns whether the given error is a ValidationError.
func IsValidationError(err error) bool {
	var validationErr ValidationError
	return errors.As(err, &validationErr)
}
