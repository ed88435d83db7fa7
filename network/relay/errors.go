package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when sending to a relay that is not connected.
	ErrNotConnected = errors.New("relay is not connected")
	// ErrConnectAborted is returned by a connection attempt that was cancelled by a disconnect.
	ErrConnectAborted = errors.New("connection attempt aborted")
	// ErrUnknownRelay is returned for relays the supervisor does not manage.
	ErrUnknownRelay = errors.New("unknown relay")
	// ErrNotStarted is returned when connecting before the supervisor was started.
	ErrNotStarted = errors.New("supervisor not started")
)

// TransportError is a failure to connect to or write to a relay. Transport errors are never
// fatal: the relay is retried with backoff.
type TransportError struct {
	Relay string
	Op    string
	Err   error
}

func NewTransportError(relay string, op string, err error) TransportError {
	return TransportError{Relay: relay, Op: op, Err: err}
}

func (e TransportError) Error() string {
	return fmt.Sprintf("could not %s %s: %v", e.Op, e.Relay, e.Err)
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError returns whether err is a TransportError
func IsTransportError(err error) bool {
	var errTransport TransportError
	return errors.As(err, &errTransport)
}

// InvalidConfigError is returned when the supervisor is created with an unusable configuration.
type InvalidConfigError struct {
	msg string
}

func NewInvalidConfigErrorf(msg string, args ...interface{}) InvalidConfigError {
	return InvalidConfigError{msg: fmt.Sprintf(msg, args...)}
}

func (e InvalidConfigError) Error() string {
	return "invalid relay config: " + e.msg
}

// IsInvalidConfigError returns whether err is an InvalidConfigError
func IsInvalidConfigError(err error) bool {
	var errInvalid InvalidConfigError
	return errors.As(err, &errInvalid)
}
