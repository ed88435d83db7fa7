package watcher

import (
	"errors"
	"fmt"
)

// InvalidConfigError is returned by Sync for a subscription config that cannot be followed.
// Other configs of the same Sync call are unaffected.
type InvalidConfigError struct {
	ConfigID string
	Err      error
}

func NewInvalidConfigError(configID string, err error) InvalidConfigError {
	return InvalidConfigError{ConfigID: configID, Err: err}
}

func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config %q: %v", e.ConfigID, e.Err)
}

func (e InvalidConfigError) Unwrap() error {
	return e.Err
}

// IsInvalidConfigError returns whether err is, or wraps, an InvalidConfigError.
func IsInvalidConfigError(err error) bool {
	var invalidErr InvalidConfigError
	return errors.As(err, &invalidErr)
}
