package router

import (
	"errors"
	"fmt"
)

// UnknownSubscriptionError is returned for a frame citing a subscription id the engine does not
// hold on the relay it arrived from. Cancelled is set if the frame triggered a CLOSE.
type UnknownSubscriptionError struct {
	Relay          string
	SubscriptionID string
	Cancelled      bool
}

func (e UnknownSubscriptionError) Error() string {
	return fmt.Sprintf("unknown subscription %q on %s", e.SubscriptionID, e.Relay)
}

// IsUnknownSubscriptionError returns whether err is an UnknownSubscriptionError.
func IsUnknownSubscriptionError(err error) bool {
	var unknownErr UnknownSubscriptionError
	return errors.As(err, &unknownErr)
}
