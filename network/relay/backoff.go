package relay

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// newBackoff returns the reconnect backoff of an endpoint: exponential from the configured base,
// capped and jittered.
func newBackoff(config Config) (retry.Backoff, error) {
	if config.BackoffBase <= 0 {
		return nil, NewInvalidConfigErrorf("backoff base must be positive, got %s", config.BackoffBase)
	}
	if config.BackoffCap < config.BackoffBase {
		return nil, NewInvalidConfigErrorf("backoff cap %s is below the base %s", config.BackoffCap, config.BackoffBase)
	}
	backoff := retry.NewExponential(config.BackoffBase)
	backoff = retry.WithCappedDuration(config.BackoffCap, backoff)
	backoff = retry.WithJitterPercent(config.BackoffJitterPercent, backoff)
	return backoff, nil
}

// nextDelay returns the next delay of the backoff. The capped backoff never stops, the cap is
// returned should it do so anyway.
func nextDelay(backoff retry.Backoff, cap time.Duration) time.Duration {
	delay, stop := backoff.Next()
	if stop || delay <= 0 {
		return cap
	}
	return delay
}
