package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// reconnectUnbounded is the MaxAttempts sentinel meaning "retry forever".
const reconnectUnbounded = -1

// newReconnectBackoff builds the exponential-with-jitter reconnect policy.
func newReconnectBackoff(minBackoff, maxBackoff time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minBackoff
	b.MaxInterval = maxBackoff
	// RandomizationFactor of 1.0 spreads the delay over [0, 2*interval),
	// the closest approximation of "full jitter" the library's additive
	// jitter model offers.
	b.RandomizationFactor = 1.0
	b.Multiplier = 2.0
	return b
}
