package bridge

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMinBackoff = 3 * time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// reconnectBackoff doubles from min to max without jitter: 3s, 6s, 12s, 24s, 30s, 30s...
// It only resets once a connection succeeds.
type reconnectBackoff struct {
	b *backoff.ExponentialBackOff
}

func newReconnectBackoff(min, max time.Duration) *reconnectBackoff {
	if min <= 0 {
		min = DefaultMinBackoff
	}
	if max < min {
		max = DefaultMaxBackoff
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return &reconnectBackoff{b: b}
}

// Next returns the delay to wait now and doubles the following one.
func (r *reconnectBackoff) Next() time.Duration { return r.b.NextBackOff() }

// Reset returns the delay to the floor.
func (r *reconnectBackoff) Reset() { r.b.Reset() }
