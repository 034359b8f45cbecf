package poller

import "time"

// Backoff yields the sleep intervals between non-terminal observations. The
// interval starts at base and doubles after each use, capped at max. A base
// equal to max gives fixed-interval polling.
type Backoff struct {
	max  time.Duration
	next time.Duration
}

// NewBackoff creates a backoff sequence. A max below base is raised to base.
func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{max: max, next: base}
}

// Next returns the current interval and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max || b.next <= 0 {
		b.next = b.max
	}
	return d
}
