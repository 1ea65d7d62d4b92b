package ws

import "time"

const (
	defaultBaseDelay   = 3 * time.Second
	defaultMaxAttempts = 5
)

// Backoff is an exponential reconnect policy: Base, 2*Base, 4*Base, ...
// capped at Max when Max > 0. After MaxAttempts failed reconnects the channel gives up.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = defaultBaseDelay
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = defaultMaxAttempts
	}
	return b
}

// Delay returns the wait before reconnect attempt n (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	b = b.withDefaults()
	if n < 1 {
		n = 1
	}
	d := b.Base
	for i := 1; i < n; i++ {
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether attempt reconnects have already been made and failed.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.withDefaults().MaxAttempts
}
