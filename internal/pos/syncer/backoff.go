package syncer

import "time"

// Backoff spaces retries of a row that keeps failing with retryable errors.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff doubles from 5s up to 10m.
func DefaultBackoff() Backoff {
	return Backoff{Base: 5 * time.Second, Max: 10 * time.Minute}
}

// Delay returns Base*2^(attempt-1) capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		b = DefaultBackoff()
	}
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
