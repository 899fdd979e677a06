package probe

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays as pure data: base delay doubled per
// attempt, capped, plus proportional jitter. It carries no clock or
// scheduling state, so the same policy works under any concurrency
// primitive.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // fraction of the delay added randomly, 0 disables
}

// DefaultBackoff is the retry policy used when config supplies none.
var DefaultBackoff = Backoff{
	Base:   500 * time.Millisecond,
	Cap:    15 * time.Second,
	Jitter: 0.2,
}

// Delay returns the wait before retrying after the given attempt
// number (first attempt = 1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if b.Cap > 0 && d > b.Cap {
		d = b.Cap
	}

	if b.Jitter > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}
