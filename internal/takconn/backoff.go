// SPDX-License-Identifier: GPL-3.0-or-later

package takconn

import (
	"math"
	"math/rand/v2"
	"time"
)

// backoffPolicy implements the reconnect delay schedule:
// base 1s, factor 2, jitter ±20%, capped at 60s, reset after 60s of
// continuous connection.
type backoffPolicy struct {
	Base    time.Duration
	Factor  float64
	Jitter  float64
	Cap     time.Duration
	attempt int
}

func newBackoffPolicy() *backoffPolicy {
	return &backoffPolicy{
		Base:   time.Second,
		Factor: 2,
		Jitter: 0.2,
		Cap:    60 * time.Second,
	}
}

// Next returns the delay before the next reconnect attempt and advances
// the internal attempt counter.
func (b *backoffPolicy) Next() time.Duration {
	d := float64(b.Base) * math.Pow(b.Factor, float64(b.attempt))
	if capNanos := float64(b.Cap); d > capNanos {
		d = capNanos
	}
	b.attempt++

	jitterRange := d * b.Jitter
	offset := (rand.Float64()*2 - 1) * jitterRange
	d += offset
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Reset zeroes the attempt counter, called after resetAfter of
// continuous connection.
func (b *backoffPolicy) Reset() {
	b.attempt = 0
}
