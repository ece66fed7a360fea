// SPDX-License-Identifier: GPL-3.0-or-later

package directory

import (
	"math/rand"
	"time"
)

// BackoffSchedule is a bounded exponential backoff with full jitter:
// base 250ms, factor 2, ceiling 32s. Registration retries use it; the
// distilled specification left the exact schedule as an open question,
// resolved this way in SPEC_FULL.md.
type BackoffSchedule struct {
	Base    time.Duration
	Factor  float64
	Ceiling time.Duration

	attempt int
}

// NewBackoffSchedule returns the default schedule.
func NewBackoffSchedule() *BackoffSchedule {
	return &BackoffSchedule{Base: 250 * time.Millisecond, Factor: 2, Ceiling: 32 * time.Second}
}

// Next returns the delay to wait before the next attempt and advances
// the schedule's internal attempt counter.
func (b *BackoffSchedule) Next() time.Duration {
	upper := float64(b.Base) * pow(b.Factor, b.attempt)
	if upper > float64(b.Ceiling) {
		upper = float64(b.Ceiling)
	}
	b.attempt++
	return time.Duration(rand.Float64() * upper)
}

// Reset zeroes the attempt counter, e.g. after a successful registration.
func (b *BackoffSchedule) Reset() {
	b.attempt = 0
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Register retries fn until it succeeds or ctx is done, sleeping
// according to schedule between attempts (spec §4.F "registration calls
// retry with bounded exponential backoff").
func Register(schedule *BackoffSchedule, sleep func(time.Duration), done <-chan struct{}, fn func() error) error {
	for {
		err := fn()
		if err == nil {
			schedule.Reset()
			return nil
		}
		select {
		case <-done:
			return err
		default:
		}
		sleep(schedule.Next())
	}
}
