// SPDX-License-Identifier: GPL-3.0-or-later

package directory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffScheduleBoundedByCeiling(t *testing.T) {
	b := NewBackoffSchedule()
	b.Base = time.Millisecond
	b.Ceiling = 10 * time.Millisecond
	for i := 0; i < 20; i++ {
		d := b.Next()
		assert.LessOrEqual(t, d, b.Ceiling)
	}
}

func TestBackoffScheduleResetsAttemptCounter(t *testing.T) {
	b := NewBackoffSchedule()
	b.attempt = 10
	b.Reset()
	assert.Equal(t, 0, b.attempt)
}

func TestRegisterSucceedsWithoutSleeping(t *testing.T) {
	schedule := NewBackoffSchedule()
	sleeps := 0
	err := Register(schedule, func(time.Duration) { sleeps++ }, nil, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, sleeps)
}

func TestRegisterRetriesUntilSuccess(t *testing.T) {
	schedule := NewBackoffSchedule()
	schedule.Base = time.Microsecond
	attempts := 0
	err := Register(schedule, func(time.Duration) {}, nil, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRegisterStopsOnDone(t *testing.T) {
	schedule := NewBackoffSchedule()
	done := make(chan struct{})
	close(done)
	err := Register(schedule, func(time.Duration) {}, done, func() error {
		return errors.New("always fails")
	})
	assert.Error(t, err)
}
