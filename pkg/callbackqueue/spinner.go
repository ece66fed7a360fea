// SPDX-License-Identifier: GPL-3.0-or-later

package callbackqueue

import (
	"context"
	"time"
)

// spinPollInterval bounds how long a spinner blocks in one CallOne
// or CallAvailable call before checking ctx again.
const spinPollInterval = 250 * time.Millisecond

// SingleThreadedSpinner runs q's callbacks on the caller's own
// goroutine until ctx is done. A single queue must not be driven by
// more than one spinner at a time (spec §4.I).
func SingleThreadedSpinner(ctx context.Context, q *CallbackQueue) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := q.CallAvailable(spinPollInterval); err != nil && err != ErrTimeout {
			return err
		}
	}
}

// MultiThreadedSpinner spawns n worker goroutines, each looping on
// CallOne, and blocks until ctx is done or one worker returns an
// error. Concurrency-group entries in q are never run in parallel
// across workers.
func MultiThreadedSpinner(ctx context.Context, q *CallbackQueue, n int) error {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			for {
				select {
				case <-workerCtx.Done():
					errCh <- nil
					return
				default:
				}
				if err := q.CallOne(spinPollInterval); err != nil && err != ErrTimeout {
					errCh <- err
					return
				}
			}
		}()
	}

	var firstErr error
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}
