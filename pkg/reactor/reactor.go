// SPDX-License-Identifier: GPL-3.0-or-later

// Package reactor translates the single poll-thread-with-tick-listeners
// design into idiomatic Go. Go's own network poller already multiplexes
// every goroutine blocked on a [net.Conn] read, so there is no hand-rolled
// epoll loop here: a Reactor owns a ticker goroutine that invokes
// registered TickListeners once per period, and an [errgroup.Group] that
// supervises the long-running goroutines handed to [Reactor.Go] (accept
// loops, the directory callback server, the spinner) so that Shutdown
// cancels and joins all of them together. Per-connection goroutines are
// started with plain go statements and are not joined by Shutdown.
package reactor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// TickListener is invoked once per reactor tick. Implementations must
// return promptly; a slow listener delays every other listener's next
// tick.
type TickListener interface {
	OnTick(ctx context.Context)
}

// TickListenerFunc adapts a function to [TickListener].
type TickListenerFunc func(ctx context.Context)

func (f TickListenerFunc) OnTick(ctx context.Context) { f(ctx) }

// Reactor supervises the node's background goroutines: periodic tick
// listeners (connection reaping, shutdown-flag checks) and the
// long-running goroutines handed to [Reactor.Go].
type Reactor struct {
	period time.Duration

	mu        sync.Mutex
	listeners []TickListener

	group   *errgroup.Group
	groupCtx context.Context
	cancel  context.CancelFunc

	shuttingDown atomic.Bool

	stopTicker chan struct{}
	tickerDone chan struct{}
}

// New creates a Reactor that runs its tick listeners every period.
func New(period time.Duration) *Reactor {
	group, groupCtx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(groupCtx)
	return &Reactor{
		period:     period,
		group:      group,
		groupCtx:   ctx,
		cancel:     cancel,
		stopTicker: make(chan struct{}),
		tickerDone: make(chan struct{}),
	}
}

// AddTickListener registers l to run on every subsequent tick. Safe to
// call before or after [Reactor.Start].
func (r *Reactor) AddTickListener(l TickListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Context returns the context passed to every goroutine spawned via
// [Reactor.Go]. It is cancelled when [Reactor.Shutdown] runs or when any
// supervised goroutine returns a non-nil error.
func (r *Reactor) Context() context.Context {
	return r.groupCtx
}

// Go runs fn in a new goroutine supervised by the reactor's
// [errgroup.Group]: if fn returns a non-nil error, [Reactor.Context] is
// cancelled for every other supervised goroutine.
func (r *Reactor) Go(fn func(ctx context.Context) error) {
	r.group.Go(func() error {
		return fn(r.groupCtx)
	})
}

// Start begins the ticker goroutine. Start must be called at most once.
func (r *Reactor) Start() {
	go r.runTicker()
}

func (r *Reactor) runTicker() {
	defer close(r.tickerDone)
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopTicker:
			return
		case <-r.groupCtx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			listeners := append([]TickListener(nil), r.listeners...)
			r.mu.Unlock()
			for _, l := range listeners {
				l.OnTick(r.groupCtx)
			}
		}
	}
}

// ShuttingDown reports whether [Reactor.Shutdown] has been called. Tick
// listeners poll this to notice a shutdown request raised from a signal
// handler running outside the reactor.
func (r *Reactor) ShuttingDown() bool {
	return r.shuttingDown.Load()
}

// Shutdown marks the reactor as shutting down, stops the ticker, cancels
// every supervised goroutine's context, and waits for them to return. It
// returns the first non-nil error from any supervised goroutine, if any.
func (r *Reactor) Shutdown() error {
	r.shuttingDown.Store(true)
	close(r.stopTicker)
	<-r.tickerDone
	r.cancel()
	return r.group.Wait()
}
