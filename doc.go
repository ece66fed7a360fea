// SPDX-License-Identifier: GPL-3.0-or-later

// Package roscore is the in-process runtime for a node in a distributed
// publish/subscribe and request/response messaging system. It owns topic
// publications and subscriptions, service servers and clients, the
// connections that carry them, and the callback queues that deliver
// received messages and completed calls back to user code.
//
// # Core Abstraction
//
// Connection establishment reuses a single composable interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// Each Func represents an atomic operation with exactly one success mode
// and one failure mode. [ConnectFunc] dials a peer, [CancelWatchFunc] binds
// the connection's lifetime to a context, and [ObserveConnFunc] observes it
// for logging; the [Node] composes these three with [Compose3] into the
// dialer that pkg/topic and pkg/service use for every outbound peer
// connection. [Compose2] through [Compose8] build longer pipelines.
//
// # Node lifecycle
//
// A [Node] moves through three phases: uninitialized, initialized (name,
// remappings, and the directory URI are frozen), and started (the reactor
// and directory registrations are live). [Node.Shutdown] is idempotent: it
// disables the global callback queues, joins internal goroutines, tears
// down the directory RPC server, and drops all connections.
//
// # Observability
//
// All primitives support structured logging via [SLogger], compatible
// with [log/slog] and, via [NewZerologAdapter], with zerolog. Logging is
// disabled by default. Error classification is configurable via
// [ErrClassifier]; by default errors are classified with the errclass
// package (see [DefaultErrClassifier]). Use [NewSpanID]
// to generate a unique, time-ordered identifier (UUIDv7) for each
// connection or RPC call, then attach it to the logger so all log entries
// for that operation correlate.
//
// # Timeout and Context Philosophy
//
// This package is context-transparent: operations never modify the context
// they receive. The caller controls timeouts externally via
// [context.WithTimeout], [context.WithDeadline], or [signal.NotifyContext].
// Connection lifecycle requires [CancelWatchFunc] to bind the context
// lifecycle to the connection: when the context is done, the connection is
// closed immediately, causing any in-progress I/O to fail.
//
// # Package layout
//
//   - pkg/names — name resolution and remapping
//   - pkg/wire — message descriptors, header and frame codecs
//   - pkg/transport — stream and datagram transports
//   - pkg/reactor — the tick-listener scheduler and shutdown plumbing
//   - pkg/xconn — the connection state machine and connection manager
//   - pkg/directory — the RPC client/server talking to the external master
//   - pkg/callbackqueue — callback queues and spinners
//   - pkg/topic — publications, subscriptions, and the topic manager
//   - pkg/service — service servers, clients, and the service manager
//   - pkg/paramcache — the local parameter cache
//   - pkg/metrics — optional Prometheus instrumentation
package roscore
