// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport implements the two socket abstractions peers use to
// exchange headers and message frames: a reliable stream transport (TCP)
// and an unreliable datagram transport (UDP) with application-level
// fragmentation for payloads above the configured maximum datagram size.
// Reads block the calling goroutine until data arrives.
package transport

import (
	"net"

	"github.com/rosgo/roscore/pkg/wire"
)

// Dialer abstracts dialing a network address, so tests can substitute a
// fake without touching a real socket.
type Dialer interface {
	Dial(network, address string) (Conn, error)
}

// Conn is the subset of [net.Conn] both transports need. [*net.TCPConn]
// and [*net.UDPConn] both satisfy it.
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// SLogger is the narrow structured-logging seam every transport accepts.
// [*slog.Logger] and [roscore.SLogger] both satisfy it.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// Transport is the capability set spec §4.B requires of both the stream
// and datagram variants: header exchange, message exchange, close, and
// endpoint introspection. WriteHeader/WriteMessage are safe to call from
// any goroutine; ReadHeader/ReadMessage must only ever be called by the
// connection's own read goroutine (spec: "reads happen only on the poll
// thread").
type Transport interface {
	// WriteHeader sends h as the connection's handshake header.
	WriteHeader(h wire.Header) error

	// ReadHeader blocks for the peer's handshake header.
	ReadHeader() (wire.Header, error)

	// WriteMessage enqueues payload as one message frame.
	WriteMessage(payload []byte) error

	// ReadMessage blocks for one complete message frame, reassembling
	// datagram fragments transparently.
	ReadMessage() ([]byte, error)

	// Close closes the transport. Any blocked Read* call returns an
	// error. Close is idempotent.
	Close() error

	// LocalEndpoint returns "host:port" for the local side.
	LocalEndpoint() string

	// PeerEndpoint returns "host:port" for the remote side.
	PeerEndpoint() string

	// OnDrop registers fn to run exactly once, when the transport moves
	// to its terminal closed state (spec: "any I/O error moves the
	// transport to a terminal closed state and fires drop listeners").
	OnDrop(fn func(err error))
}
