// SPDX-License-Identifier: GPL-3.0-or-later

// Package xconn implements the connection state machine and the
// process-wide connection manager that accepts, classifies, and reaps
// peer connections.
package xconn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rosgo/roscore/pkg/transport"
	"github.com/rosgo/roscore/pkg/wire"
)

// State is one position in the NEW -> HEADER_SENT -> ACTIVE -> DROPPED
// state machine.
type State int32

const (
	StateNew State = iota
	StateHeaderSent
	StateActive
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHeaderSent:
		return "header_sent"
	case StateActive:
		return "active"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Role classifies what a connection is for, derived from the first
// header exchanged on it.
type Role int

const (
	RoleUnknown Role = iota
	RolePublication
	RoleSubscription
	RoleServiceServer
	RoleServiceClient
)

// Connection wraps a [transport.Transport] and drives it through the
// NEW -> HEADER_SENT -> ACTIVE -> DROPPED state machine (spec §4.D).
type Connection struct {
	ID        uint32
	Transport transport.Transport

	state atomic.Int32

	dropOnce sync.Once
	dropMu   sync.Mutex
	dropFns  []func(error)
}

// New wraps t as a fresh connection. id should come from
// [ConnectionManager.NextConnectionID] for connections the manager owns.
func New(id uint32, t transport.Transport) *Connection {
	c := &Connection{ID: id, Transport: t}
	t.OnDrop(c.drop)
	return c
}

// State returns the connection's current state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// WriteHeader sends h and transitions NEW -> HEADER_SENT.
func (c *Connection) WriteHeader(h wire.Header) error {
	if err := c.Transport.WriteHeader(h); err != nil {
		c.drop(err)
		return err
	}
	c.state.Store(int32(StateHeaderSent))
	return nil
}

// ReadHeader blocks for the peer's header. validate is called with the
// decoded header; a non-nil error from validate sends back an
// error=<reason> header and drops the connection (spec §4.D "header
// validation fail"). On success the connection transitions to ACTIVE.
func (c *Connection) ReadHeader(validate func(wire.Header) error) (wire.Header, error) {
	h, err := c.Transport.ReadHeader()
	if err != nil {
		c.drop(err)
		return nil, err
	}
	if validate != nil {
		if verr := validate(h); verr != nil {
			_ = c.Transport.WriteHeader(wire.Header{wire.KeyError: verr.Error()})
			c.drop(verr)
			return h, verr
		}
	}
	c.state.Store(int32(StateActive))
	return h, nil
}

// WriteMessage enqueues payload. The connection must be ACTIVE.
func (c *Connection) WriteMessage(payload []byte) error {
	if err := c.Transport.WriteMessage(payload); err != nil {
		c.drop(err)
		return err
	}
	return nil
}

// ReadMessage blocks for the next message frame.
func (c *Connection) ReadMessage() ([]byte, error) {
	payload, err := c.Transport.ReadMessage()
	if err != nil {
		c.drop(err)
		return nil, err
	}
	return payload, nil
}

// PeerEndpoint returns "host:port" for the remote side of the
// connection's transport.
func (c *Connection) PeerEndpoint() string {
	return c.Transport.PeerEndpoint()
}

// OnDrop registers fn to run once, when the connection transitions to
// DROPPED for any reason (I/O error, validation failure, or explicit
// [Connection.Close]).
func (c *Connection) OnDrop(fn func(err error)) {
	c.dropMu.Lock()
	c.dropFns = append(c.dropFns, fn)
	c.dropMu.Unlock()
}

// Close drops the connection and closes its transport.
func (c *Connection) Close() error {
	err := c.Transport.Close()
	c.drop(err)
	return err
}

func (c *Connection) drop(err error) {
	c.dropOnce.Do(func() {
		c.state.Store(int32(StateDropped))
		c.dropMu.Lock()
		fns := c.dropFns
		c.dropMu.Unlock()
		for _, fn := range fns {
			fn(err)
		}
	})
}

// ValidatePublisherHeader checks a subscriber's request header against a
// publication's advertised topic, md5sum, and type (spec §4.D).
func ValidatePublisherHeader(topic, md5sum, msgType string, h wire.Header) error {
	if h[wire.KeyTopic] != topic {
		return fmt.Errorf("xconn: topic mismatch: wanted %q, got %q", topic, h[wire.KeyTopic])
	}
	if !wire.Compatible(wire.Descriptor{MD5: md5sum}, wire.Descriptor{MD5: h[wire.KeyMD5Sum]}) {
		return fmt.Errorf("xconn: md5sum mismatch: wanted %q, got %q", md5sum, h[wire.KeyMD5Sum])
	}
	if h[wire.KeyType] != msgType && h[wire.KeyType] != wire.WildcardMD5 && msgType != wire.WildcardMD5 {
		return fmt.Errorf("xconn: type mismatch: wanted %q, got %q", msgType, h[wire.KeyType])
	}
	return nil
}

// ValidateServiceHeader checks a client's request header against a
// service's advertised name and md5sum (spec §4.D).
func ValidateServiceHeader(service, md5sum string, h wire.Header) error {
	if h[wire.KeyService] != service {
		return fmt.Errorf("xconn: service mismatch: wanted %q, got %q", service, h[wire.KeyService])
	}
	if !wire.Compatible(wire.Descriptor{MD5: md5sum}, wire.Descriptor{MD5: h[wire.KeyMD5Sum]}) {
		return fmt.Errorf("xconn: md5sum mismatch: wanted %q, got %q", md5sum, h[wire.KeyMD5Sum])
	}
	return nil
}

// ClassifyHeader derives a [Role] from an inbound connection's first
// header: a "topic" key means a subscriber wants to attach to a
// publication, a "service" key means a client wants to call a service,
// and neither is a protocol error (spec §4.E).
func ClassifyHeader(h wire.Header) (role Role, name string, err error) {
	if topic, ok := h[wire.KeyTopic]; ok {
		return RoleSubscription, topic, nil
	}
	if service, ok := h[wire.KeyService]; ok {
		return RoleServiceServer, service, nil
	}
	return RoleUnknown, "", fmt.Errorf("xconn: header has neither %q nor %q key", wire.KeyTopic, wire.KeyService)
}
