// SPDX-License-Identifier: GPL-3.0-or-later

package xconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rosgo/roscore/pkg/transport"
	"github.com/rosgo/roscore/pkg/wire"
)

// AcceptHandler receives newly classified inbound connections. The
// topic and service managers implement it to attach subscriber and
// service-client links respectively.
type AcceptHandler interface {
	HandleAccepted(conn *Connection, role Role, name string, header wire.Header)
}

// SLogger is the narrow structured-logging seam the manager accepts.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// ConnectionManager owns the process-wide set of live connections. It
// binds one stream listener and one datagram socket on ephemeral ports
// at [ConnectionManager.Start] and hands every accepted connection to an
// [AcceptHandler] once its header has been read and classified
// (spec §4.E; grounded on connection_manager.cpp).
type ConnectionManager struct {
	host    string
	handler AcceptHandler
	logger  SLogger

	streamListener net.Listener
	datagramConn   *net.UDPConn

	nextID atomic.Uint32

	mu   sync.Mutex
	live map[uint32]*Connection

	droppedMu sync.Mutex
	dropped   []uint32

	// datagramPeers maps a peer's "host:port" to the transport handling
	// its traffic on the shared datagramConn socket. acceptDatagramLoop
	// is datagramConn's only reader and uses this map to dispatch each
	// received fragment to the right peer's transport instead of
	// letting every DatagramTransport race to read the socket itself.
	datagramMu    sync.Mutex
	datagramPeers map[string]*transport.DatagramTransport
}

// NewConnectionManager constructs a manager that will advertise host as
// the address of its listeners (the node's advertised hostname/IP).
func NewConnectionManager(host string, handler AcceptHandler, logger SLogger) *ConnectionManager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ConnectionManager{
		host:          host,
		handler:       handler,
		logger:        logger,
		live:          map[uint32]*Connection{},
		datagramPeers: map[string]*transport.DatagramTransport{},
	}
}

// Start binds the stream and datagram listeners on ephemeral ports and
// launches their accept loops as goroutines supervised by spawn. Once
// ctx is done it closes both listeners, which ends the accept loops, and
// every connection in the live set.
func (m *ConnectionManager) Start(ctx context.Context, spawn func(fn func(ctx context.Context) error)) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(m.host, "0"))
	if err != nil {
		return fmt.Errorf("xconn: binding stream listener: %w", err)
	}
	m.streamListener = ln

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(resolveBindIP(m.host))})
	if err != nil {
		ln.Close()
		return fmt.Errorf("xconn: binding datagram socket: %w", err)
	}
	m.datagramConn = udpConn

	spawn(m.acceptStreamLoop)
	spawn(m.acceptDatagramLoop)
	go func() {
		<-ctx.Done()
		ln.Close()
		udpConn.Close()
		m.mu.Lock()
		live := make([]*Connection, 0, len(m.live))
		for _, c := range m.live {
			live = append(live, c)
		}
		m.mu.Unlock()
		for _, c := range live {
			c.Close()
		}
	}()
	return nil
}

func resolveBindIP(host string) string {
	if ip := net.ParseIP(host); ip != nil {
		return host
	}
	return "0.0.0.0"
}

// StreamPort returns the ephemeral TCP port bound by [Start].
func (m *ConnectionManager) StreamPort() int {
	return m.streamListener.Addr().(*net.TCPAddr).Port
}

// DatagramPort returns the ephemeral UDP port bound by [Start].
func (m *ConnectionManager) DatagramPort() int {
	return m.datagramConn.LocalAddr().(*net.UDPAddr).Port
}

// NextConnectionID returns a fresh, process-wide monotonically
// increasing connection identifier.
func (m *ConnectionManager) NextConnectionID() uint32 {
	return m.nextID.Add(1)
}

// Add registers conn in the live set and arranges for [ConnectionManager]
// to reap it once it drops.
func (m *ConnectionManager) Add(conn *Connection) {
	m.mu.Lock()
	m.live[conn.ID] = conn
	m.mu.Unlock()
	conn.OnDrop(func(error) { m.onDropped(conn.ID) })
}

func (m *ConnectionManager) onDropped(id uint32) {
	m.droppedMu.Lock()
	m.dropped = append(m.dropped, id)
	m.droppedMu.Unlock()
}

// OnTick implements [reactor.TickListener]: it erases every connection
// queued by [ConnectionManager.onDropped] from the live set.
func (m *ConnectionManager) OnTick(ctx context.Context) {
	m.droppedMu.Lock()
	ids := m.dropped
	m.dropped = nil
	m.droppedMu.Unlock()
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	for _, id := range ids {
		delete(m.live, id)
	}
	m.mu.Unlock()
}

// Live returns the number of connections not yet reaped.
func (m *ConnectionManager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *ConnectionManager) acceptStreamLoop(ctx context.Context) error {
	for {
		nc, err := m.streamListener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("xconn: accepting stream connection: %w", err)
			}
		}
		go m.handleStreamAccept(nc)
	}
}

func (m *ConnectionManager) handleStreamAccept(nc net.Conn) {
	t := transport.NewStreamTransport(nc, m.logger)
	conn := New(m.NextConnectionID(), t)
	m.Add(conn)

	header, err := conn.ReadHeader(nil)
	if err != nil {
		m.logger.Debug("xconn: inbound connection dropped before header", "err", err)
		return
	}
	role, name, err := ClassifyHeader(header)
	if err != nil {
		_ = conn.Transport.WriteHeader(wire.Header{wire.KeyError: err.Error()})
		conn.Close()
		return
	}
	if m.handler != nil {
		m.handler.HandleAccepted(conn, role, name, header)
	}
}

// acceptDatagramLoop is the single reader of the shared datagram socket:
// it dispatches each received fragment to its peer's
// [transport.DatagramTransport] by source address, spawning a new one
// (and the classification handshake that goes with it) the first time a
// peer is seen. No other goroutine ever calls datagramConn.ReadFromUDP,
// which is what lets more than one peer safely share the one socket.
func (m *ConnectionManager) acceptDatagramLoop(ctx context.Context) error {
	buf := make([]byte, transport.MaxDatagramBlockSize+wire.FragmentHeaderSize)
	for {
		n, addr, err := m.datagramConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("xconn: reading datagram: %w", err)
			}
		}
		key := addr.String()

		m.datagramMu.Lock()
		t, ok := m.datagramPeers[key]
		if !ok {
			id := m.NextConnectionID()
			t = transport.NewSharedDatagramTransport(m.datagramConn, addr, id, m.logger)
			m.datagramPeers[key] = t
			m.datagramMu.Unlock()
			go m.handleDatagramAccept(key, id, t)
		} else {
			m.datagramMu.Unlock()
		}

		if err := t.Deliver(buf[:n]); err != nil {
			m.logger.Debug("xconn: dropping malformed datagram", "peer", key, "err", err)
		}
	}
}

func (m *ConnectionManager) handleDatagramAccept(key string, id uint32, t *transport.DatagramTransport) {
	conn := New(id, t)
	m.Add(conn)
	conn.OnDrop(func(error) { m.removeDatagramPeer(key) })

	header, err := conn.ReadHeader(nil)
	if err != nil {
		m.logger.Debug("xconn: inbound datagram connection dropped before header", "err", err)
		return
	}
	role, name, err := ClassifyHeader(header)
	if err != nil {
		conn.Close()
		return
	}
	if m.handler != nil {
		m.handler.HandleAccepted(conn, role, name, header)
	}
}

func (m *ConnectionManager) removeDatagramPeer(key string) {
	m.datagramMu.Lock()
	delete(m.datagramPeers, key)
	m.datagramMu.Unlock()
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
