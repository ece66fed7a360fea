// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/rosgo/roscore/pkg/wire"
)

// netDialer adapts *net.Dialer to Dialer.
type netDialer struct {
	d net.Dialer
}

// NewNetDialer returns a [Dialer] backed by a real [net.Dialer].
func NewNetDialer() Dialer {
	return &netDialer{}
}

func (nd *netDialer) Dial(network, address string) (Conn, error) {
	return nd.d.Dial(network, address)
}

// StreamTransport is the reliable, connection-oriented [Transport]
// variant (TCP). Header and message frames are both plain length-
// prefixed blocks written directly to the underlying socket (spec
// §4.B, §4.D).
type StreamTransport struct {
	conn   net.Conn
	logger SLogger

	writeMu sync.Mutex

	dropOnce sync.Once
	dropFns  []func(error)
	dropMu   sync.Mutex
}

var _ Transport = (*StreamTransport)(nil)

// DialStream dials address over network ("tcp") using dialer and wraps
// the resulting connection as a [StreamTransport].
func DialStream(dialer Dialer, network, address string, logger SLogger) (*StreamTransport, error) {
	conn, err := dialer.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", address, err)
	}
	nc, ok := conn.(net.Conn)
	if !ok {
		return nil, fmt.Errorf("transport: dialer returned a non-net.Conn")
	}
	return NewStreamTransport(nc, logger), nil
}

// NewStreamTransport wraps an already-established [net.Conn].
func NewStreamTransport(conn net.Conn, logger SLogger) *StreamTransport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &StreamTransport{conn: conn, logger: logger}
}

func (t *StreamTransport) WriteHeader(h wire.Header) error {
	return t.writeRaw(h.Encode())
}

func (t *StreamTransport) ReadHeader() (wire.Header, error) {
	h, err := wire.DecodeHeader(t.conn)
	if err != nil {
		t.fireDrop(err)
		return nil, fmt.Errorf("transport: reading header: %w", err)
	}
	return h, nil
}

func (t *StreamTransport) WriteMessage(payload []byte) error {
	return t.writeRaw(wire.EncodeFrame(payload))
}

func (t *StreamTransport) ReadMessage() ([]byte, error) {
	payload, err := wire.DecodeFrame(t.conn)
	if err != nil {
		t.fireDrop(err)
		return nil, fmt.Errorf("transport: reading message: %w", err)
	}
	return payload, nil
}

func (t *StreamTransport) writeRaw(buf []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.conn.Write(buf); err != nil {
		t.fireDrop(err)
		return fmt.Errorf("transport: writing: %w", err)
	}
	return nil
}

func (t *StreamTransport) Close() error {
	err := t.conn.Close()
	t.fireDrop(err)
	return err
}

func (t *StreamTransport) LocalEndpoint() string {
	return t.conn.LocalAddr().String()
}

func (t *StreamTransport) PeerEndpoint() string {
	return t.conn.RemoteAddr().String()
}

func (t *StreamTransport) OnDrop(fn func(error)) {
	t.dropMu.Lock()
	t.dropFns = append(t.dropFns, fn)
	t.dropMu.Unlock()
}

func (t *StreamTransport) fireDrop(err error) {
	t.dropOnce.Do(func() {
		t.logger.Debug("transport: connection dropped", "peer", t.PeerEndpoint(), "err", err)
		t.dropMu.Lock()
		fns := t.dropFns
		t.dropMu.Unlock()
		for _, fn := range fns {
			fn(err)
		}
	})
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
