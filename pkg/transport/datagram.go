// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rosgo/roscore/pkg/wire"
)

// MaxDatagramBlockSize bounds the payload carried in a single UDP
// datagram, leaving room for [wire.FragmentHeaderSize] plus IP/UDP
// overhead under a conservative 1500-byte link MTU.
const MaxDatagramBlockSize = 1380

// ReassemblyTimeout is how long an incomplete message's fragments are
// held before being discarded (resolves an open question left by the
// distilled specification: unmatched fragments must not accumulate
// forever).
const ReassemblyTimeout = 5 * time.Second

// DatagramTransport is the unreliable, fragmenting [Transport] variant
// (UDP). A message larger than [MaxDatagramBlockSize] is split across
// several fragments, each framed with a [wire.FragmentHeader]; the
// connection header rides inside the first fragment of the first
// message (spec §4.B, §6).
//
// A DatagramTransport never reads its socket itself: incoming fragments
// arrive via [DatagramTransport.Deliver]. [NewDatagramTransport] spawns
// a private goroutine that pumps conn and calls Deliver for the common
// case of one transport owning its socket outright (tests, a
// single-peer client). [NewSharedDatagramTransport] is for a socket one
// reader demultiplexes across many peers (xconn.ConnectionManager's
// inbound UDP listener) — there, the caller alone reads the socket and
// routes each datagram to the right transport's Deliver.
type DatagramTransport struct {
	conn         *net.UDPConn
	peer         *net.UDPAddr
	connectionID uint32
	logger       SLogger
	closeConn    bool

	writeMu   sync.Mutex
	nextMsgID uint8

	reassembleMu   sync.Mutex
	partials       map[uint8]*partialMessage
	headerConsumed bool

	dropOnce sync.Once
	dropFns  []func(error)
	dropErr  error
	dropMu   sync.Mutex
	closeCh  chan struct{}

	headerCh chan wire.Header
	msgCh    chan []byte
}

type partialMessage struct {
	blocks   map[uint16][]byte
	count    uint16
	deadline time.Time
}

var _ Transport = (*DatagramTransport)(nil)
var errDatagramClosed = errors.New("transport: datagram connection closed")

// NewDatagramTransport wraps conn, sending to and receiving from peer,
// identifying fragments with connectionID. conn must not be shared with
// any other transport: this constructor spawns a goroutine that reads
// conn for the lifetime of the transport. Use
// [NewSharedDatagramTransport] when a socket serves more than one peer.
func NewDatagramTransport(conn *net.UDPConn, peer *net.UDPAddr, connectionID uint32, logger SLogger) *DatagramTransport {
	t := newDatagramTransport(conn, peer, connectionID, logger, true)
	go t.pump()
	return t
}

// NewSharedDatagramTransport wraps conn like [NewDatagramTransport], but
// for a socket the caller keeps reading on behalf of other peers too: it
// never reads conn itself (the caller must route each datagram addressed
// to peer to [DatagramTransport.Deliver]), and Close never closes conn.
func NewSharedDatagramTransport(conn *net.UDPConn, peer *net.UDPAddr, connectionID uint32, logger SLogger) *DatagramTransport {
	return newDatagramTransport(conn, peer, connectionID, logger, false)
}

func newDatagramTransport(conn *net.UDPConn, peer *net.UDPAddr, connectionID uint32, logger SLogger, closeConn bool) *DatagramTransport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &DatagramTransport{
		conn:         conn,
		peer:         peer,
		connectionID: connectionID,
		logger:       logger,
		closeConn:    closeConn,
		partials:     map[uint8]*partialMessage{},
		headerCh:     make(chan wire.Header, 1),
		msgCh:        make(chan []byte, 16),
		closeCh:      make(chan struct{}),
	}
}

// pump reads conn until it errors, handing every datagram to Deliver.
// Only the private-socket constructor ([NewDatagramTransport]) runs
// this; a shared socket is pumped by its one owner instead (see
// [NewSharedDatagramTransport]).
func (t *DatagramTransport) pump() {
	buf := make([]byte, MaxDatagramBlockSize+wire.FragmentHeaderSize)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.fireDrop(err)
			return
		}
		if err := t.Deliver(buf[:n]); err != nil {
			t.logger.Debug("transport: dropping malformed datagram", "peer", t.PeerEndpoint(), "err", err)
		}
	}
}

// Deliver folds one received datagram's raw bytes into this transport's
// reassembly state, completing a header or message as appropriate. The
// caller — this transport's own pump for a privately owned socket, or
// the shared socket's one demultiplexing reader — is responsible for
// routing each datagram to the transport for its peer; Deliver itself
// never touches the network.
func (t *DatagramTransport) Deliver(raw []byte) error {
	buf := append([]byte(nil), raw...)
	complete, _, err := t.ingest(buf)
	if err != nil {
		return err
	}
	if complete != nil {
		select {
		case t.msgCh <- complete:
		case <-t.closeCh:
		}
	}
	return nil
}

// WriteHeader sends h's encoding as a message of its own, per the
// datagram handshake convention of spec §6. As this transport's first
// write it carries message id 0.
func (t *DatagramTransport) WriteHeader(h wire.Header) error {
	return t.writeFragmented(h.Encode(), true)
}

// ReadHeader blocks until the first complete message with message id 0
// has been delivered, and returns it decoded as the peer's header.
func (t *DatagramTransport) ReadHeader() (wire.Header, error) {
	select {
	case h := <-t.headerCh:
		return h, nil
	case <-t.closeCh:
		return nil, t.closeErr()
	}
}

func (t *DatagramTransport) WriteMessage(payload []byte) error {
	return t.writeFragmented(payload, false)
}

// ReadMessage blocks for the next message [Deliver] completes.
func (t *DatagramTransport) ReadMessage() ([]byte, error) {
	select {
	case body := <-t.msgCh:
		return body, nil
	case <-t.closeCh:
		return nil, t.closeErr()
	}
}

func (t *DatagramTransport) closeErr() error {
	t.dropMu.Lock()
	defer t.dropMu.Unlock()
	if t.dropErr != nil {
		return fmt.Errorf("transport: datagram connection closed: %w", t.dropErr)
	}
	return errDatagramClosed
}

// ingest folds one received fragment into its in-flight reassembly,
// returning the completed message payload (if any) and whether the
// message in question is the connection header.
func (t *DatagramTransport) ingest(raw []byte) (complete []byte, isHeader bool, err error) {
	fh, payload, err := wire.DecodeFragmentHeader(raw)
	if err != nil {
		return nil, false, fmt.Errorf("transport: decoding fragment: %w", err)
	}

	t.reassembleMu.Lock()
	defer t.reassembleMu.Unlock()

	t.reapExpiredLocked()

	pm, ok := t.partials[fh.MessageID]
	if !ok {
		pm = &partialMessage{
			blocks:   map[uint16][]byte{},
			count:    fh.BlockCount,
			deadline: time.Now().Add(ReassemblyTimeout),
		}
		t.partials[fh.MessageID] = pm
	}
	pm.blocks[fh.BlockIndex] = payload

	if uint16(len(pm.blocks)) < pm.count {
		return nil, false, nil
	}

	delete(t.partials, fh.MessageID)
	var body []byte
	for i := uint16(0); i < pm.count; i++ {
		body = append(body, pm.blocks[i]...)
	}

	if fh.MessageID == 0 && !t.headerConsumed {
		t.headerConsumed = true
		h, decodeErr := wire.DecodeHeader(bytes.NewReader(body))
		if decodeErr != nil {
			return nil, false, fmt.Errorf("transport: decoding datagram header: %w", decodeErr)
		}
		t.headerCh <- h
		return nil, true, nil
	}
	return body, false, nil
}

// reapExpiredLocked discards reassembly state that has outlived
// [ReassemblyTimeout]. Caller must hold reassembleMu.
func (t *DatagramTransport) reapExpiredLocked() {
	now := time.Now()
	for id, pm := range t.partials {
		if now.After(pm.deadline) {
			delete(t.partials, id)
		}
	}
}

func (t *DatagramTransport) writeFragmented(payload []byte, isHeader bool) error {
	t.writeMu.Lock()
	msgID := t.nextMsgID
	t.nextMsgID++
	t.writeMu.Unlock()

	blockCount := 1
	if len(payload) > 0 {
		blockCount = (len(payload) + MaxDatagramBlockSize - 1) / MaxDatagramBlockSize
	}

	for i := 0; i < blockCount; i++ {
		start := i * MaxDatagramBlockSize
		end := min(start+MaxDatagramBlockSize, len(payload))
		opcode := wire.OpcodeMiddle
		switch {
		case isHeader, i == 0:
			opcode = wire.OpcodeFirst
		case i == blockCount-1:
			opcode = wire.OpcodeTerminal
		}
		fh := wire.FragmentHeader{
			ConnectionID: t.connectionID,
			MessageID:    msgID,
			BlockIndex:   uint16(i),
			BlockCount:   uint16(blockCount),
			Opcode:       opcode,
		}
		buf := append(fh.Encode(), payload[start:end]...)

		t.writeMu.Lock()
		_, err := t.conn.WriteToUDP(buf, t.peer)
		t.writeMu.Unlock()
		if err != nil {
			t.fireDrop(err)
			return fmt.Errorf("transport: writing datagram: %w", err)
		}
	}
	return nil
}

// Close marks this peer's session dropped. For a privately owned socket
// (the [NewDatagramTransport] constructor) it also closes conn; for a
// socket shared with other peers ([NewSharedDatagramTransport]) the
// physical socket outlives this one transport and is left open.
func (t *DatagramTransport) Close() error {
	var err error
	if t.closeConn {
		err = t.conn.Close()
	}
	t.fireDrop(err)
	return err
}

func (t *DatagramTransport) LocalEndpoint() string {
	return t.conn.LocalAddr().String()
}

func (t *DatagramTransport) PeerEndpoint() string {
	return t.peer.String()
}

func (t *DatagramTransport) OnDrop(fn func(error)) {
	t.dropMu.Lock()
	t.dropFns = append(t.dropFns, fn)
	t.dropMu.Unlock()
}

func (t *DatagramTransport) fireDrop(err error) {
	t.dropOnce.Do(func() {
		t.dropMu.Lock()
		t.dropErr = err
		fns := t.dropFns
		t.dropMu.Unlock()
		close(t.closeCh)
		t.logger.Debug("transport: datagram connection dropped", "peer", t.PeerEndpoint(), "err", err)
		for _, fn := range fns {
			fn(err)
		}
	})
}
