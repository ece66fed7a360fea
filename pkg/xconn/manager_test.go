// SPDX-License-Identifier: GPL-3.0-or-later

package xconn

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rosgo/roscore/pkg/transport"
	"github.com/rosgo/roscore/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	ch chan struct {
		conn *Connection
		role Role
		name string
	}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{ch: make(chan struct {
		conn *Connection
		role Role
		name string
	}, 4)}
}

func (h *recordingHandler) HandleAccepted(conn *Connection, role Role, name string, header wire.Header) {
	h.ch <- struct {
		conn *Connection
		role Role
		name string
	}{conn, role, name}
}

func TestConnectionManagerAcceptsAndClassifiesStream(t *testing.T) {
	handler := newRecordingHandler()
	mgr := NewConnectionManager("127.0.0.1", handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var spawned []func(ctx context.Context) error
	spawn := func(fn func(ctx context.Context) error) { spawned = append(spawned, fn) }
	require.NoError(t, mgr.Start(ctx, spawn))
	for _, fn := range spawned {
		go fn(ctx)
	}

	assert.NotZero(t, mgr.StreamPort())
	assert.NotZero(t, mgr.DatagramPort())

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(mgr.StreamPort())))
	require.NoError(t, err)
	defer conn.Close()

	client := transport.NewStreamTransport(conn, nil)
	require.NoError(t, client.WriteHeader(wire.Header{wire.KeyTopic: "/chat"}))

	select {
	case got := <-handler.ch:
		assert.Equal(t, RoleSubscription, got.role)
		assert.Equal(t, "/chat", got.name)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	require.Eventually(t, func() bool { return mgr.Live() == 1 }, time.Second, 10*time.Millisecond)
}

// Two peers sharing the manager's one datagram socket must each get
// their own header and message traffic, undisturbed by the other's
// fragments arriving interleaved on the same socket.
func TestConnectionManagerDemultiplexesConcurrentDatagramPeers(t *testing.T) {
	handler := newRecordingHandler()
	mgr := NewConnectionManager("127.0.0.1", handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var spawned []func(ctx context.Context) error
	spawn := func(fn func(ctx context.Context) error) { spawned = append(spawned, fn) }
	require.NoError(t, mgr.Start(ctx, spawn))
	for _, fn := range spawned {
		go fn(ctx)
	}

	serverAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: mgr.DatagramPort()}

	dialPeer := func(t *testing.T, topicName string) *transport.DatagramTransport {
		t.Helper()
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		client := transport.NewDatagramTransport(conn, serverAddr, 1, nil)
		require.NoError(t, client.WriteHeader(wire.Header{wire.KeyTopic: topicName}))
		return client
	}

	clientA := dialPeer(t, "/scan")
	clientB := dialPeer(t, "/odom")

	serverConns := map[string]*Connection{}
	for i := 0; i < 2; i++ {
		select {
		case g := <-handler.ch:
			assert.Equal(t, RoleSubscription, g.role)
			serverConns[g.name] = g.conn
		case <-time.After(2 * time.Second):
			t.Fatal("handler was never invoked for both peers")
		}
	}
	require.Contains(t, serverConns, "/scan")
	require.Contains(t, serverConns, "/odom")

	payloadA := []byte("a-payload")
	payloadB := []byte("b-payload")
	errCh := make(chan error, 2)
	go func() { errCh <- clientA.WriteMessage(payloadA) }()
	go func() { errCh <- clientB.WriteMessage(payloadB) }()
	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	msgA, err := serverConns["/scan"].ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payloadA, msgA, "the /scan connection must never see /odom's message")

	msgB, err := serverConns["/odom"].ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payloadB, msgB, "the /odom connection must never see /scan's message")
}

func TestConnectionManagerReapsDroppedConnections(t *testing.T) {
	mgr := NewConnectionManager("127.0.0.1", nil, nil)
	client, server := net.Pipe()
	defer client.Close()

	conn := New(mgr.NextConnectionID(), transport.NewStreamTransport(server, nil))
	mgr.Add(conn)
	require.Equal(t, 1, mgr.Live())

	require.NoError(t, conn.Close())
	mgr.OnTick(context.Background())
	assert.Equal(t, 0, mgr.Live())
}
