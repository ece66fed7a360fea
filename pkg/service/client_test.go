// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/rosgo/roscore/pkg/callbackqueue"
	"github.com/rosgo/roscore/pkg/transport"
	"github.com/rosgo/roscore/pkg/xconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirectory returns a fixed URI for every LookupService call and
// counts how many times it was actually invoked (singleflight coalescing
// should keep this below the number of concurrent callers).
type fakeDirectory struct {
	uri     string
	lookups atomic.Int32
}

func (f *fakeDirectory) LookupService(ctx context.Context, service string) (string, error) {
	f.lookups.Add(1)
	return f.uri, nil
}

// pipeDialer hands out one end of a net.Pipe per Dial call and exposes
// the other ends to the test via a channel, so the test can drive a
// fake server for each accepted "connection".
type pipeDialer struct {
	accepted chan net.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{accepted: make(chan net.Conn, 16)}
}

func (d *pipeDialer) Dial(network, address string) (net.Conn, error) {
	client, server := net.Pipe()
	d.accepted <- server
	return client, nil
}

// serveHandshakeAndEchoN completes the server side of the header
// handshake over nc and then echoes n requests, prefixed with "echo:",
// before returning.
func serveHandshakeAndEchoN(t *testing.T, nc net.Conn, name, md5sum string, n int) {
	t.Helper()
	st := transport.NewStreamTransport(nc, nil)
	conn := xconn.New(1, st)

	srv := NewServer(name, md5sum, func(request []byte) ([]byte, error) {
		return append([]byte("echo:"), request...), nil
	}, callbackqueue.New())

	if _, err := conn.ReadHeader(srv.Validate); err != nil {
		return
	}
	if err := conn.WriteHeader(map[string]string{"service": name, "md5sum": md5sum}); err != nil {
		return
	}

	go callbackqueue.SingleThreadedSpinner(t.Context(), srv.Queue)
	for i := 0; i < n; i++ {
		payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		done := make(chan struct{})
		srv.Queue.AddCallback(func() {
			defer close(done)
			response, _ := srv.Handler(payload)
			_ = conn.WriteMessage(append([]byte{1}, response...))
		}, srv.Owner, srv.Name)
		<-done
	}
}

func TestParseServiceURIAcceptsRosrpcAndHTTPSchemes(t *testing.T) {
	cases := []struct {
		uri        string
		host, port string
	}{
		{"rosrpc://10.0.0.5:9812", "10.0.0.5", "9812"},
		{"http://10.0.0.5:9812", "10.0.0.5", "9812"},
		{"rosrpc://10.0.0.5:9812/", "10.0.0.5", "9812"},
	}
	for _, c := range cases {
		host, port, err := parseServiceURI(c.uri)
		require.NoError(t, err)
		assert.Equal(t, c.host, host)
		assert.Equal(t, c.port, port)
	}
}

func serveHandshakeAndEcho(t *testing.T, nc net.Conn, name, md5sum string) {
	t.Helper()
	serveHandshakeAndEchoN(t, nc, name, md5sum, 1)
}

func TestManagerCallRoundTrip(t *testing.T) {
	dialer := newPipeDialer()
	dir := &fakeDirectory{uri: "http://127.0.0.1:9"}
	m := NewManager(dir, dialer, "/node")

	go func() {
		nc := <-dialer.accepted
		serveHandshakeAndEcho(t, nc, "/echo", "abcd")
	}()

	client, err := m.Dial(context.Background(), "/echo", "abcd", false)
	require.NoError(t, err)

	resp, err := client.Call(context.Background(), []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(resp))
}

func TestManagerPersistentClientReusesConnection(t *testing.T) {
	dialer := newPipeDialer()
	dir := &fakeDirectory{uri: "http://127.0.0.1:9"}
	m := NewManager(dir, dialer, "/node")

	go func() {
		nc := <-dialer.accepted
		serveHandshakeAndEchoN(t, nc, "/echo", "abcd", 2)
	}()

	client, err := m.Dial(context.Background(), "/echo", "abcd", true)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), []byte("a"))
	require.NoError(t, err)
	_, err = client.Call(context.Background(), []byte("b"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), dir.lookups.Load(), "persistent client must look up and dial only once")
}

func TestManagerConcurrentNonPersistentCallsSucceed(t *testing.T) {
	dialer := newPipeDialer()
	dir := &fakeDirectory{uri: "http://127.0.0.1:9"}
	m := NewManager(dir, dialer, "/node")

	const n = 4
	for i := 0; i < n; i++ {
		go func() {
			nc := <-dialer.accepted
			serveHandshakeAndEcho(t, nc, "/echo", "abcd")
		}()
	}

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			client, err := m.Dial(context.Background(), "/echo", "abcd", false)
			if err != nil {
				results <- err
				return
			}
			_, err = client.Call(context.Background(), []byte("x"))
			results <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}
}
