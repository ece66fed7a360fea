// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"fmt"
	"net"
	"testing"

	"github.com/rosgo/roscore/pkg/callbackqueue"
	"github.com/rosgo/roscore/pkg/transport"
	"github.com/rosgo/roscore/pkg/xconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConnections() (server, client *xconn.Connection) {
	a, b := net.Pipe()
	st := transport.NewStreamTransport(a, nil)
	ct := transport.NewStreamTransport(b, nil)
	return xconn.New(1, st), xconn.New(2, ct)
}

func TestServerServeEchoesRequest(t *testing.T) {
	serverConn, clientConn := pipeConnections()
	q := callbackqueue.New()
	go callbackqueue.SingleThreadedSpinner(t.Context(), q)

	srv := NewServer("/echo", "abcd", func(request []byte) ([]byte, error) {
		return append([]byte("echo:"), request...), nil
	}, q)

	go srv.Serve(serverConn)

	require.NoError(t, clientConn.WriteMessage([]byte("hi")))
	payload, err := clientConn.ReadMessage()
	require.NoError(t, err)

	ok, rest, err := DecodeResponse(payload)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "echo:hi", string(rest))
}

func TestServerServeReportsHandlerError(t *testing.T) {
	serverConn, clientConn := pipeConnections()
	q := callbackqueue.New()
	go callbackqueue.SingleThreadedSpinner(t.Context(), q)

	srv := NewServer("/fail", "abcd", func(request []byte) ([]byte, error) {
		return nil, fmt.Errorf("boom")
	}, q)
	go srv.Serve(serverConn)

	require.NoError(t, clientConn.WriteMessage([]byte("hi")))
	payload, err := clientConn.ReadMessage()
	require.NoError(t, err)

	ok, rest, err := DecodeResponse(payload)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "boom", string(rest))
}

func TestServerServeOrdersRequestsOnOneConnection(t *testing.T) {
	serverConn, clientConn := pipeConnections()
	q := callbackqueue.New()
	go callbackqueue.SingleThreadedSpinner(t.Context(), q)

	var order []int
	srv := NewServer("/seq", "abcd", func(request []byte) ([]byte, error) {
		n := int(request[0])
		order = append(order, n)
		return []byte{request[0]}, nil
	}, q)
	go srv.Serve(serverConn)

	for i := 0; i < 5; i++ {
		require.NoError(t, clientConn.WriteMessage([]byte{byte(i)}))
		payload, err := clientConn.ReadMessage()
		require.NoError(t, err)
		ok, rest, err := DecodeResponse(payload)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, byte(i), rest[0])
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDecodeResponseRejectsEmptyPayload(t *testing.T) {
	_, _, err := DecodeResponse(nil)
	assert.Error(t, err)
}

func TestServerValidateDelegatesToXconn(t *testing.T) {
	srv := NewServer("/echo", "abcd", nil, nil)
	assert.NoError(t, srv.Validate(map[string]string{"service": "/echo", "md5sum": "abcd"}))
	assert.Error(t, srv.Validate(map[string]string{"service": "/other", "md5sum": "abcd"}))
}
