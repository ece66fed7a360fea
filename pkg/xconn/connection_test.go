// SPDX-License-Identifier: GPL-3.0-or-later

package xconn

import (
	"net"
	"testing"

	"github.com/rosgo/roscore/pkg/transport"
	"github.com/rosgo/roscore/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConnections(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	ct := New(1, transport.NewStreamTransport(client, nil))
	st := New(2, transport.NewStreamTransport(server, nil))
	return ct, st
}

func TestConnectionHandshakeSucceeds(t *testing.T) {
	ct, st := pipeConnections(t)

	h := wire.Header{wire.KeyTopic: "/chat", wire.KeyMD5Sum: "abcd", wire.KeyType: "std_msgs/String"}
	errCh := make(chan error, 1)
	go func() { errCh <- ct.WriteHeader(h) }()

	got, err := st.ReadHeader(func(h wire.Header) error {
		return ValidatePublisherHeader("/chat", "abcd", "std_msgs/String", h)
	})
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	assert.Equal(t, h, got)
	assert.Equal(t, StateActive, st.State())
	assert.Equal(t, StateHeaderSent, ct.State())
}

func TestConnectionHandshakeValidationFailureDrops(t *testing.T) {
	ct, st := pipeConnections(t)

	h := wire.Header{wire.KeyTopic: "/chat", wire.KeyMD5Sum: "wrong"}
	errCh := make(chan error, 1)
	go func() {
		errCh <- ct.WriteHeader(h)
		// net.Pipe is unbuffered: drain the error=<reason> reply so the
		// server side's write of it can complete.
		_, _ = ct.Transport.ReadHeader()
	}()

	_, err := st.ReadHeader(func(h wire.Header) error {
		return ValidatePublisherHeader("/chat", "abcd", "std_msgs/String", h)
	})
	require.Error(t, err)
	require.NoError(t, <-errCh)
	assert.Equal(t, StateDropped, st.State())
}

func TestConnectionOnDropFiresOnce(t *testing.T) {
	ct, _ := pipeConnections(t)
	var calls int
	ct.OnDrop(func(error) { calls++ })
	require.NoError(t, ct.Close())
	ct.Close()
	assert.Equal(t, 1, calls)
}

func TestClassifyHeader(t *testing.T) {
	role, name, err := ClassifyHeader(wire.Header{wire.KeyTopic: "/scan"})
	require.NoError(t, err)
	assert.Equal(t, RoleSubscription, role)
	assert.Equal(t, "/scan", name)

	role, name, err = ClassifyHeader(wire.Header{wire.KeyService: "/add_two_ints"})
	require.NoError(t, err)
	assert.Equal(t, RoleServiceServer, role)
	assert.Equal(t, "/add_two_ints", name)

	_, _, err = ClassifyHeader(wire.Header{})
	assert.Error(t, err)
}

func TestValidateServiceHeaderWildcardMD5(t *testing.T) {
	assert.NoError(t, ValidateServiceHeader("/svc", "real-md5", wire.Header{
		wire.KeyService: "/svc",
		wire.KeyMD5Sum:  "*",
	}))
	assert.Error(t, ValidateServiceHeader("/svc", "real-md5", wire.Header{
		wire.KeyService: "/other",
		wire.KeyMD5Sum:  "*",
	}))
}
