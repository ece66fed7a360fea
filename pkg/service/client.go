// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rosgo/roscore/pkg/transport"
	"github.com/rosgo/roscore/pkg/wire"
	"github.com/rosgo/roscore/pkg/xconn"
	"golang.org/x/sync/singleflight"
)

// Dialer abstracts dialing a stream connection to a service's server.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// DirectoryClient is the subset of [directory.Client] a service
// manager needs.
type DirectoryClient interface {
	LookupService(ctx context.Context, service string) (string, error)
}

// Manager looks up and calls services, coalescing concurrent lookups
// of the same name via [singleflight.Group] (spec §4.H).
type Manager struct {
	Directory DirectoryClient
	Dialer    Dialer
	CallerID  string

	lookupGroup singleflight.Group
}

// NewManager constructs a service manager.
func NewManager(directory DirectoryClient, dialer Dialer, callerID string) *Manager {
	return &Manager{Directory: directory, Dialer: dialer, CallerID: callerID}
}

// Client is a handle to one service: either a fresh connection per
// call (non-persistent) or one reused connection until [Client.Close]
// (persistent).
type Client struct {
	mgr        *Manager
	service    string
	md5sum     string
	persistent bool

	mu   sync.Mutex
	conn *xconn.Connection
}

// Dial resolves service via the directory and returns a [Client].
// persistent connections are established immediately and reused for
// every call; non-persistent clients dial fresh on every [Client.Call].
func (m *Manager) Dial(ctx context.Context, service, md5sum string, persistent bool) (*Client, error) {
	c := &Client{mgr: m, service: service, md5sum: md5sum, persistent: persistent}
	if persistent {
		conn, err := m.connect(ctx, service, md5sum)
		if err != nil {
			return nil, err
		}
		c.conn = conn
	}
	return c, nil
}

func (m *Manager) connect(ctx context.Context, service, md5sum string) (*xconn.Connection, error) {
	v, err, _ := m.lookupGroup.Do(service, func() (any, error) {
		return m.Directory.LookupService(ctx, service)
	})
	if err != nil {
		return nil, fmt.Errorf("service: looking up %s: %w", service, err)
	}
	uri, _ := v.(string)
	if uri == "" {
		return nil, fmt.Errorf("service: %s has no registered server", service)
	}

	host, port, err := parseServiceURI(uri)
	if err != nil {
		return nil, err
	}
	nc, err := m.Dialer.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("service: dialing %s: %w", uri, err)
	}
	st := transport.NewStreamTransport(nc, nil)
	conn := xconn.New(0, st)
	if err := conn.WriteHeader(wire.Header{
		wire.KeyService:  service,
		wire.KeyMD5Sum:   md5sum,
		wire.KeyCallerID: m.CallerID,
	}); err != nil {
		return nil, err
	}
	if _, err := conn.ReadHeader(nil); err != nil {
		return nil, err
	}
	return conn, nil
}

// Call sends request and blocks for the response.
func (c *Client) Call(ctx context.Context, request []byte) ([]byte, error) {
	conn, owned, err := c.connectionFor(ctx)
	if err != nil {
		return nil, err
	}
	if !owned {
		defer conn.Close()
	}

	if err := conn.WriteMessage(request); err != nil {
		return nil, fmt.Errorf("service: writing request to %s: %w", c.service, err)
	}
	payload, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("service: reading response from %s: %w", c.service, err)
	}
	ok, rest, err := DecodeResponse(payload)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("service: %s returned an error: %s", c.service, string(rest))
	}
	return rest, nil
}

// connectionFor returns the connection to use for one call: the
// client's own persistent connection, reused ("owned" is true so Call
// does not close it), or a fresh one-shot connection for a
// non-persistent client.
func (c *Client) connectionFor(ctx context.Context) (conn *xconn.Connection, owned bool, err error) {
	if c.persistent {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.conn, true, nil
	}
	conn, err = c.mgr.connect(ctx, c.service, c.md5sum)
	return conn, false, err
}

// Close drops the client's persistent connection, if any. Non-persistent
// clients have nothing to close between calls.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func parseServiceURI(uri string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(trimSchemeAndSlash(uri))
	if err != nil {
		return "", "", fmt.Errorf("service: malformed service URI %q: %w", uri, err)
	}
	return host, port, nil
}

func trimSchemeAndSlash(uri string) string {
	s := uri
	for _, scheme := range []string{"rosrpc://", "http://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			s = s[len(scheme):]
			break
		}
	}
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
