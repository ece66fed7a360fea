// SPDX-License-Identifier: GPL-3.0-or-later

// Package directory implements the RPC client and server halves of the
// relationship with the master: the client issues registration and
// lookup calls, and the server accepts the master's own callbacks
// (publisherUpdate, requestTopic, paramUpdate, shutdown).
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/renier/xmlrpc"
)

// SLogger is the narrow structured-logging seam the client accepts.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// Client is a structured-value RPC client to the master (spec §4.F,
// §6). Every call is positional, mirroring the master API: the caller
// id always comes first, and the reply is always a three-element
// [code, statusMessage, value] tuple.
type Client struct {
	rpc      *xmlrpc.Client
	callerID string
	logger   SLogger

	now func() time.Time
}

// NewClient dials masterURI (an "http://host:port" URI). callerID is
// sent as the first positional argument of every call.
func NewClient(masterURI, callerID string, logger SLogger) (*Client, error) {
	rpc, err := xmlrpc.NewClient(masterURI, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: dialing master %s: %w", masterURI, err)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{rpc: rpc, callerID: callerID, logger: logger, now: time.Now}, nil
}

// reply is the master's uniform [code int, statusMessage string, value
// any] response envelope.
type reply struct {
	Code    int
	Message string
	Value   any
}

func decodeReply(raw []any) (reply, error) {
	if len(raw) != 3 {
		return reply{}, fmt.Errorf("directory: malformed reply, want 3 elements, got %d", len(raw))
	}
	code, ok := raw[0].(int)
	if !ok {
		if f, ok2 := raw[0].(float64); ok2 {
			code = int(f)
		} else {
			return reply{}, fmt.Errorf("directory: reply code is not numeric: %T", raw[0])
		}
	}
	msg, _ := raw[1].(string)
	return reply{Code: code, Message: msg, Value: raw[2]}, nil
}

// call issues method with args prefixed by the client's caller id and
// decodes the standard three-element reply envelope. A non-success
// code is reported as an error carrying the master's status message.
// Registration methods retry an unreachable master with
// [NewBackoffSchedule] until they succeed or ctx is done; every other
// method fails on the first error.
func (c *Client) call(ctx context.Context, method string, args ...any) (any, error) {
	full := append([]any{c.callerID}, args...)
	var raw []any
	attempt := func() error {
		raw = nil
		if err := c.rpc.Call(method, full, &raw); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMasterUnreachable, method, err)
		}
		return nil
	}
	var err error
	if strings.HasPrefix(method, "register") {
		err = Register(NewBackoffSchedule(), time.Sleep, ctx.Done(), attempt)
	} else {
		err = attempt()
	}
	if err != nil {
		return nil, err
	}
	r, err := decodeReply(raw)
	if err != nil {
		return nil, err
	}
	if r.Code != 1 {
		return nil, fmt.Errorf("directory: %s failed (code %d): %s", method, r.Code, r.Message)
	}
	c.logger.Debug("directory: call succeeded", "method", method)
	return r.Value, nil
}

// RegisterPublisher registers callerID as a publisher of topic with
// msgType, advertising selfURI as the node's own XML-RPC callback
// address, and returns the current list of subscriber node URIs.
func (c *Client) RegisterPublisher(ctx context.Context, topic, msgType, selfURI string) ([]string, error) {
	v, err := c.call(ctx, "registerPublisher", topic, msgType, selfURI)
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

// UnregisterPublisher unregisters callerID as a publisher of topic.
func (c *Client) UnregisterPublisher(ctx context.Context, topic, selfURI string) error {
	_, err := c.call(ctx, "unregisterPublisher", topic, selfURI)
	return err
}

// RegisterSubscriber registers callerID as a subscriber of topic and
// returns the current list of publisher URIs.
func (c *Client) RegisterSubscriber(ctx context.Context, topic, msgType, selfURI string) ([]string, error) {
	v, err := c.call(ctx, "registerSubscriber", topic, msgType, selfURI)
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

// UnregisterSubscriber unregisters callerID as a subscriber of topic.
func (c *Client) UnregisterSubscriber(ctx context.Context, topic, selfURI string) error {
	_, err := c.call(ctx, "unregisterSubscriber", topic, selfURI)
	return err
}

// RegisterService registers callerID as the server for service at
// serviceURI, advertising selfURI as the node's own XML-RPC address.
func (c *Client) RegisterService(ctx context.Context, service, serviceURI, selfURI string) error {
	_, err := c.call(ctx, "registerService", service, serviceURI, selfURI)
	return err
}

// UnregisterService unregisters callerID as the server for service.
func (c *Client) UnregisterService(ctx context.Context, service, serviceURI string) error {
	_, err := c.call(ctx, "unregisterService", service, serviceURI)
	return err
}

// LookupService resolves service to its server's URI.
func (c *Client) LookupService(ctx context.Context, service string) (string, error) {
	v, err := c.call(ctx, "lookupService", service)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// GetParam fetches key's current value.
func (c *Client) GetParam(ctx context.Context, key string) (any, error) {
	return c.call(ctx, "getParam", key)
}

// SetParam sets key to value.
func (c *Client) SetParam(ctx context.Context, key string, value any) error {
	_, err := c.call(ctx, "setParam", key, value)
	return err
}

// DeleteParam removes key.
func (c *Client) DeleteParam(ctx context.Context, key string) error {
	_, err := c.call(ctx, "deleteParam", key)
	return err
}

// HasParam reports whether key exists.
func (c *Client) HasParam(ctx context.Context, key string) (bool, error) {
	v, err := c.call(ctx, "hasParam", key)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// SearchParam finds the closest namespace ancestor of key that has a
// parameter with that base name set, and returns its fully resolved name.
func (c *Client) SearchParam(ctx context.Context, key string) (string, error) {
	v, err := c.call(ctx, "searchParam", key)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// SubscribeParam registers selfURI to receive paramUpdate callbacks for
// key, and returns its current value.
func (c *Client) SubscribeParam(ctx context.Context, key, selfURI string) (any, error) {
	return c.call(ctx, "subscribeParam", selfURI, key)
}

// RequestTopic asks the publisher at topicOwnerURI how to connect to
// topic, offering protocols in preference order (e.g. ["TCPROS"] or
// ["TCPROS", "UDPROS"]), and returns the chosen protocol parameters.
func (c *Client) RequestTopic(ctx context.Context, topicOwnerURI, topic string, protocols []any) (any, error) {
	rpc, err := xmlrpc.NewClient(topicOwnerURI, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %w", ErrMasterUnreachable, topicOwnerURI, err)
	}
	var raw []any
	if err := rpc.Call("requestTopic", []any{c.callerID, topic, protocols}, &raw); err != nil {
		return nil, fmt.Errorf("%w: requestTopic: %w", ErrMasterUnreachable, err)
	}
	r, err := decodeReply(raw)
	if err != nil {
		return nil, err
	}
	if r.Code != 1 {
		return nil, fmt.Errorf("directory: requestTopic failed (code %d): %s", r.Code, r.Message)
	}
	return r.Value, nil
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
