// SPDX-License-Identifier: GPL-3.0-or-later

package roscore

import (
	"context"
	"fmt"

	"github.com/rosgo/roscore/pkg/service"
	"github.com/rosgo/roscore/pkg/topic"
)

// Publisher is a handle onto one advertised topic. Closing the last
// Publisher handle for a topic unadvertises it (spec §4.J).
type Publisher struct {
	h *topic.PublicationHandle
}

// Publish sends msg to every current subscriber link.
func (p *Publisher) Publish(msg any) error {
	return p.h.Publish(msg)
}

// Close releases this handle. Once every handle for the topic has been
// closed, the topic is unadvertised with the directory.
func (p *Publisher) Close(ctx context.Context) error {
	return p.h.Close(ctx)
}

// Subscriber is a handle onto one subscribed callback. Closing it
// removes that callback; once a topic has no more callbacks, the
// subscription is dropped with the directory (spec §4.J).
type Subscriber struct {
	h *topic.SubscriptionHandle
}

// Close releases this handle's callback.
func (s *Subscriber) Close(ctx context.Context) error {
	return s.h.Close(ctx)
}

// ServiceServerHandle is a handle onto one advertised service. It
// performs the same three-step teardown [Publisher] and [Subscriber]
// get from [pkg/topic] directly, spelled out here because
// [pkg/service.Server] has no handle abstraction of its own: first the
// server's pending callbacks are synchronously erased so no callback
// fires after Close returns, then the server is removed from the
// node's dispatch table so newly accepted connections stop finding it,
// then the service is unregistered with the directory (spec §4.J).
type ServiceServerHandle struct {
	node *Node
	srv  *service.Server
}

// Close implements the teardown described above.
func (h *ServiceServerHandle) Close(ctx context.Context) error {
	h.srv.Queue.RemoveByOwner(h.srv.Owner)

	h.node.servicesMu.Lock()
	delete(h.node.services, h.srv.Name)
	h.node.servicesMu.Unlock()

	serviceURI := fmt.Sprintf("rosrpc://%s:%d", h.node.host, h.node.connMgr.StreamPort())
	return h.node.dirClient.UnregisterService(ctx, h.srv.Name, serviceURI)
}
