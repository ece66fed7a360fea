// SPDX-License-Identifier: GPL-3.0-or-later

package topic

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rosgo/roscore/pkg/callbackqueue"
	"github.com/rosgo/roscore/pkg/transport"
	"github.com/rosgo/roscore/pkg/wire"
	"github.com/rosgo/roscore/pkg/xconn"
	"golang.org/x/sync/singleflight"
)

// SLogger is the narrow structured-logging seam the manager accepts.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// Dialer abstracts dialing a stream transport to a publisher.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// DirectoryClient is the subset of [directory.Client] the manager
// needs, named narrowly here so tests can substitute a fake without
// talking to a real master.
type DirectoryClient interface {
	RegisterPublisher(ctx context.Context, topic, msgType, selfURI string) ([]string, error)
	UnregisterPublisher(ctx context.Context, topic, selfURI string) error
	RegisterSubscriber(ctx context.Context, topic, msgType, selfURI string) ([]string, error)
	UnregisterSubscriber(ctx context.Context, topic, selfURI string) error
	RequestTopic(ctx context.Context, topicOwnerURI, topic string, protocols []any) (any, error)
}

// ManagerConfig carries everything [Manager] needs to talk to the
// directory and to peers.
type ManagerConfig struct {
	Directory DirectoryClient
	Dialer    Dialer
	SelfURI   string // this node's own directory callback URI
	CallerID  string
	Logger    SLogger
}

// Manager implements the public topic contract: advertise, subscribe,
// unadvertise, unsubscribe, publish (spec §4.G).
type Manager struct {
	cfg ManagerConfig

	mu            sync.Mutex
	publications  map[string]*Publication
	subscriptions map[string]*Subscription

	subGroup singleflight.Group
	nextID   atomic.Uint32
}

// NewManager constructs an empty topic manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Manager{
		cfg:           cfg,
		publications:  map[string]*Publication{},
		subscriptions: map[string]*Subscription{},
	}
}

// PublicationHandle is the user-facing reference-counted handle
// returned by [Manager.Advertise].
type PublicationHandle struct {
	mgr  *Manager
	pub  *Publication
	once sync.Once
}

// Publish publishes msg on the handle's publication.
func (h *PublicationHandle) Publish(msg any) error {
	return h.pub.Publish(msg)
}

// Close unadvertises, once the last handle for the topic is closed
// (spec §4.J: handle drop triggers unadvertise).
func (h *PublicationHandle) Close(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		err = h.mgr.unadvertise(ctx, h.pub)
	})
	return err
}

// SubscriptionHandle is the user-facing reference-counted handle
// returned by [Manager.Subscribe].
type SubscriptionHandle struct {
	mgr   *Manager
	sub   *Subscription
	owner callbackqueue.OwnerToken
	once  sync.Once
}

// Close removes this handle's callbacks and, once the subscription has
// no more callbacks, unsubscribes from the directory (spec §4.J).
func (h *SubscriptionHandle) Close(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		h.sub.RemoveCallbacksForOwner(h.owner)
		err = h.mgr.unsubscribeIfEmpty(ctx, h.sub)
	})
	return err
}

// Advertise registers topic as a publication. A second Advertise call
// for the same topic with a compatible descriptor returns another
// handle onto the same publication; an incompatible descriptor fails
// (spec §4.G).
func (m *Manager) Advertise(ctx context.Context, topic string, descriptor wire.Descriptor, latching bool) (*PublicationHandle, error) {
	m.mu.Lock()
	pub, exists := m.publications[topic]
	if exists {
		if !wire.Compatible(pub.Descriptor, descriptor) {
			m.mu.Unlock()
			return nil, fmt.Errorf("topic: %s already advertised with an incompatible type", topic)
		}
		pub.handleCount++
		m.mu.Unlock()
		return &PublicationHandle{mgr: m, pub: pub}, nil
	}
	pub = NewPublication(topic, descriptor, latching)
	pub.handleCount = 1
	m.publications[topic] = pub
	m.mu.Unlock()

	if _, err := m.cfg.Directory.RegisterPublisher(ctx, topic, descriptor.DataType, m.cfg.SelfURI); err != nil {
		m.mu.Lock()
		delete(m.publications, topic)
		m.mu.Unlock()
		return nil, err
	}
	return &PublicationHandle{mgr: m, pub: pub}, nil
}

// HasPublication reports whether topic is currently advertised locally,
// for answering the directory's requestTopic callback.
func (m *Manager) HasPublication(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.publications[topic]
	return ok
}

// AttachInboundLink validates an inbound subscriber's header against
// topic's local publication and, on success, sends back the
// publisher's response header and attaches conn as a stream link
// (spec §4.D/§6 "Publisher -> Subscriber" header). The caller owns
// conn up to this point; on failure AttachInboundLink closes it.
func (m *Manager) AttachInboundLink(topic string, conn *xconn.Connection, header wire.Header) error {
	m.mu.Lock()
	pub, ok := m.publications[topic]
	m.mu.Unlock()
	if !ok {
		conn.Close()
		return fmt.Errorf("topic: no local publication for %s", topic)
	}

	if err := xconn.ValidatePublisherHeader(pub.Topic, pub.Descriptor.MD5, pub.Descriptor.DataType, header); err != nil {
		_ = conn.Transport.WriteHeader(wire.Header{wire.KeyError: err.Error()})
		conn.Close()
		return err
	}

	response := wire.Header{
		wire.KeyType:     pub.Descriptor.DataType,
		wire.KeyMD5Sum:   pub.Descriptor.MD5,
		wire.KeyCallerID: m.cfg.CallerID,
	}
	if pub.Latching {
		response[wire.KeyLatching] = "1"
	}
	if err := conn.WriteHeader(response); err != nil {
		conn.Close()
		return err
	}

	l := &Link{Kind: LinkStream, Conn: conn}
	pub.AddLink(l)
	conn.Transport.OnDrop(func(error) { pub.RemoveLink(l) })
	return nil
}

func (m *Manager) unadvertise(ctx context.Context, pub *Publication) error {
	m.mu.Lock()
	pub.handleCount--
	last := pub.handleCount <= 0
	if last {
		delete(m.publications, pub.Topic)
	}
	m.mu.Unlock()
	if !last {
		return nil
	}
	return m.cfg.Directory.UnregisterPublisher(ctx, pub.Topic, m.cfg.SelfURI)
}

// Subscribe registers a callback for topic. Concurrent Subscribe calls
// for a topic not yet subscribed coalesce into one directory
// registration (spec §4.G).
func (m *Manager) Subscribe(ctx context.Context, topic string, descriptor wire.Descriptor, queue *callbackqueue.CallbackQueue, group any, queueSize int, handler func(msg any)) (*SubscriptionHandle, error) {
	m.mu.Lock()
	sub, exists := m.subscriptions[topic]
	if !exists {
		sub = NewSubscription(topic, descriptor)
		m.subscriptions[topic] = sub
	}
	m.mu.Unlock()

	owner := callbackqueue.NewOwnerToken()
	sub.AddCallback(owner, queue, group, queueSize, handler)

	if !exists {
		_, err, _ := m.subGroup.Do(topic, func() (any, error) {
			publishers, err := m.cfg.Directory.RegisterSubscriber(ctx, topic, descriptor.DataType, m.cfg.SelfURI)
			if err != nil {
				return nil, err
			}
			for _, uri := range publishers {
				if connErr := m.connectToPublisher(ctx, sub, uri); connErr != nil {
					m.cfg.Logger.Debug("topic: failed to connect to publisher", "topic", topic, "uri", uri, "err", connErr)
				}
			}
			return nil, nil
		})
		if err != nil {
			m.mu.Lock()
			delete(m.subscriptions, topic)
			m.mu.Unlock()
			return nil, err
		}
	}
	return &SubscriptionHandle{mgr: m, sub: sub, owner: owner}, nil
}

func (m *Manager) unsubscribeIfEmpty(ctx context.Context, sub *Subscription) error {
	sub.mu.Lock()
	empty := len(sub.callbacks) == 0
	sub.mu.Unlock()
	if !empty {
		return nil
	}
	m.mu.Lock()
	delete(m.subscriptions, sub.Topic)
	m.mu.Unlock()
	return m.cfg.Directory.UnregisterSubscriber(ctx, sub.Topic, m.cfg.SelfURI)
}

// OnPublisherUpdate implements the directory.Callbacks half of
// publisherUpdate: it diffs the new publisher list against currently
// attached links and opens/closes connections accordingly (spec §4.G
// step 4).
func (m *Manager) OnPublisherUpdate(ctx context.Context, topic string, publishers []string) {
	m.mu.Lock()
	sub, ok := m.subscriptions[topic]
	m.mu.Unlock()
	if !ok {
		return
	}

	want := map[string]bool{}
	for _, uri := range publishers {
		want[uri] = true
	}

	sub.mu.Lock()
	haveLinks := append([]*Link(nil), sub.links...)
	sub.mu.Unlock()

	have := map[string]*Link{}
	for _, l := range haveLinks {
		if l.Conn != nil && l.SourceURI != "" {
			have[l.SourceURI] = l
		}
	}

	for uri := range want {
		if _, ok := have[uri]; !ok {
			if err := m.connectToPublisher(ctx, sub, uri); err != nil {
				m.cfg.Logger.Debug("topic: failed to connect to new publisher", "topic", topic, "uri", uri, "err", err)
			}
		}
	}
	for uri, l := range have {
		if !want[uri] {
			sub.RemoveLink(l)
			l.Conn.Close()
		}
	}
}

func (m *Manager) connectToPublisher(ctx context.Context, sub *Subscription, publisherURI string) error {
	v, err := m.cfg.Directory.RequestTopic(ctx, publisherURI, sub.Topic, []any{[]any{"TCPROS"}})
	if err != nil {
		return fmt.Errorf("topic: requestTopic to %s: %w", publisherURI, err)
	}
	params, ok := v.([]any)
	if !ok || len(params) < 3 {
		return fmt.Errorf("topic: malformed requestTopic reply from %s", publisherURI)
	}
	host, _ := params[1].(string)
	port, _ := params[2].(int)
	address := net.JoinHostPort(host, fmt.Sprint(port))

	nc, err := m.cfg.Dialer.Dial("tcp", address)
	if err != nil {
		return fmt.Errorf("topic: dialing publisher %s: %w", address, err)
	}
	st := transport.NewStreamTransport(nc, nil)
	conn := xconn.New(m.nextID.Add(1), st)

	if err := conn.WriteHeader(wire.Header{
		wire.KeyTopic:    sub.Topic,
		wire.KeyMD5Sum:   sub.Descriptor.MD5,
		wire.KeyType:     sub.Descriptor.DataType,
		wire.KeyCallerID: m.cfg.CallerID,
	}); err != nil {
		return err
	}
	if _, err := conn.ReadHeader(nil); err != nil {
		return err
	}

	l := &Link{Kind: LinkStream, Conn: conn, SourceURI: publisherURI}
	sub.AddLink(l)
	conn.Transport.OnDrop(func(error) { sub.RemoveLink(l) })

	go func() {
		for {
			payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			sub.Deliver(payload)
		}
	}()
	return nil
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
