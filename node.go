// SPDX-License-Identifier: GPL-3.0-or-later

package roscore

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rosgo/roscore/pkg/callbackqueue"
	"github.com/rosgo/roscore/pkg/directory"
	"github.com/rosgo/roscore/pkg/metrics"
	"github.com/rosgo/roscore/pkg/names"
	"github.com/rosgo/roscore/pkg/paramcache"
	"github.com/rosgo/roscore/pkg/reactor"
	"github.com/rosgo/roscore/pkg/service"
	"github.com/rosgo/roscore/pkg/topic"
	"github.com/rosgo/roscore/pkg/wire"
	"github.com/rosgo/roscore/pkg/xconn"
)

// nodeState is one position in the uninitialized -> initialized ->
// started lifecycle.
type nodeState int32

const (
	stateUninitialized nodeState = iota
	stateInitialized
	stateStarted
	stateShutdown
)

// tickPeriod is how often the reactor reaps dropped connections.
const tickPeriod = 500 * time.Millisecond

// Node is one participant in the graph: it owns this process's
// publications, subscriptions, service servers and clients, and the
// connections and directory registrations that back them (spec §3).
//
// A Node moves through three phases. [Init] freezes its name,
// namespace, and directory URI. [Start] wires the reactor, directory
// client and callback server, topic and service managers, and the
// connection manager, then begins accepting connections. [Shutdown] is
// idempotent and may be called from any goroutine.
type Node struct {
	cfg    *Config
	logger SLogger

	state atomic.Int32

	name      string
	namespace string
	callerID  string
	masterURI string
	host      string
	remap     map[string]string

	Metrics *metrics.Registry
	Params  *paramcache.Cache

	reactor    *reactor.Reactor
	connMgr    *xconn.ConnectionManager
	dirClient  *directory.Client
	dirServer  *directory.Server
	topicMgr   *topic.Manager
	serviceMgr *service.Manager

	queue  *callbackqueue.CallbackQueue
	dialer *netDialer

	servicesMu sync.Mutex
	services   map[string]*service.Server
}

// Init resolves this node's name, namespace, and master URI from cfg
// and argv's remappings (spec §4.A), and returns the Node along with
// argv's non-remapping arguments for a CLI framework to parse. Init
// does not contact the directory or bind any socket; call [Node.Start]
// for that.
func Init(cfg *Config, argv []string) (*Node, []string, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	remap, special, rest := names.ParseRemappings(argv)
	for k, v := range cfg.Remappings {
		if _, ok := remap[k]; !ok {
			remap[k] = v
		}
	}

	namespace := cfg.Namespace
	if ns, ok := special[names.SpecialNS]; ok {
		namespace = ns
	}
	namespace = names.Clean(namespace)
	if namespace == "" {
		namespace = "/"
	}

	nodeName := cfg.NodeName
	if n, ok := special[names.SpecialName]; ok {
		nodeName = n
	}
	if nodeName == "" {
		return nil, nil, fmt.Errorf("%w: node name is required (set Config.NodeName or pass __name:=...)", ErrInvalidName)
	}
	fullName := names.Resolve(namespace, nodeName, false, nil, "")

	masterURI := cfg.MasterURI
	if m, ok := special[names.SpecialMaster]; ok {
		masterURI = m
	}
	if masterURI == "" {
		return nil, nil, fmt.Errorf("%w: a master URI is required (set Config.MasterURI, MASTER_URI, or __master:=...)", ErrInvalidName)
	}

	host := cfg.AdvertiseHost
	if ip, ok := special[names.SpecialIP]; ok {
		host = ip
	} else if hn, ok := special[names.SpecialHostname]; ok {
		host = hn
	}

	if l, ok := special[names.SpecialLog]; ok {
		cfg.LogDir = l
	}

	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	if cfg.ErrClassifier == nil {
		cfg.ErrClassifier = DefaultErrClassifier
	}
	if cfg.TimeNow == nil {
		cfg.TimeNow = time.Now
	}

	n := &Node{
		cfg:       cfg,
		logger:    DefaultSLogger(),
		name:      fullName,
		namespace: namespace,
		callerID:  fullName,
		masterURI: masterURI,
		host:      host,
		remap:     remap,
		Params:    paramcache.New(),
		queue:     callbackqueue.New(),
		services:  map[string]*service.Server{},
	}
	n.state.Store(int32(stateInitialized))
	return n, rest, nil
}

// SetLogger installs logger for every component this node owns.
// Must be called before [Node.Start].
func (n *Node) SetLogger(logger SLogger) {
	if logger != nil {
		n.logger = logger
	}
}

// EnableMetrics wires a fresh Prometheus registry into this node.
// Must be called before [Node.Start].
func (n *Node) EnableMetrics() *metrics.Registry {
	n.Metrics = metrics.NewRegistry()
	return n.Metrics
}

// Name returns this node's fully resolved name.
func (n *Node) Name() string { return n.name }

// Resolve resolves name against this node's namespace and remap table
// (spec §4.A).
func (n *Node) Resolve(name string) string {
	return names.Resolve(n.namespace, name, true, n.remap, n.name)
}

// Start wires the reactor, directory client and callback server, topic
// and service managers, and connection manager, then begins accepting
// connections. The directory callback server's URI becomes the caller
// URI sent with every later registration (spec §3, §4.F); Start itself
// makes no directory call.
func (n *Node) Start(ctx context.Context) error {
	if nodeState(n.state.Load()) != stateInitialized {
		return fmt.Errorf("roscore: Start called out of order")
	}

	n.reactor = reactor.New(tickPeriod)
	n.dialer = newNetDialer(n.reactor.Context(), n.cfg, n.logger)

	dirClient, err := directory.NewClient(n.masterURI, n.callerID, n.logger)
	if err != nil {
		return err
	}
	n.dirClient = dirClient

	n.dirServer = directory.NewServer(&directoryCallbacks{n: n}, n.logger)
	if err := n.dirServer.Start(n.host, n.reactor.Go); err != nil {
		return err
	}
	selfURI := n.dirServer.URI()

	n.topicMgr = topic.NewManager(topic.ManagerConfig{
		Directory: n.dirClient,
		Dialer:    n.dialer,
		SelfURI:   selfURI,
		CallerID:  n.callerID,
		Logger:    n.logger,
	})
	n.serviceMgr = service.NewManager(n.dirClient, n.dialer, n.callerID)

	n.connMgr = xconn.NewConnectionManager(n.host, n, n.logger)
	if err := n.connMgr.Start(n.reactor.Context(), n.reactor.Go); err != nil {
		return err
	}
	n.reactor.AddTickListener(n.connMgr)
	n.reactor.Start()

	n.reactor.Go(func(ctx context.Context) error {
		return callbackqueue.SingleThreadedSpinner(ctx, n.queue)
	})

	n.state.Store(int32(stateStarted))
	return nil
}

// NodeURI returns this node's own XML-RPC callback address, valid only
// once [Node.Start] has returned successfully.
func (n *Node) NodeURI() string {
	if n.dirServer == nil {
		return ""
	}
	return n.dirServer.URI()
}

// ok reports whether the node is initialized or started and has not
// begun shutting down, the precondition every public operation shares
// (spec §5, §8 property 5).
func (n *Node) ok() bool {
	s := nodeState(n.state.Load())
	return s == stateInitialized || s == stateStarted
}

// Advertise publishes topic with descriptor, returning a [Publisher]
// handle (spec §4.G).
func (n *Node) Advertise(ctx context.Context, topicName string, descriptor wire.Descriptor, latching bool) (*Publisher, error) {
	if !n.ok() {
		return nil, ErrShutdown
	}
	h, err := n.topicMgr.Advertise(ctx, n.Resolve(topicName), descriptor, latching)
	if err != nil {
		return nil, err
	}
	return &Publisher{h: h}, nil
}

// Subscribe registers handler for topic, running it on queue (the
// node's own queue if queue is nil), returning a [Subscriber] handle
// (spec §4.G).
func (n *Node) Subscribe(ctx context.Context, topicName string, descriptor wire.Descriptor, queue *callbackqueue.CallbackQueue, queueSize int, handler func(msg any)) (*Subscriber, error) {
	if !n.ok() {
		return nil, ErrShutdown
	}
	if queue == nil {
		queue = n.queue
	}
	resolved := n.Resolve(topicName)
	h, err := n.topicMgr.Subscribe(ctx, resolved, descriptor, queue, resolved, queueSize, handler)
	if err != nil {
		return nil, err
	}
	return &Subscriber{h: h}, nil
}

// AdvertiseService registers a service server for name, handled by fn
// on queue (the node's own queue if queue is nil), returning a
// [ServiceServerHandle] (spec §4.H).
func (n *Node) AdvertiseService(ctx context.Context, serviceName, md5sum string, queue *callbackqueue.CallbackQueue, fn service.Handler) (*ServiceServerHandle, error) {
	if !n.ok() {
		return nil, ErrShutdown
	}
	if queue == nil {
		queue = n.queue
	}
	resolved := n.Resolve(serviceName)

	n.servicesMu.Lock()
	if _, exists := n.services[resolved]; exists {
		n.servicesMu.Unlock()
		return nil, fmt.Errorf("roscore: service %s is already advertised by this node", resolved)
	}
	srv := service.NewServer(resolved, md5sum, fn, queue)
	n.services[resolved] = srv
	n.servicesMu.Unlock()

	selfURI := fmt.Sprintf("rosrpc://%s:%d", n.host, n.connMgr.StreamPort())
	if err := n.dirClient.RegisterService(ctx, resolved, selfURI, n.NodeURI()); err != nil {
		n.servicesMu.Lock()
		delete(n.services, resolved)
		n.servicesMu.Unlock()
		return nil, err
	}
	return &ServiceServerHandle{node: n, srv: srv}, nil
}

// Call dials service and invokes it once with request, per spec §4.H.
func (n *Node) Call(ctx context.Context, serviceName, md5sum string, request []byte) (response []byte, err error) {
	if !n.ok() {
		return nil, ErrShutdown
	}
	c, err := n.serviceMgr.Dial(ctx, n.Resolve(serviceName), md5sum, false)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Call(ctx, request)
}

// PersistentServiceClient dials service once and returns a [*service.Client]
// that reuses the connection for every subsequent [service.Client.Call]
// (spec §4.H).
func (n *Node) PersistentServiceClient(ctx context.Context, serviceName, md5sum string) (*service.Client, error) {
	if !n.ok() {
		return nil, ErrShutdown
	}
	return n.serviceMgr.Dial(ctx, n.Resolve(serviceName), md5sum, true)
}

// SetParam sets key to value, both locally and on the directory.
func (n *Node) SetParam(ctx context.Context, key string, value any) error {
	resolved := n.Resolve(key)
	if err := n.dirClient.SetParam(ctx, resolved, value); err != nil {
		return err
	}
	return n.Params.Set(resolved, value)
}

// GetParam fetches key, preferring the local cache and falling back to
// the directory on a cache miss.
func (n *Node) GetParam(ctx context.Context, key string) (any, error) {
	resolved := n.Resolve(key)
	if v, ok := n.Params.Get(resolved); ok {
		return v, nil
	}
	v, err := n.dirClient.GetParam(ctx, resolved)
	if err != nil {
		return nil, err
	}
	_ = n.Params.Set(resolved, v)
	return v, nil
}

// HandleAccepted implements [xconn.AcceptHandler]: it routes inbound
// subscriber connections to the topic manager and inbound service-call
// connections to the matching local service server (spec §4.E).
func (n *Node) HandleAccepted(conn *xconn.Connection, role xconn.Role, name string, header wire.Header) {
	span := NewSpanID()
	n.Metrics.ConnectionAccepted(roleLabel(role))
	switch role {
	case xconn.RoleSubscription:
		if err := n.topicMgr.AttachInboundLink(name, conn, header); err != nil {
			n.logger.Debug("roscore: rejected inbound subscriber", "span", span, "topic", name, "err", err)
		}
	case xconn.RoleServiceServer:
		n.servicesMu.Lock()
		srv, ok := n.services[name]
		n.servicesMu.Unlock()
		if !ok {
			n.logger.Debug("roscore: no local service", "span", span, "service", name)
			_ = conn.Transport.WriteHeader(wire.Header{wire.KeyError: fmt.Sprintf("roscore: no local service %q", name)})
			conn.Close()
			return
		}
		if err := srv.Validate(header); err != nil {
			n.logger.Debug("roscore: rejected service client", "span", span, "service", name, "err", err)
			_ = conn.Transport.WriteHeader(wire.Header{wire.KeyError: err.Error()})
			conn.Close()
			return
		}
		if err := conn.WriteHeader(wire.Header{
			wire.KeyCallerID: n.callerID,
			wire.KeyMD5Sum:   srv.MD5Sum,
		}); err != nil {
			return
		}
		n.logger.Debug("roscore: serving service call", "span", span, "service", name, "peer", conn.PeerEndpoint())
		go srv.Serve(conn)
	default:
		conn.Close()
	}
	conn.OnDrop(func(error) { n.Metrics.ConnectionDropped() })
}

// Shutdown idempotently tears the node down: it stops accepting new
// work, closes the connection manager's listeners and live connections
// and the directory callback server, joins every goroutine the reactor
// supervises, then disables and clears the node's callback queue (spec
// §3, §9 redesign note). Safe to call more than once and from any
// goroutine.
func (n *Node) Shutdown(ctx context.Context) error {
	wasStarted := n.state.CompareAndSwap(int32(stateStarted), int32(stateShutdown))
	if !wasStarted {
		if !n.state.CompareAndSwap(int32(stateInitialized), int32(stateShutdown)) {
			return nil // already shutting down or shut down
		}
		n.queue.Disable()
		n.queue.Clear()
		return nil // never started: nothing to join
	}
	err := n.reactor.Shutdown()
	n.queue.Disable()
	n.queue.Clear()
	return err
}

func roleLabel(role xconn.Role) string {
	switch role {
	case xconn.RolePublication:
		return "publication"
	case xconn.RoleSubscription:
		return "subscription"
	case xconn.RoleServiceServer:
		return "service_server"
	case xconn.RoleServiceClient:
		return "service_client"
	default:
		return "unknown"
	}
}

// directoryCallbacks adapts Node to [directory.Callbacks]. It is a
// separate type, rather than methods on *Node directly, because its
// Shutdown(callerID, reason string) signature collides with
// [Node.Shutdown]'s own lifecycle teardown signature.
type directoryCallbacks struct {
	n *Node
}

func (c *directoryCallbacks) PublisherUpdate(callerID, topicName string, publishers []string) (code int, message string) {
	c.n.topicMgr.OnPublisherUpdate(context.Background(), topicName, publishers)
	return 1, "publisherUpdate applied"
}

func (c *directoryCallbacks) RequestTopic(callerID, topicName string, protocols []any) (value any, code int, message string) {
	if !c.n.topicMgr.HasPublication(topicName) {
		return nil, 0, fmt.Sprintf("roscore: %s is not published by this node", topicName)
	}
	return []any{"TCPROS", c.n.host, c.n.connMgr.StreamPort()}, 1, "requestTopic ok"
}

func (c *directoryCallbacks) ParamUpdate(callerID, key string, value any) (code int, message string) {
	if err := c.n.Params.Set(key, value); err != nil {
		return 0, err.Error()
	}
	return 1, "paramUpdate applied"
}

func (c *directoryCallbacks) Shutdown(callerID, reason string) (code int, message string) {
	go c.n.Shutdown(context.Background())
	return 1, "shutting down"
}

// netDialer composes [ConnectFunc], [CancelWatchFunc], and
// [ObserveConnFunc] into the pipeline every outbound peer connection
// (subscribing to a publisher, calling a service) dials through, so
// those connections get the same context-bound lifetime and structured
// I/O logging as any other connection this package establishes. ctx is
// the reactor's context, so [Node.Shutdown] closes these connections.
type netDialer struct {
	ctx      context.Context
	pipeline Func[netip.AddrPort, net.Conn]
}

func newNetDialer(ctx context.Context, cfg *Config, logger SLogger) *netDialer {
	return &netDialer{
		ctx: ctx,
		pipeline: Compose3[netip.AddrPort, net.Conn, net.Conn, net.Conn](
			NewConnectFunc(cfg, "tcp", logger),
			NewCancelWatchFunc(),
			NewObserveConnFunc(cfg, logger),
		),
	}
}

// Dial implements [pkg/topic.Dialer] and [pkg/service.Dialer]. address
// must be a "host:port" pair; host is resolved to a numeric IP before
// entering the pipeline, since [netip.AddrPort] carries no hostname.
func (d *netDialer) Dial(network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("roscore: invalid dial address %q: %w", address, err)
	}
	ipAddr, err := net.ResolveIPAddr("ip", host)
	if err != nil {
		return nil, fmt.Errorf("roscore: resolving %q: %w", host, err)
	}
	addr, ok := netip.AddrFromSlice(ipAddr.IP.To16())
	if !ok {
		return nil, fmt.Errorf("roscore: unparsable resolved address for %q", host)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("roscore: invalid port %q: %w", port, err)
	}
	return d.pipeline.Call(d.ctx, netip.AddrPortFrom(addr.Unmap(), uint16(p)))
}
