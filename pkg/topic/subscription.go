// SPDX-License-Identifier: GPL-3.0-or-later

package topic

import (
	"sync"

	"github.com/rosgo/roscore/pkg/callbackqueue"
	"github.com/rosgo/roscore/pkg/wire"
)

// pendingEntry tracks one posted-but-not-yet-run callback, so a
// subscriptionCallback can evict its oldest pending entry once it
// reaches its configured queue_size (spec §4.G).
type pendingEntry struct {
	id uint64
}

// subscriptionCallback is one handler registered via [Subscription.AddCallback],
// each with its own owner token, target queue, optional concurrency
// group, and FIFO bound.
type subscriptionCallback struct {
	owner     callbackqueue.OwnerToken
	queue     *callbackqueue.CallbackQueue
	group     any
	handler   func(msg any)
	queueSize int

	mu      sync.Mutex
	pending []*pendingEntry
}

// Subscription is the process-wide state for one subscribed topic: its
// type descriptor and the peer links plus local callbacks attached to
// it. Multiple calls to subscribe the same topic share one
// Subscription (spec §4.G "coalesce into one registration").
type Subscription struct {
	Topic      string
	Descriptor wire.Descriptor

	mu        sync.Mutex
	links     []*Link
	callbacks []*subscriptionCallback
}

// NewSubscription constructs an empty subscription.
func NewSubscription(topic string, descriptor wire.Descriptor) *Subscription {
	return &Subscription{Topic: topic, Descriptor: descriptor}
}

// AddCallback registers handler to run, posted to queue, for every
// message this subscription receives. group, if non-nil, is the
// concurrency-group tag a multi-threaded spinner uses to serialize
// callbacks from the same subscription. queueSize bounds how many
// pending (not yet run) entries this callback may have before the
// oldest is evicted; zero means unbounded.
func (s *Subscription) AddCallback(owner callbackqueue.OwnerToken, queue *callbackqueue.CallbackQueue, group any, queueSize int, handler func(msg any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, &subscriptionCallback{
		owner:     owner,
		queue:     queue,
		group:     group,
		handler:   handler,
		queueSize: queueSize,
	})
}

// RemoveCallbacksForOwner drops every callback registered with owner
// and erases its pending queue entries (spec §4.J).
func (s *Subscription) RemoveCallbacksForOwner(owner callbackqueue.OwnerToken) {
	s.mu.Lock()
	kept := s.callbacks[:0:0]
	var removed []*subscriptionCallback
	for _, cb := range s.callbacks {
		if cb.owner == owner {
			removed = append(removed, cb)
		} else {
			kept = append(kept, cb)
		}
	}
	s.callbacks = kept
	s.mu.Unlock()

	for _, cb := range removed {
		cb.queue.RemoveByOwner(owner)
	}
}

// AddLink attaches a peer link this subscription should receive frames
// from once the transport delivers them (the caller drives
// [Subscription.Deliver] from its own read loop per connection).
func (s *Subscription) AddLink(l *Link) {
	s.mu.Lock()
	s.links = append(s.links, l)
	s.mu.Unlock()
}

// RemoveLink detaches a peer link, e.g. once its connection drops.
func (s *Subscription) RemoveLink(l *Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.links {
		if cur == l {
			s.links = append(s.links[:i], s.links[i+1:]...)
			return
		}
	}
}

// Deliver handles one incoming message frame: for each registered
// callback, it posts one entry to that callback's queue holding a
// closure that lazily deserializes payload (memoized once per target
// queue, so callbacks sharing a queue don't each pay to decode the
// same frame) and then invokes the user handler.
func (s *Subscription) Deliver(payload []byte) {
	s.mu.Lock()
	callbacks := append([]*subscriptionCallback(nil), s.callbacks...)
	s.mu.Unlock()

	decoders := map[*callbackqueue.CallbackQueue]func() (any, error){}
	for _, cb := range callbacks {
		decode, ok := decoders[cb.queue]
		if !ok {
			decode = memoizeDecode(s.Descriptor, payload)
			decoders[cb.queue] = decode
		}
		cb.post(decode)
	}
}

func memoizeDecode(descriptor wire.Descriptor, payload []byte) func() (any, error) {
	var once sync.Once
	var msg any
	var err error
	return func() (any, error) {
		once.Do(func() {
			msg, err = descriptor.Deserialize(payload)
		})
		return msg, err
	}
}

func (cb *subscriptionCallback) post(decode func() (any, error)) {
	if cb.queueSize > 0 {
		cb.mu.Lock()
		if len(cb.pending) >= cb.queueSize {
			oldest := cb.pending[0]
			cb.pending = cb.pending[1:]
			cb.queue.Evict(oldest.id)
		}
		cb.mu.Unlock()
	}

	pe := &pendingEntry{}
	id := cb.queue.AddCallback(func() {
		msg, err := decode()
		if err == nil {
			cb.handler(msg)
		}
		cb.mu.Lock()
		for i, v := range cb.pending {
			if v == pe {
				cb.pending = append(cb.pending[:i], cb.pending[i+1:]...)
				break
			}
		}
		cb.mu.Unlock()
	}, cb.owner, cb.group)
	pe.id = id

	cb.mu.Lock()
	cb.pending = append(cb.pending, pe)
	cb.mu.Unlock()
}
