// SPDX-License-Identifier: GPL-3.0-or-later

// Package topic implements publish/subscribe: advertising and
// subscribing to topics, maintaining the set of peer links behind each,
// and the publish algorithm's serialize-once-fan-out (spec §4.G).
package topic

import (
	"sync"

	"github.com/rosgo/roscore/pkg/wire"
	"github.com/rosgo/roscore/pkg/xconn"
)

// LinkKind distinguishes how a publication talks to one peer.
type LinkKind int

const (
	LinkStream LinkKind = iota
	LinkDatagram
	LinkIntraProcess
)

// Link is one peer (or local subscriber) attached to a publication.
type Link struct {
	Kind LinkKind
	Conn *xconn.Connection // nil for LinkIntraProcess

	// SourceURI is the directory caller URI this link was dialed for,
	// set on a subscription's outbound links (LinkStream/LinkDatagram
	// connecting to a publisher). It is the namespace publisherUpdate
	// publishes in, which is not the same namespace as
	// Conn.PeerEndpoint() (a requestTopic-negotiated TCPROS/UDPROS
	// data endpoint): diffing against PeerEndpoint would never match
	// and every update would flap every link.
	SourceURI string

	// Deliver is set for LinkIntraProcess links: it hands the typed
	// message directly to the local subscription's callback path,
	// skipping serialization entirely (spec §4.G step 5).
	Deliver func(msg any)
}

// Publication is the advertised, process-wide state for one topic: its
// type descriptor, whether it latches, and the set of peer links
// currently attached to it.
type Publication struct {
	Topic      string
	Descriptor wire.Descriptor
	Latching   bool

	mu        sync.Mutex
	links     []*Link
	lastMsg   any
	hasLastMsg bool

	handleCount int
}

// NewPublication constructs an empty publication.
func NewPublication(topic string, descriptor wire.Descriptor, latching bool) *Publication {
	return &Publication{Topic: topic, Descriptor: descriptor, Latching: latching}
}

// AddLink attaches a new peer link, e.g. once a subscriber connects and
// its header has been validated. If the publication is latched and
// already has a cached message, the link receives it immediately
// (spec "A publisher may precede its first payload on a latching
// publication with the cached last message").
func (p *Publication) AddLink(l *Link) {
	p.mu.Lock()
	p.links = append(p.links, l)
	var latched any
	hasLatched := p.Latching && p.hasLastMsg
	if hasLatched {
		latched = p.lastMsg
	}
	p.mu.Unlock()

	if hasLatched {
		deliverToLink(l, p.Descriptor, latched)
	}
}

// RemoveLink detaches a link, e.g. once its connection drops.
func (p *Publication) RemoveLink(l *Link) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.links {
		if cur == l {
			p.links = append(p.links[:i], p.links[i+1:]...)
			return
		}
	}
}

// snapshotLinks copies the current link slice under the lock, so
// [Publication.Publish] never holds it across I/O (spec §4.G step 1).
func (p *Publication) snapshotLinks() []*Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Link(nil), p.links...)
}

// Publish runs the five-step publish algorithm against msg.
func (p *Publication) Publish(msg any) error {
	links := p.snapshotLinks()

	var streamPayload []byte
	var encodeErr error
	encodeOnce := func() ([]byte, error) {
		if streamPayload == nil && encodeErr == nil {
			streamPayload, encodeErr = p.Descriptor.Serialize(msg)
		}
		return streamPayload, encodeErr
	}

	for _, l := range links {
		switch l.Kind {
		case LinkStream, LinkDatagram:
			payload, err := encodeOnce()
			if err != nil {
				return err
			}
			if err := l.Conn.WriteMessage(payload); err != nil {
				continue // connection will drop itself and get reaped
			}
		case LinkIntraProcess:
			l.Deliver(msg)
		}
	}

	if p.Latching {
		p.mu.Lock()
		p.lastMsg = msg
		p.hasLastMsg = true
		p.mu.Unlock()
	}
	return nil
}

func deliverToLink(l *Link, descriptor wire.Descriptor, msg any) {
	switch l.Kind {
	case LinkStream, LinkDatagram:
		payload, err := descriptor.Serialize(msg)
		if err != nil {
			return
		}
		_ = l.Conn.WriteMessage(payload)
	case LinkIntraProcess:
		l.Deliver(msg)
	}
}
