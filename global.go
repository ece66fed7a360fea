// SPDX-License-Identifier: GPL-3.0-or-later

package roscore

import (
	"context"
	"os"
	"sync"

	"github.com/rosgo/roscore/pkg/wire"
)

// defaultNode is set once by [InitDefault], before any call to
// [Default]. defaultNodeOnce memoizes the first read of it, the
// thread-safe-initializer replacement spec §9 asks for in place of a
// double-checked-lock instance() accessor: every caller after the
// first gets the same cached *Node without re-acquiring a lock.
var (
	defaultNode     *Node
	defaultNodeOnce = sync.OnceValue(func() *Node {
		if defaultNode == nil {
			panic("roscore: Default called before InitDefault")
		}
		return defaultNode
	})
)

// InitDefault initializes the process-wide default node from cfg and
// os.Args[1:], the way a `main` package ordinarily calls [Init]. Call
// it at most once, before the first call to [Default]; use [Init]
// directly for multiple nodes in one process (tests, multi-node
// harnesses).
func InitDefault(cfg *Config) ([]string, error) {
	n, rest, err := Init(cfg, os.Args[1:])
	if err != nil {
		return nil, err
	}
	defaultNode = n
	return rest, nil
}

// Default returns the process-wide default [Node] set up by
// [InitDefault]. It panics if InitDefault has not run yet.
func Default() *Node {
	return defaultNodeOnce()
}

// StartDefault starts the process-wide default node (see [Node.Start]).
func StartDefault(ctx context.Context) error {
	return Default().Start(ctx)
}

// Advertise advertises topic on the process-wide default node.
func Advertise(ctx context.Context, topicName string, descriptor wire.Descriptor, latching bool) (*Publisher, error) {
	return Default().Advertise(ctx, topicName, descriptor, latching)
}

// Subscribe subscribes to topic on the process-wide default node, using
// the node's own callback queue.
func Subscribe(ctx context.Context, topicName string, descriptor wire.Descriptor, queueSize int, handler func(msg any)) (*Subscriber, error) {
	return Default().Subscribe(ctx, topicName, descriptor, nil, queueSize, handler)
}

// ShutdownDefault shuts down the process-wide default node.
func ShutdownDefault(ctx context.Context) error {
	return Default().Shutdown(ctx)
}
