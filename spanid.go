// SPDX-License-Identifier: GPL-3.0-or-later

package roscore

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// A span is a sequence of operations that can fail in a single, specific
// way: opening a peer connection and exchanging its header, or a single
// directory RPC call. Attach the span ID to the logger for that operation
// so every event it emits correlates.
//
// The span terminology is borrowed from OTel.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
