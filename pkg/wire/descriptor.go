// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire implements the on-the-wire formats this runtime uses to
// talk to peers: message type descriptors, the connection header codec,
// the message frame codec, and the datagram fragmentation envelope.
package wire

// WildcardMD5 is the md5 value that matches any other md5 during
// compatibility checks.
const WildcardMD5 = "*"

// Descriptor is the immutable tuple describing a message type (spec §3).
// User code supplies one per message type; the runtime never interprets
// Serialize/Deserialize's payload, it only moves bytes.
type Descriptor struct {
	// DataType is the type's stable name (e.g. "std_msgs/String").
	DataType string

	// MD5 is the type's schema fingerprint, or [WildcardMD5].
	MD5 string

	// Definition is the type's full definition string, sent to
	// subscribers as the message_definition header field.
	Definition string

	// IsFixedSize reports whether every instance serializes to the same
	// number of bytes.
	IsFixedSize bool

	// HasHeader reports whether instances carry a leading std_msgs/Header
	// (sequence number, timestamp, frame id).
	HasHeader bool

	// Serialize encodes a message value into an opaque byte payload.
	Serialize func(value any) ([]byte, error)

	// Deserialize decodes an opaque byte payload into a message value.
	Deserialize func(payload []byte) (any, error)
}

// Compatible reports whether two descriptors may be connected to each
// other: their md5 values are equal, or either side declares the
// wildcard md5.
func Compatible(a, b Descriptor) bool {
	if a.MD5 == WildcardMD5 || b.MD5 == WildcardMD5 {
		return true
	}
	return a.MD5 == b.MD5
}
