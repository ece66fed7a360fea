// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Header is the unordered string-to-string map exchanged as the first
// thing on every new connection (spec §3, §4.D, §6).
type Header map[string]string

// Required header keys per role, enumerated in spec §6.
const (
	KeyTopic             = "topic"
	KeyService           = "service"
	KeyMD5Sum            = "md5sum"
	KeyType              = "type"
	KeyCallerID          = "callerid"
	KeyTCPNoDelay        = "tcp_nodelay"
	KeyLatching          = "latching"
	KeyMessageDefinition = "message_definition"
	KeyPersistent        = "persistent"
	KeyRequestType       = "request_type"
	KeyResponseType      = "response_type"
	KeyError             = "error"
)

// Encode serializes h as a length-prefixed block of length-prefixed
// "key=value" records:
//
//	[4-byte little-endian total_length]
//	  repeated until total_length consumed:
//	    [4-byte little-endian field_length]
//	    [field_length bytes of "key=value"]
func (h Header) Encode() []byte {
	var body []byte
	for key, value := range h {
		field := key + "=" + value
		var lenbuf [4]byte
		binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(field)))
		body = append(body, lenbuf[:]...)
		body = append(body, field...)
	}
	var out []byte
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(body)))
	out = append(out, lenbuf[:]...)
	out = append(out, body...)
	return out
}

// DecodeHeader reads and decodes a [Header] from r.
func DecodeHeader(r io.Reader) (Header, error) {
	totalLength, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("wire: reading header total length: %w", err)
	}
	body := make([]byte, totalLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: reading header body: %w", err)
	}
	h := Header{}
	for len(body) > 0 {
		if len(body) < 4 {
			return nil, fmt.Errorf("wire: truncated header field length")
		}
		fieldLength := binary.LittleEndian.Uint32(body[:4])
		body = body[4:]
		if uint64(fieldLength) > uint64(len(body)) {
			return nil, fmt.Errorf("wire: truncated header field")
		}
		field := string(body[:fieldLength])
		body = body[fieldLength:]
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("wire: malformed header field %q", field)
		}
		h[key] = value
	}
	return h, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
