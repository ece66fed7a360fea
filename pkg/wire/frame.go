// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeFrame encodes payload as a 4-byte little-endian length prefix
// followed by the payload bytes (spec §4.D, §6).
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// DecodeFrame reads one length-prefixed frame from r.
func DecodeFrame(r io.Reader) ([]byte, error) {
	length, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("wire: reading frame length: %w", err)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading frame payload: %w", err)
	}
	return payload, nil
}

// Fragment opcodes distinguish the first block of a datagram message
// (which also carries the connection header) from subsequent and
// terminal blocks (spec §6).
const (
	OpcodeFirst    uint8 = 1
	OpcodeMiddle   uint8 = 2
	OpcodeTerminal uint8 = 3
)

// FragmentHeaderSize is the on-the-wire size of [FragmentHeader].
const FragmentHeaderSize = 4 + 1 + 2 + 2 + 1

// FragmentHeader is the per-fragment envelope prefixing every datagram
// sent by [transport.DatagramTransport] (spec §4.B, §6).
type FragmentHeader struct {
	ConnectionID uint32
	MessageID    uint8
	BlockIndex   uint16
	BlockCount   uint16
	Opcode       uint8
}

// Encode serializes h into a fixed [FragmentHeaderSize]-byte buffer.
func (h FragmentHeader) Encode() []byte {
	buf := make([]byte, FragmentHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.ConnectionID)
	buf[4] = h.MessageID
	binary.LittleEndian.PutUint16(buf[5:7], h.BlockIndex)
	binary.LittleEndian.PutUint16(buf[7:9], h.BlockCount)
	buf[9] = h.Opcode
	return buf
}

// DecodeFragmentHeader decodes a [FragmentHeader] from the first
// [FragmentHeaderSize] bytes of buf, returning the remaining bytes as
// the fragment's payload.
func DecodeFragmentHeader(buf []byte) (FragmentHeader, []byte, error) {
	if len(buf) < FragmentHeaderSize {
		return FragmentHeader{}, nil, fmt.Errorf("wire: fragment shorter than header")
	}
	h := FragmentHeader{
		ConnectionID: binary.LittleEndian.Uint32(buf[0:4]),
		MessageID:    buf[4],
		BlockIndex:   binary.LittleEndian.Uint16(buf[5:7]),
		BlockCount:   binary.LittleEndian.Uint16(buf[7:9]),
		Opcode:       buf[9],
	}
	return h, buf[FragmentHeaderSize:], nil
}
