// Package wire defines the voice datagram layout.
//
// Every packet carries a fixed 7-byte header followed by the payload;
// all multibyte integers are little-endian:
//
//	offset 0  1 byte   type (0 = voice, 1 = ack)
//	offset 1  2 bytes  seq
//	offset 3  4 bytes  user id
//	offset 7  …        payload
//
// For voice packets the payload is a single compressed 20 ms frame, so
// a packet always fits one datagram.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// TypeVoice marks a compressed audio frame.
	TypeVoice byte = 0
	// TypeAck is reserved; the current mixer ignores it.
	TypeAck byte = 1

	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 7
)

// ErrShortPacket reports a datagram smaller than the fixed header.
var ErrShortPacket = errors.New("wire: packet shorter than header")

// Packet is one voice datagram. Seq increases monotonically per
// (user, session) and wraps at 2^16.
type Packet struct {
	Type    byte
	Seq     uint16
	UserID  int32
	Payload []byte
}

// AppendTo serializes the packet onto buf and returns the extended
// slice. Passing buf[:0] reuses the sender's scratch allocation.
func (p Packet) AppendTo(buf []byte) []byte {
	buf = append(buf, p.Type)
	buf = binary.LittleEndian.AppendUint16(buf, p.Seq)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.UserID))
	return append(buf, p.Payload...)
}

// Parse decodes one datagram. The payload is copied out of data, so the
// caller may reuse its receive buffer immediately.
func Parse(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}

	payload := make([]byte, len(data)-HeaderSize)
	copy(payload, data[HeaderSize:])

	return Packet{
		Type:    data[0],
		Seq:     binary.LittleEndian.Uint16(data[1:3]),
		UserID:  int32(binary.LittleEndian.Uint32(data[3:7])),
		Payload: payload,
	}, nil
}
