// Package rpc implements the length-prefixed request/response/
// notification protocol spoken over the reliable server stream.
//
// Wire layout of one frame:
//
//	key_len  u8
//	key      key_len bytes, ASCII method name
//	tagged   u8 ∈ {0, 1}
//	uuid     16 bytes, present only when tagged = 1
//	body_len u32 little-endian
//	body     body_len bytes, MessagePack
//
// Tagged frames correlate a request with its response; untagged frames
// are fire-and-forget notifications.
package rpc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxKeyLen is the longest method name that fits the u8 prefix.
	MaxKeyLen = 255

	// MaxBodyBytes is the hard cap on a frame body. Anything larger is
	// a protocol violation and aborts the connection.
	MaxBodyBytes = 16 << 20
)

var (
	// ErrKeyTooLong reports a method name over MaxKeyLen bytes.
	ErrKeyTooLong = errors.New("rpc: method name too long")

	// ErrInvalidKey reports a received key that is not valid UTF-8.
	ErrInvalidKey = errors.New("rpc: key is not valid UTF-8")

	// ErrInvalidTag reports a tagged byte outside {0, 1}.
	ErrInvalidTag = errors.New("rpc: invalid tagged byte")

	// ErrBodyTooLarge reports a body length over MaxBodyBytes.
	ErrBodyTooLarge = errors.New("rpc: body exceeds size cap")
)

// frame is one parsed wire message.
type frame struct {
	key  string
	id   *uuid.UUID
	body []byte
}

// appendFrame serializes a frame onto buf.
func appendFrame(buf []byte, key string, id *uuid.UUID, body []byte) ([]byte, error) {
	if len(key) > MaxKeyLen {
		return nil, fmt.Errorf("%w: %q", ErrKeyTooLong, key)
	}

	buf = append(buf, byte(len(key)))
	buf = append(buf, key...)

	if id != nil {
		buf = append(buf, 1)
		buf = append(buf, id[:]...)
	} else {
		buf = append(buf, 0)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(body)))
	return append(buf, body...), nil
}

// readFrame parses the next frame off the stream. io.ReadFull makes
// the parser indifferent to how the TCP layer fragments the bytes.
func readFrame(br *bufio.Reader) (frame, error) {
	keyLen, err := br.ReadByte()
	if err != nil {
		return frame{}, err
	}

	key := make([]byte, int(keyLen))
	if _, err := io.ReadFull(br, key); err != nil {
		return frame{}, err
	}
	if !utf8.Valid(key) {
		return frame{}, ErrInvalidKey
	}

	tagged, err := br.ReadByte()
	if err != nil {
		return frame{}, err
	}

	var id *uuid.UUID
	switch tagged {
	case 0:
	case 1:
		var raw [16]byte
		if _, err := io.ReadFull(br, raw[:]); err != nil {
			return frame{}, err
		}
		u := uuid.UUID(raw)
		id = &u
	default:
		return frame{}, fmt.Errorf("%w: %d", ErrInvalidTag, tagged)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return frame{}, err
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if bodyLen > MaxBodyBytes {
		return frame{}, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(br, body); err != nil {
		return frame{}, err
	}

	return frame{key: string(key), id: id, body: body}, nil
}
