package rpc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oneByteReader fragments the stream as hard as TCP ever could.
type oneByteReader struct {
	r io.Reader
}

func (r oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return r.r.Read(p)
}

func TestFrameRoundTrip(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name string
		key  string
		id   *uuid.UUID
		body []byte
	}{
		{"tagged", "JoinVoiceChannel", &id, []byte{0x81, 0xa1, 0x61, 0x01}},
		{"untagged", "VoiceChannelUpdate", nil, []byte{0x01, 0x02}},
		{"empty body", "GetUdpPort", &id, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := appendFrame(nil, tt.key, tt.id, tt.body)
			require.NoError(t, err)

			got, err := readFrame(bufio.NewReader(bytes.NewReader(data)))
			require.NoError(t, err)
			assert.Equal(t, tt.key, got.key)
			assert.Equal(t, tt.id, got.id)
			assert.Equal(t, tt.body, got.body)
		})
	}
}

// TestFrameFragmentedStream feeds multiple frames one byte at a time;
// the parser must be indifferent to fragmentation boundaries.
func TestFrameFragmentedStream(t *testing.T) {
	id := uuid.New()

	var stream []byte
	for i := 0; i < 3; i++ {
		data, err := appendFrame(nil, "GetVoiceChannels", &id, bytes.Repeat([]byte{byte(i)}, 100+i))
		require.NoError(t, err)
		stream = append(stream, data...)
	}

	br := bufio.NewReader(oneByteReader{bytes.NewReader(stream)})
	for i := 0; i < 3; i++ {
		f, err := readFrame(br)
		require.NoError(t, err)
		assert.Equal(t, "GetVoiceChannels", f.key)
		require.Equal(t, &id, f.id)
		assert.Len(t, f.body, 100+i)
	}

	_, err := readFrame(br)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameKeyTooLong(t *testing.T) {
	long := bytes.Repeat([]byte{'a'}, MaxKeyLen+1)
	_, err := appendFrame(nil, string(long), nil, nil)
	assert.ErrorIs(t, err, ErrKeyTooLong)
}

func TestFrameInvalidKeyAborts(t *testing.T) {
	data := []byte{2, 0xff, 0xfe, 0, 0, 0, 0, 0}
	_, err := readFrame(bufio.NewReader(bytes.NewReader(data)))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFrameInvalidTagAborts(t *testing.T) {
	data := []byte{1, 'A', 2}
	_, err := readFrame(bufio.NewReader(bytes.NewReader(data)))
	assert.ErrorIs(t, err, ErrInvalidTag)
}

func TestFrameBodyCapAborts(t *testing.T) {
	var data []byte
	data = append(data, 1, 'A', 0)
	data = binary.LittleEndian.AppendUint32(data, MaxBodyBytes+1)

	_, err := readFrame(bufio.NewReader(bytes.NewReader(data)))
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}
