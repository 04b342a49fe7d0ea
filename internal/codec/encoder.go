package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// Encoder compresses mono 48 kHz PCM into Opus packets.
//
// Input slices may be of any length; samples are accumulated until a
// full 20 ms frame (960 samples) is available, so one call may emit
// zero, one or several packets.
type Encoder struct {
	enc *opus.Encoder

	// Leftover samples that did not yet fill a whole frame.
	pending []float32

	// Reused for every encoder pass.
	frame [FrameSamples]float32
	out   [MaxPacketBytes]byte
}

// NewEncoder creates a voice-tuned mono encoder at the pipeline bitrate.
func NewEncoder() (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, CaptureChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("codec: init encoder: %w", err)
	}
	if err := enc.SetBitrate(BitRate); err != nil {
		return nil, fmt.Errorf("codec: set bitrate: %w", err)
	}
	return &Encoder{enc: enc, pending: make([]float32, 0, FrameSamples*4)}, nil
}

// Encode appends pcm to the pending queue and drains it one frame at a
// time. Each returned packet is an independently owned byte slice.
//
// A compressor error discards the offending frame and keeps going; it
// is not fatal and the encoder state stays valid.
func (e *Encoder) Encode(pcm []float32) [][]byte {
	e.pending = append(e.pending, pcm...)

	var packets [][]byte
	for len(e.pending) >= FrameSamples {
		copy(e.frame[:], e.pending[:FrameSamples])
		n := copy(e.pending, e.pending[FrameSamples:])
		e.pending = e.pending[:n]

		written, err := e.enc.EncodeFloat32(e.frame[:], e.out[:])
		if err != nil {
			continue
		}

		packet := make([]byte, written)
		copy(packet, e.out[:written])
		packets = append(packets, packet)
	}

	return packets
}

// Pending returns how many samples are buffered below the frame
// boundary.
func (e *Encoder) Pending() int {
	return len(e.pending)
}
