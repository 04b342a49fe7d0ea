package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// Decoder decompresses Opus packets into 20 ms stereo frames.
//
// One instance per remote speaker; the decoder carries predictive state
// between frames and must never be shared.
type Decoder struct {
	dec *opus.Decoder
}

// NewDecoder creates a stereo decoder at the pipeline sample rate.
// Mono voice packets upmix to both channels on decode.
func NewDecoder() (*Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, PlaybackChannels)
	if err != nil {
		return nil, fmt.Errorf("codec: init decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode produces exactly one stereo frame (1920 interleaved samples)
// from packet. A decode error yields silence for this frame; decoder
// state is kept so the next packet decodes normally.
func (d *Decoder) Decode(packet []byte) []float32 {
	frame := make([]float32, FrameStereoSamples)
	if _, err := d.dec.DecodeFloat32(packet, frame); err != nil {
		for i := range frame {
			frame[i] = 0
		}
	}
	return frame
}

// DecodePLC synthesizes one concealed stereo frame for a lost packet.
func (d *Decoder) DecodePLC() []float32 {
	frame := make([]float32, FrameStereoSamples)
	if err := d.dec.DecodePLCFloat32(frame); err != nil {
		for i := range frame {
			frame[i] = 0
		}
	}
	return frame
}
