package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine440(samples int) []float32 {
	pcm := make([]float32, samples)
	for i := range pcm {
		pcm[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return pcm
}

func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestEncoderFraming(t *testing.T) {
	enc, err := NewEncoder()
	require.NoError(t, err)

	// Below one frame: nothing comes out yet.
	packets := enc.Encode(make([]float32, FrameSamples-1))
	assert.Empty(t, packets)
	assert.Equal(t, FrameSamples-1, enc.Pending())

	// One more sample completes the frame.
	packets = enc.Encode(make([]float32, 1))
	require.Len(t, packets, 1)
	assert.Equal(t, 0, enc.Pending())
	assert.LessOrEqual(t, len(packets[0]), MaxPacketBytes)

	// A large slice drains frame by frame.
	packets = enc.Encode(make([]float32, FrameSamples*3+100))
	require.Len(t, packets, 3)
	assert.Equal(t, 100, enc.Pending())
}

func TestEncoderOddBatchSizes(t *testing.T) {
	enc, err := NewEncoder()
	require.NoError(t, err)

	// 10 frames delivered in awkward chunks still produce 10 packets.
	pcm := sine440(FrameSamples * 10)
	var packets [][]byte
	for len(pcm) > 0 {
		n := 313
		if n > len(pcm) {
			n = len(pcm)
		}
		packets = append(packets, enc.Encode(pcm[:n])...)
		pcm = pcm[n:]
	}
	assert.Len(t, packets, 10)
	assert.Equal(t, 0, enc.Pending())
}

func TestDecoderFrameLength(t *testing.T) {
	enc, err := NewEncoder()
	require.NoError(t, err)
	dec, err := NewDecoder()
	require.NoError(t, err)

	packets := enc.Encode(sine440(FrameSamples))
	require.Len(t, packets, 1)

	frame := dec.Decode(packets[0])
	assert.Len(t, frame, FrameStereoSamples)
}

func TestDecoderPLCFrameLength(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	frame := dec.DecodePLC()
	assert.Len(t, frame, FrameStereoSamples)
}

func TestDecoderBadPacketYieldsSilence(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	frame := dec.Decode([]byte{0xff, 0x00, 0xde, 0xad})
	require.Len(t, frame, FrameStereoSamples)
	for _, s := range frame {
		require.Zero(t, s)
	}

	// State survived: a real packet still decodes afterwards.
	enc, err := NewEncoder()
	require.NoError(t, err)
	packets := enc.Encode(sine440(FrameSamples))
	require.Len(t, packets, 1)
	assert.Len(t, dec.Decode(packets[0]), FrameStereoSamples)
}

// TestRoundTripRMS checks a 440 Hz tone survives encode→decode with
// RMS within 10 % of the input, past the decoder look-ahead.
func TestRoundTripRMS(t *testing.T) {
	enc, err := NewEncoder()
	require.NoError(t, err)
	dec, err := NewDecoder()
	require.NoError(t, err)

	const frames = 50
	input := sine440(FrameSamples * frames)

	var decoded []float32
	for i := 0; i < frames; i++ {
		packets := enc.Encode(input[i*FrameSamples : (i+1)*FrameSamples])
		require.Len(t, packets, 1)
		decoded = append(decoded, dec.Decode(packets[0])...)
	}
	require.Len(t, decoded, FrameStereoSamples*frames)

	// Skip the first 5 frames on both sides: codec look-ahead.
	const skip = 5
	want := rms(input[skip*FrameSamples:])
	got := rms(decoded[skip*FrameStereoSamples:])

	assert.InDelta(t, want, got, want*0.10,
		"round-trip RMS drifted: want %f got %f", want, got)
}
