// Package codec frames raw PCM into 20 ms Opus packets and back.
//
// Opus is a stateful codec: every participant MUST have its own encoder
// and its own decoder instance, otherwise audible artifacts are
// guaranteed.
package codec

const (
	// SampleRate is the sampling rate per channel across the whole
	// pipeline.
	SampleRate = 48000

	// CaptureChannels is the microphone channel count.
	CaptureChannels = 1

	// PlaybackChannels is the speaker channel count (interleaved L,R).
	PlaybackChannels = 2

	// FrameSamples is the number of mono samples in one 20 ms frame.
	FrameSamples = (SampleRate / 1000) * 20

	// FrameStereoSamples is the number of interleaved samples in one
	// decoded 20 ms stereo frame.
	FrameStereoSamples = FrameSamples * PlaybackChannels

	// BitRate is the encoder target, as recommended per:
	// https://wiki.xiph.org/Opus_Recommended_Settings
	BitRate = 128000

	// MaxPacketBytes is the largest compressed frame the encoder may
	// produce (RFC 6716 single-frame ceiling). Voice datagrams stay
	// well under typical path MTU with it.
	MaxPacketBytes = 1275
)
