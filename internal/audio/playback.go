package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/TaPO4eg3D/hazel/internal/codec"
)

// playbackScratchSamples bounds the callback-side mix scratch: half a
// second of stereo audio. Larger device periods are filled in chunks.
const playbackScratchSamples = codec.SampleRate

// Playback owns the output device. Its realtime callback asks the
// mixer for the requested number of stereo pairs and stores them
// little-endian into the device buffer with an 8-byte frame stride.
//
// The device runs for the component's whole lifetime; while playback
// is disabled the callback still drains the mixer (so speaker queues
// do not back up) but writes silence.
type Playback struct {
	logger *zap.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mix Mixer

	enabled atomic.Bool
	volume  atomic.Uint32 // float32 bits, default 1.0

	// callback-owned; malgo invokes Data serially.
	scratch [playbackScratchSamples]float32
}

// Mixer fills an interleaved stereo slice on each device tick. The
// scheduler in internal/mixer satisfies this.
type Mixer interface {
	Mix(out []float32)
}

// NewPlayback opens the default output device at F32LE stereo 48 kHz
// and starts it immediately; it emits silence until frames arrive.
func NewPlayback(logger *zap.Logger, mix Mixer) (*Playback, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	p := &Playback{
		logger: logger,
		ctx:    ctx,
		mix:    mix,
	}
	p.enabled.Store(true)
	p.volume.Store(math.Float32bits(1.0))

	if err := p.initDevice(nil); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}

	return p, nil
}

func (p *Playback) initDevice(id *malgo.DeviceID) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = codec.PlaybackChannels
	cfg.SampleRate = codec.SampleRate
	cfg.PeriodSizeInMilliseconds = 20
	if id != nil {
		cfg.Playback.DeviceID = id.Pointer()
	}

	device, err := malgo.InitDevice(p.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: p.onFrames,
	})
	if err != nil {
		return fmt.Errorf("audio: init playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("audio: start playback device: %w", err)
	}

	p.device = device
	return nil
}

// onFrames is the realtime playback callback.
func (p *Playback) onFrames(output, _ []byte, frameCount uint32) {
	enabled := p.enabled.Load()
	vol := math.Float32frombits(p.volume.Load())

	total := int(frameCount) * codec.PlaybackChannels
	written := 0
	for written < total {
		n := total - written
		if n > len(p.scratch) {
			n = len(p.scratch)
		}

		p.mix.Mix(p.scratch[:n])

		for i := 0; i < n; i++ {
			var sample float32
			if enabled {
				sample = p.scratch[i] * vol
			}
			binary.LittleEndian.PutUint32(output[(written+i)*4:], math.Float32bits(sample))
		}
		written += n
	}
}

// SetEnabled toggles audible output. The mixer keeps being drained
// either way.
func (p *Playback) SetEnabled(value bool) {
	p.enabled.Store(value)
}

// Enabled reports whether output is audible.
func (p *Playback) Enabled() bool {
	return p.enabled.Load()
}

// SetVolume sets the playback master volume multiplier (1.0 = unity).
func (p *Playback) SetVolume(value float32) {
	if value < 0 {
		value = 0
	}
	p.volume.Store(math.Float32bits(value))
}

// UseDevice switches output to the given device.
func (p *Playback) UseDevice(id malgo.DeviceID) error {
	p.device.Stop()
	p.device.Uninit()
	return p.initDevice(&id)
}

// Close stops the output device.
func (p *Playback) Close() {
	if p.device != nil {
		p.device.Stop()
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}
