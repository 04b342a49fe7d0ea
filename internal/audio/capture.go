// Package audio owns the device boundary: microphone capture, speaker
// playback and device enumeration, built on malgo (miniaudio).
//
// Device callbacks run on realtime threads the application does not
// own. The only operations permitted there are bounded copies, atomic
// index updates and a non-blocking notifier signal: no locks, no
// allocation, no logging.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/TaPO4eg3D/hazel/internal/codec"
)

const (
	// captureRingSamples is the capture ring capacity: two seconds of
	// mono audio.
	captureRingSamples = codec.SampleRate * 2

	// pullBatchSamples is the most the pull loop pops per wakeup: one
	// second of mono audio.
	pullBatchSamples = codec.SampleRate

	// subscriberQueueBatches bounds each subscriber's inbound queue.
	// A full queue drops the newest batch for that subscriber only.
	subscriberQueueBatches = 32

	// callbackMaxSamples bounds the callback-side conversion scratch.
	callbackMaxSamples = 4096
)

// Subscriber is one consumer of captured audio. Every subscriber owns
// its own encoder (Opus state is per-destination) and may carry a
// preprocessing stage applied before encoding.
type Subscriber struct {
	id  int
	c   chan []float32
	enc *codec.Encoder
	pre func([]float32) []float32

	dropped atomic.Uint64

	capture   *Capture
	closeOnce sync.Once
}

// RecvEncoded blocks for the next sample batch, runs it through the
// preprocess stage and the subscriber's encoder, and returns the
// packets produced. ok is false once done is closed or the subscriber
// is closed.
func (s *Subscriber) RecvEncoded(done <-chan struct{}) ([][]byte, bool) {
	select {
	case batch, open := <-s.c:
		if !open {
			return nil, false
		}
		if s.pre != nil {
			batch = s.pre(batch)
			if batch == nil {
				return nil, true
			}
		}
		return s.enc.Encode(batch), true
	case <-done:
		return nil, false
	}
}

// Dropped returns how many batches were dropped because this
// subscriber fell behind.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscriber. Closing the last subscriber
// disables capture.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.capture.unsubscribe(s.id)
	})
}

// Capture pulls PCM from the active input device and fans it out to
// subscribers.
//
// The device callback pushes samples into an SPSC ring and signals a
// one-slot notifier; a dedicated pull goroutine drains the ring and
// broadcasts batches over bounded channels. The broadcast is lossy: a
// slow subscriber loses batches, the others are unaffected.
type Capture struct {
	logger *zap.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	ring   *Ring
	notify chan struct{}

	enabled atomic.Bool
	started atomic.Bool
	wake    chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup

	volume atomic.Uint32 // float32 bits, default 1.0

	mu     sync.Mutex
	subs   map[int]*Subscriber
	nextID int

	// callback-owned conversion scratch; malgo invokes Data serially.
	scratch [callbackMaxSamples]float32
}

// NewCapture initializes the default input device at F32LE mono
// 48 kHz. The device stays stopped until SetEnabled(true).
func NewCapture(logger *zap.Logger) (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	c := &Capture{
		logger: logger,
		ctx:    ctx,
		ring:   NewRing(captureRingSamples),
		notify: make(chan struct{}, 1),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		subs:   make(map[int]*Subscriber),
	}
	c.volume.Store(math.Float32bits(1.0))

	if err := c.initDevice(nil); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}

	c.wg.Add(1)
	go c.pullLoop()

	return c, nil
}

func (c *Capture) initDevice(id *malgo.DeviceID) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = codec.CaptureChannels
	cfg.SampleRate = codec.SampleRate
	cfg.PeriodSizeInMilliseconds = 20
	if id != nil {
		cfg.Capture.DeviceID = id.Pointer()
	}

	device, err := malgo.InitDevice(c.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: c.onFrames,
	})
	if err != nil {
		return fmt.Errorf("audio: init capture device: %w", err)
	}

	c.device = device
	return nil
}

// onFrames is the realtime capture callback.
func (c *Capture) onFrames(_, input []byte, frameCount uint32) {
	n := int(frameCount)
	if n > len(c.scratch) {
		n = len(c.scratch)
	}
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(input[i*4:])
		c.scratch[i] = math.Float32frombits(bits)
	}

	c.ring.TryPush(c.scratch[:n])

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// pullLoop parks while capture is disabled, otherwise waits on the
// notifier, drains the ring and broadcasts to subscribers.
func (c *Capture) pullLoop() {
	defer c.wg.Done()

	buf := make([]float32, pullBatchSamples)

	for {
		if !c.enabled.Load() {
			select {
			case <-c.stop:
				return
			case <-c.wake:
			}
			continue
		}

		select {
		case <-c.stop:
			return
		case <-c.notify:
		}

		n := c.ring.Pop(buf)
		if n == 0 {
			continue
		}

		if vol := math.Float32frombits(c.volume.Load()); vol != 1.0 {
			for i := 0; i < n; i++ {
				buf[i] *= vol
			}
		}

		c.broadcast(buf[:n])
	}
}

// broadcast hands one sample batch to every subscriber. Each gets its
// own copy; a full queue drops the newest batch for that subscriber
// only.
func (c *Capture) broadcast(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		batch := make([]float32, len(samples))
		copy(batch, samples)
		select {
		case sub.c <- batch:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a consumer with no preprocessing.
func (c *Capture) Subscribe() (*Subscriber, error) {
	return c.SubscribeFunc(nil)
}

// SubscribeFunc registers a consumer whose batches pass through pre
// before encoding. pre returning nil discards the batch (the seam a
// denoiser or gate would attach to).
func (c *Capture) SubscribeFunc(pre func([]float32) []float32) (*Subscriber, error) {
	enc, err := codec.NewEncoder()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Subscriber{
		id:      c.nextID,
		c:       make(chan []float32, subscriberQueueBatches),
		enc:     enc,
		pre:     pre,
		capture: c,
	}
	c.nextID++
	c.subs[sub.id] = sub
	return sub, nil
}

func (c *Capture) unsubscribe(id int) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
		close(sub.c)
	}
	empty := len(c.subs) == 0
	c.mu.Unlock()

	if empty {
		c.SetEnabled(false)
	}
}

// SetEnabled starts or stops the capture device. Idempotent; enabling
// unparks the pull goroutine.
func (c *Capture) SetEnabled(value bool) {
	if c.enabled.Swap(value) == value {
		return
	}

	if value {
		if c.started.CompareAndSwap(false, true) {
			if err := c.device.Start(); err != nil {
				c.started.Store(false)
				c.enabled.Store(false)
				c.logger.Error("start capture device", zap.Error(err))
				return
			}
		}
		select {
		case c.wake <- struct{}{}:
		default:
		}
	} else {
		if c.started.CompareAndSwap(true, false) {
			if err := c.device.Stop(); err != nil {
				c.logger.Error("stop capture device", zap.Error(err))
			}
		}
	}
}

// Enabled reports whether capture is running.
func (c *Capture) Enabled() bool {
	return c.enabled.Load()
}

// SetVolume sets the capture master volume multiplier (1.0 = unity).
// Applied on the pull side, never in the device callback.
func (c *Capture) SetVolume(value float32) {
	if value < 0 {
		value = 0
	}
	c.volume.Store(math.Float32bits(value))
}

// UseDevice switches capture to the given device, preserving the
// enabled state.
func (c *Capture) UseDevice(id malgo.DeviceID) error {
	wasEnabled := c.enabled.Load()
	c.SetEnabled(false)

	c.device.Uninit()
	if err := c.initDevice(&id); err != nil {
		return err
	}

	if wasEnabled {
		c.SetEnabled(true)
	}
	return nil
}

// DroppedSamples returns the total samples dropped at the ring.
func (c *Capture) DroppedSamples() uint64 {
	return c.ring.Dropped()
}

// Close stops the device and terminates the pull goroutine.
func (c *Capture) Close() {
	c.SetEnabled(false)
	close(c.stop)
	c.wg.Wait()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}
