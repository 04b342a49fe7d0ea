// Package mixer schedules decoded voice frames for playback.
//
// Frames arrive from the network side tagged with their speaker's user
// id, pass through a bounded ring, and are mixed additively into the
// slice the playback device asks for. Each speaker has its own queue
// with a prebuffer so wide-area jitter does not cause audible underrun.
package mixer

import (
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TaPO4eg3D/hazel/internal/codec"
)

const (
	// PrebufferSamples is how much audio a speaker queue accumulates
	// before it starts contributing: 100 ms of stereo samples. Enough
	// to absorb typical wide-area jitter without perceptible lip-sync
	// lag.
	PrebufferSamples = (codec.SampleRate / 1000) * 100 * codec.PlaybackChannels

	// maxQueueFrames bounds one speaker's queue; frames past it are
	// dropped on arrival.
	maxQueueFrames = 128

	// ringFrames bounds the arrival ring between the network side and
	// the playback tick.
	ringFrames = 150

	// DefaultIdleTimeout is how long a speaker may stay silent before
	// its queue is reclaimed.
	DefaultIdleTimeout = 30 * time.Second
)

// speakerQueue is the per-speaker reorder buffer: an ordered queue of
// decoded frames plus the prebuffer state.
type speakerQueue struct {
	frames  [][]float32
	offset  int // consumed samples of frames[0]
	pending int // total unconsumed samples

	buffering  bool
	lastUpdate time.Time

	level float32 // RMS of the last contribution
}

func newSpeakerQueue(now time.Time) *speakerQueue {
	return &speakerQueue{buffering: true, lastUpdate: now}
}

func (q *speakerQueue) push(pcm []float32, now time.Time) {
	q.lastUpdate = now
	if len(q.frames) >= maxQueueFrames {
		return
	}
	q.frames = append(q.frames, pcm)
	q.pending += len(pcm)
}

// mixInto adds this speaker's samples into out (it never overwrites)
// and reports whether anything was contributed.
//
// While buffering, nothing is contributed until the prebuffer threshold
// is reached. Failing to fill the whole slice re-enters buffering so
// the queue accumulates again before resuming.
func (q *speakerQueue) mixInto(out []float32) bool {
	if q.buffering {
		if q.pending < PrebufferSamples {
			q.level = 0
			return false
		}
		q.buffering = false
	}

	n := q.pending
	if n > len(out) {
		n = len(out)
	}
	if n == 0 {
		q.buffering = true
		q.level = 0
		return false
	}

	var sum float64
	i := 0
	for i < n {
		head := q.frames[0]
		take := n - i
		if rest := len(head) - q.offset; take > rest {
			take = rest
		}
		for j := 0; j < take; j++ {
			s := head[q.offset+j]
			out[i+j] += s
			sum += float64(s) * float64(s)
		}
		i += take
		q.offset += take
		if q.offset == len(head) {
			q.frames = q.frames[1:]
			q.offset = 0
		}
	}
	q.pending -= n

	if n < len(out) {
		q.buffering = true
	}
	q.level = float32(math.Sqrt(sum / float64(n)))
	return true
}

// Scheduler routes decoded frames to speaker queues and drains them
// into the playback device's slice.
//
// Push may be called from any goroutine; Mix must only be called from
// the playback callback goroutine, which is the sole owner of the
// speaker map.
type Scheduler struct {
	in       chan frame
	speakers map[int32]*speakerQueue
	order    []int32 // iteration scratch, ascending user id

	idleTimeout time.Duration

	dropped atomic.Uint64
	levels  sync.Map // int32 -> uint32 (float32 bits), read by the UI side
}

type frame struct {
	userID int32
	pcm    []float32
}

// NewScheduler creates a scheduler; idleTimeout <= 0 selects the
// default reclamation period.
func NewScheduler(idleTimeout time.Duration) *Scheduler {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Scheduler{
		in:          make(chan frame, ringFrames),
		speakers:    make(map[int32]*speakerQueue),
		idleTimeout: idleTimeout,
	}
}

// Push enqueues one decoded stereo frame for the given speaker. When
// the ring is full the frame is dropped; the resulting seq gap degrades
// to concealment on the next decode, so overflow is not an error.
func (s *Scheduler) Push(userID int32, pcm []float32) {
	select {
	case s.in <- frame{userID: userID, pcm: pcm}:
	default:
		s.dropped.Add(1)
	}
}

// Mix fills out with the sum of all speaker contributions.
//
// Arrivals are drained first, then out is zeroed, then speakers are
// mixed in ascending user id so the result is deterministic. Samples
// are added pointwise without clipping; downstream may clip.
func (s *Scheduler) Mix(out []float32) {
	now := time.Now()

drain:
	for {
		select {
		case f := <-s.in:
			q, ok := s.speakers[f.userID]
			if !ok {
				q = newSpeakerQueue(now)
				s.speakers[f.userID] = q
			}
			q.push(f.pcm, now)
		default:
			break drain
		}
	}

	for i := range out {
		out[i] = 0
	}

	s.order = s.order[:0]
	for id, q := range s.speakers {
		if now.Sub(q.lastUpdate) > s.idleTimeout {
			delete(s.speakers, id)
			s.levels.Delete(id)
			continue
		}
		s.order = append(s.order, id)
	}
	slices.Sort(s.order)

	for _, id := range s.order {
		q := s.speakers[id]
		q.mixInto(out)
		s.levels.Store(id, math.Float32bits(q.level))
	}
}

// Level returns the RMS of the speaker's last mixed contribution, or 0
// when the speaker is silent or unknown. Safe from any goroutine.
func (s *Scheduler) Level(userID int32) float32 {
	v, ok := s.levels.Load(userID)
	if !ok {
		return 0
	}
	return math.Float32frombits(v.(uint32))
}

// Dropped returns the total frames dropped on arrival-ring overflow.
func (s *Scheduler) Dropped() uint64 {
	return s.dropped.Load()
}
