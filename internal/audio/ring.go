package audio

import "sync/atomic"

// Ring is a lock-free single-producer single-consumer ring buffer of
// float32 samples. The producer is the realtime device callback, which
// must never block: on overflow the newest samples are dropped.
//
// Samples written before the producer commit are visible to the
// consumer once it observes the new head index; the commit is a single
// atomic store after the copy, so one callback's samples never tear.
type Ring struct {
	samples []float32
	head    atomic.Uint64 // write position (producer increments)
	tail    atomic.Uint64 // read position (consumer increments)
	dropped atomic.Uint64
}

// NewRing creates a ring holding at most capacity samples.
func NewRing(capacity int) *Ring {
	return &Ring{samples: make([]float32, capacity)}
}

// TryPush copies as much of in as fits and returns the count pushed.
// Producer side only.
func (r *Ring) TryPush(in []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()

	free := len(r.samples) - int(head-tail)
	n := len(in)
	if n > free {
		n = free
	}

	size := uint64(len(r.samples))
	for i := 0; i < n; i++ {
		r.samples[(head+uint64(i))%size] = in[i]
	}

	r.head.Add(uint64(n))
	if n < len(in) {
		r.dropped.Add(uint64(len(in) - n))
	}
	return n
}

// Pop copies up to len(out) samples into out and returns the count
// popped. Consumer side only; an empty ring is a normal condition.
func (r *Ring) Pop(out []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()

	n := int(head - tail)
	if n > len(out) {
		n = len(out)
	}

	size := uint64(len(r.samples))
	for i := 0; i < n; i++ {
		out[i] = r.samples[(tail+uint64(i))%size]
	}

	r.tail.Add(uint64(n))
	return n
}

// Len returns the number of occupied samples.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the ring capacity in samples.
func (r *Ring) Cap() int {
	return len(r.samples)
}

// Dropped returns the total samples dropped on overflow.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}
