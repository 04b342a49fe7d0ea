package audio

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingPushPop(t *testing.T) {
	r := NewRing(16)

	pushed := r.TryPush([]float32{1, 2, 3, 4})
	require.Equal(t, 4, pushed)
	assert.Equal(t, 4, r.Len())

	out := make([]float32, 8)
	popped := r.Pop(out)
	require.Equal(t, 4, popped)
	assert.Equal(t, []float32{1, 2, 3, 4}, out[:popped])
	assert.Equal(t, 0, r.Len())
}

func TestRingDropsNewestOnOverflow(t *testing.T) {
	r := NewRing(4)

	pushed := r.TryPush([]float32{1, 2, 3, 4, 5, 6})
	require.Equal(t, 4, pushed)
	assert.Equal(t, uint64(2), r.Dropped())

	out := make([]float32, 6)
	popped := r.Pop(out)
	require.Equal(t, 4, popped)

	// The oldest samples survive; the tail of the burst is gone.
	assert.Equal(t, []float32{1, 2, 3, 4}, out[:popped])
}

func TestRingWrapAround(t *testing.T) {
	r := NewRing(8)
	out := make([]float32, 8)

	next := float32(0)
	for round := 0; round < 10; round++ {
		batch := make([]float32, 5)
		for i := range batch {
			batch[i] = next
			next++
		}
		require.Equal(t, 5, r.TryPush(batch))
		require.Equal(t, 5, r.Pop(out))
		assert.Equal(t, batch, out[:5])
	}
}

func TestRingPopEmpty(t *testing.T) {
	r := NewRing(8)
	out := make([]float32, 4)
	assert.Equal(t, 0, r.Pop(out))
}

// TestRingSPSCOrder runs a real producer/consumer pair and checks the
// consumer observes an in-order prefix-preserving subsequence of the
// pushed values.
func TestRingSPSCOrder(t *testing.T) {
	const total = 200_000

	r := NewRing(1024)
	done := make(chan []float32)

	go func() {
		got := make([]float32, 0, total)
		buf := make([]float32, 256)
		for len(got) < total {
			n := r.Pop(buf)
			if n == 0 {
				if r.Dropped() > 0 && int(r.Dropped())+len(got)+r.Len() >= total {
					// Producer finished and the remainder was dropped.
					if r.Len() == 0 {
						break
					}
				}
				continue
			}
			got = append(got, buf[:n]...)
		}
		done <- got
	}()

	rng := rand.New(rand.NewSource(7))
	sent := float32(0)
	for sent < total {
		batch := make([]float32, 1+rng.Intn(128))
		for i := range batch {
			batch[i] = sent
			sent++
		}
		r.TryPush(batch)
	}

	got := <-done

	// Strictly increasing means order preserved and nothing duplicated
	// or reordered, even if overflow dropped values.
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i], got[i-1], "out of order at %d", i)
	}
	require.Equal(t, total, len(got)+int(r.Dropped())+r.Len())
}
