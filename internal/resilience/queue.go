// Package resilience adapts network transmission to connection health: it
// classifies the connection mode from delivery outcomes, buffers frames
// during reconnects, retries with capped exponential backoff, and surfaces a
// terminal signal when the retry budget is exhausted.
package resilience

import "github.com/voxwire/voxwire/pkg/audio"

// frameQueue is a bounded, sequence-ordered queue of frames awaiting
// transmission. Frames are appended in capture order (sequence numbers only
// grow), so FIFO order is sequence order. On overflow the oldest frame is
// dropped first — stale audio is less useful than fresh.
//
// Not safe for concurrent use; the [Controller] guards it with its own mutex.
type frameQueue struct {
	frames   []audio.Frame
	capacity int
	dropped  uint64
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{capacity: capacity}
}

// push appends a frame, evicting the oldest entry when the queue is full.
// It reports whether an eviction happened.
func (q *frameQueue) push(f audio.Frame) (evicted bool) {
	if len(q.frames) >= q.capacity {
		copy(q.frames, q.frames[1:])
		q.frames = q.frames[:len(q.frames)-1]
		q.dropped++
		evicted = true
	}
	q.frames = append(q.frames, f)
	return evicted
}

// peek returns the oldest frame without removing it.
func (q *frameQueue) peek() (audio.Frame, bool) {
	if len(q.frames) == 0 {
		return audio.Frame{}, false
	}
	return q.frames[0], true
}

// pop removes and returns the oldest frame.
func (q *frameQueue) pop() (audio.Frame, bool) {
	if len(q.frames) == 0 {
		return audio.Frame{}, false
	}
	f := q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames = q.frames[:len(q.frames)-1]
	return f, true
}

func (q *frameQueue) len() int { return len(q.frames) }

// discard empties the queue without counting drops (used on session close
// when the caller chose not to flush).
func (q *frameQueue) discard() {
	q.frames = q.frames[:0]
}
