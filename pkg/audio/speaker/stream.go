package speaker

import (
	"sync"

	"github.com/faiface/beep"
)

// frameStream is an endless [beep.Streamer] fed by the sink. It plays
// buffered frames in order and emits silence whenever the buffer runs dry,
// so the output device never stalls between chunks.
type frameStream struct {
	mu     sync.Mutex
	frames [][2]float64
}

// push appends frames to the tail of the buffer.
func (q *frameStream) push(frames [][2]float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = append(q.frames, frames...)
}

// buffered returns how many frames are waiting to be played.
func (q *frameStream) buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// reset discards everything not yet played.
func (q *frameStream) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = nil
}

// Stream implements [beep.Streamer].
func (q *frameStream) Stream(samples [][2]float64) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := copy(samples, q.frames)
	q.frames = q.frames[n:]
	if len(q.frames) == 0 {
		q.frames = nil
	}
	clear(samples[n:])
	return len(samples), true
}

// Err implements [beep.Streamer].
func (q *frameStream) Err() error { return nil }

var _ beep.Streamer = (*frameStream)(nil)
