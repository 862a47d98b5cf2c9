package speaker

import (
	"sync"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Discard is an [audio.Sink] that accepts every chunk and is ready again
// immediately. It backs the "discard" playback backend on hosts without an
// output device.
type Discard struct {
	mu     sync.Mutex
	ready  chan error
	chunks uint64
	bytes  uint64
}

// NewDiscard returns a ready-to-use [Discard] sink.
func NewDiscard() *Discard {
	return &Discard{ready: make(chan error, 1)}
}

// Append implements [audio.Sink].
func (d *Discard) Append(c audio.Chunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case d.ready <- nil:
	default:
		return audio.ErrSinkBusy
	}
	d.chunks++
	d.bytes += uint64(c.Len())
	return nil
}

// Ready implements [audio.Sink].
func (d *Discard) Ready() <-chan error { return d.ready }

// Stats returns the number of chunks and bytes accepted so far.
func (d *Discard) Stats() (chunks, bytes uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chunks, d.bytes
}

var _ audio.Sink = (*Discard)(nil)
