// Package mock provides in-memory mock implementations of the [audio.Sink],
// [audio.CaptureDevice], [audio.CaptureHandle] and [audio.Payload] interfaces
// and of the outbound sender used by the capture pipeline, for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	sink := &mock.Sink{}
//	sched := playback.New(sink)
//	_ = sched.Enqueue(audio.Chunk{Data: []byte("a"), Type: audio.TypeMPEG})
//	sink.Complete(nil) // finish the pending append
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink] whose appends stay pending
// until the test calls [Sink.Complete], unless AutoReady is set.
type Sink struct {
	mu sync.Mutex

	// AppendErr, if set, is consulted on every Append. A non-nil result is
	// returned as a synchronous rejection and the chunk is not left pending.
	AppendErr func(c audio.Chunk) error

	// AutoReady completes every accepted append immediately with a nil
	// readiness value.
	AutoReady bool

	// Chunks records every chunk passed to Append, including rejected ones,
	// in call order.
	Chunks []audio.Chunk

	// Overlaps counts Append calls made while a previous append was still
	// pending. A correct scheduler never causes this to be non-zero.
	Overlaps int

	pending bool
	once    sync.Once
	ready   chan error
}

func (s *Sink) readyCh() chan error {
	s.once.Do(func() { s.ready = make(chan error, 1) })
	return s.ready
}

// Append implements [audio.Sink].
func (s *Sink) Append(c audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Chunks = append(s.Chunks, c)
	if s.pending {
		s.Overlaps++
		return audio.ErrSinkBusy
	}
	if s.AppendErr != nil {
		if err := s.AppendErr(c); err != nil {
			return err
		}
	}
	if s.AutoReady {
		s.readyCh() <- nil
		return nil
	}
	s.pending = true
	return nil
}

// Ready implements [audio.Sink].
func (s *Sink) Ready() <-chan error { return s.readyCh() }

// Complete finishes the pending append with err as its readiness value. It
// reports false if no append was pending.
func (s *Sink) Complete(err error) bool {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return false
	}
	s.pending = false
	s.mu.Unlock()
	s.readyCh() <- err
	return true
}

// Signal delivers err on the ready channel without an append being
// pending, simulating a misbehaving engine.
func (s *Sink) Signal(err error) {
	s.readyCh() <- err
}

// ReadyBacklog returns how many readiness values are waiting to be received.
func (s *Sink) ReadyBacklog() int { return len(s.readyCh()) }

// Pending reports whether an accepted append has not been completed yet.
func (s *Sink) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Appended returns a snapshot of Chunks.
func (s *Sink) Appended() []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Chunk(nil), s.Chunks...)
}

// OverlapCount returns Overlaps under the lock.
func (s *Sink) OverlapCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Overlaps
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// CaptureHandle is a mock implementation of [audio.CaptureHandle]. Tests feed
// encoded chunks with [CaptureHandle.Emit]; Release closes the chunk channel
// after sending FinalChunk, if set.
type CaptureHandle struct {
	mu sync.Mutex

	// FinalChunk, if non-nil, is emitted by Release before the chunk
	// channel is closed, mimicking an encoder flushing its last partial
	// chunk on stop.
	FinalChunk []byte

	// ReleaseError is returned by Release.
	ReleaseError error

	// CallCountRelease records how many times Release was called.
	CallCountRelease int

	ch       chan []byte
	released bool
	closed   bool
}

// NewCaptureHandle returns a handle whose chunk channel has the given buffer.
func NewCaptureHandle(buffer int) *CaptureHandle {
	return &CaptureHandle{ch: make(chan []byte, buffer)}
}

// Chunks implements [audio.CaptureHandle].
func (h *CaptureHandle) Chunks() <-chan []byte { return h.ch }

// Emit delivers chunk as if the encoder had produced it. It reports false
// after Release.
func (h *CaptureHandle) Emit(chunk []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.closed {
		return false
	}
	h.ch <- chunk
	return true
}

// Fail closes the chunk channel without a Release, as a device that stops
// delivering audio would.
func (h *CaptureHandle) Fail() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.released && !h.closed {
		h.closed = true
		close(h.ch)
	}
}

// Release implements [audio.CaptureHandle].
func (h *CaptureHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountRelease++
	if !h.released {
		h.released = true
		if !h.closed {
			if h.FinalChunk != nil {
				h.ch <- h.FinalChunk
			}
			close(h.ch)
		}
	}
	return h.ReleaseError
}

// Active reports whether the handle is still capturing.
func (h *CaptureHandle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.released
}

// CaptureDevice is a mock implementation of [audio.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// Handle is returned by Acquire when AcquireError is nil. When nil, a
	// fresh handle with a 16-chunk buffer is created per call.
	Handle *CaptureHandle

	// AcquireError is returned by Acquire.
	AcquireError error

	// AcquireCalls records the options of every Acquire invocation.
	AcquireCalls []audio.CaptureOptions

	// Handles records every handle returned by Acquire.
	Handles []*CaptureHandle
}

// Acquire implements [audio.CaptureDevice].
func (d *CaptureDevice) Acquire(_ context.Context, opts audio.CaptureOptions) (audio.CaptureHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.AcquireCalls = append(d.AcquireCalls, opts)
	if d.AcquireError != nil {
		return nil, d.AcquireError
	}
	h := d.Handle
	if h == nil {
		h = NewCaptureHandle(16)
	}
	d.Handles = append(d.Handles, h)
	return h, nil
}

// LastHandle returns the most recently acquired handle, or nil.
func (d *CaptureDevice) LastHandle() *CaptureHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Handles) == 0 {
		return nil
	}
	return d.Handles[len(d.Handles)-1]
}

// ─── Sender ───────────────────────────────────────────────────────────────────

// Sender is a mock outbound channel. It satisfies the capture package's
// Sender interface.
type Sender struct {
	mu sync.Mutex

	// SendErr, if set, is consulted on every Send and its result returned.
	SendErr func(data []byte) error

	// Sent records the payload of every successful Send, in call order.
	Sent [][]byte

	// CallCountSend records how many times Send was called.
	CallCountSend int
}

// Send records data and returns the result of SendErr.
func (s *Sender) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountSend++
	if s.SendErr != nil {
		if err := s.SendErr(data); err != nil {
			return err
		}
	}
	s.Sent = append(s.Sent, append([]byte(nil), data...))
	return nil
}

// SentFrames returns a snapshot of Sent.
func (s *Sender) SentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.Sent...)
}

// ─── Payload ──────────────────────────────────────────────────────────────────

// Payload is a mock [audio.Payload] whose materialisation can be delayed
// or failed by the test.
type Payload struct {
	// Data is returned by the reader from Open.
	Data []byte

	// Typ is returned by Type.
	Typ string

	// Gate, if non-nil, blocks Open until it is closed.
	Gate chan struct{}

	// OpenError is returned by Open.
	OpenError error

	// ReadError, if non-nil, is returned by the reader after Data.
	ReadError error
}

// Type implements [audio.Payload].
func (p *Payload) Type() string { return p.Typ }

// Size implements [audio.Payload].
func (p *Payload) Size() int { return len(p.Data) }

// Open implements [audio.Payload].
func (p *Payload) Open() (io.ReadCloser, error) {
	if p.Gate != nil {
		<-p.Gate
	}
	if p.OpenError != nil {
		return nil, p.OpenError
	}
	var r io.Reader = bytes.NewReader(p.Data)
	if p.ReadError != nil {
		r = io.MultiReader(r, errReader{p.ReadError})
	}
	return io.NopCloser(r), nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
