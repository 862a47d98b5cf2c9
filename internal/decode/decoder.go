// Package decode implements the inbound Chunk Decoder. It materialises
// received payloads into [audio.Chunk] values concurrently but releases them
// strictly in the order the payloads were submitted.
package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Errors wrapped by [*audio.DecodeError].
var (
	// ErrEmpty is reported for a payload with no bytes.
	ErrEmpty = errors.New("decode: empty payload")

	// ErrTooLarge is reported for a payload above the configured limit.
	ErrTooLarge = errors.New("decode: payload too large")

	// ErrUnknownType is reported for a payload whose type is not accepted.
	ErrUnknownType = errors.New("decode: unknown type")
)

// Option configures a [Decoder].
type Option func(*Decoder)

// WithConcurrency bounds how many payloads are materialised at once.
// Default: 4.
func WithConcurrency(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.concurrency = int64(n)
		}
	}
}

// WithMaxChunkBytes rejects payloads larger than n bytes. Values below one
// keep the default of 4 MiB; the limit cannot be disabled.
func WithMaxChunkBytes(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxBytes = n
		}
	}
}

// WithAcceptTypes restricts the accepted type tags. Payloads of any other
// type fail with [ErrUnknownType]. By default every type is accepted.
func WithAcceptTypes(types ...string) Option {
	return func(d *Decoder) {
		d.accept = make(map[string]bool, len(types))
		for _, t := range types {
			d.accept[t] = true
		}
	}
}

// WithErrorHandler registers fn to receive every [*audio.DecodeError]. fn is
// called from the goroutine that releases chunks and must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(d *Decoder) { d.onError = fn }
}

// result is a finished decode waiting for its turn.
type result struct {
	chunk audio.Chunk
	err   error
}

// Decoder is the Chunk Decoder. Submit payloads in receive order; the emit
// function passed to [New] is then called with the materialised chunks in
// that same order, regardless of how long each one took to decode. Failed
// payloads are skipped without affecting the order of the rest.
type Decoder struct {
	emit        func(audio.Chunk)
	onError     func(error)
	concurrency int64
	maxBytes    int
	accept      map[string]bool

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// mu guards next, pending and the call to emit, which together form the
	// reorder buffer.
	mu      sync.Mutex
	seq     uint64
	next    uint64
	pending map[uint64]result
	closed  bool
}

// New creates a decoder that hands materialised chunks to emit.
func New(emit func(audio.Chunk), opts ...Option) *Decoder {
	d := &Decoder{
		emit:        emit,
		concurrency: 4,
		maxBytes:    4 << 20,
		pending:     make(map[uint64]result),
	}
	for _, o := range opts {
		o(d)
	}
	d.sem = semaphore.NewWeighted(d.concurrency)
	return d
}

// Submit assigns p the next receive sequence number and starts materialising
// it. Submit blocks while the concurrency limit is reached or until ctx is
// done. It must be called from a single goroutine in receive order.
func (d *Decoder) Submit(ctx context.Context, p audio.Payload) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("decode: decoder closed")
	}
	seq := d.seq
	d.seq++
	d.wg.Add(1)
	d.mu.Unlock()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		// Fill the slot so later payloads are not held back forever.
		d.finish(seq, result{err: &audio.DecodeError{Seq: seq, Type: p.Type(), Err: err}})
		d.wg.Done()
		return err
	}
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		c, err := d.materialise(seq, p)
		d.finish(seq, result{chunk: c, err: err})
	}()
	return nil
}

// materialise reads p fully into memory.
func (d *Decoder) materialise(seq uint64, p audio.Payload) (audio.Chunk, error) {
	fail := func(err error) (audio.Chunk, error) {
		return audio.Chunk{}, &audio.DecodeError{Seq: seq, Type: p.Type(), Err: err}
	}
	if d.accept != nil && !d.accept[p.Type()] {
		return fail(fmt.Errorf("%w %q", ErrUnknownType, p.Type()))
	}
	if p.Size() > d.maxBytes {
		return fail(fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, p.Size(), d.maxBytes))
	}

	rc, err := p.Open()
	if err != nil {
		return fail(err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if n := p.Size(); n > 0 {
		buf.Grow(n)
	}
	if _, err := buf.ReadFrom(io.LimitReader(rc, int64(d.maxBytes)+1)); err != nil {
		return fail(err)
	}
	switch {
	case buf.Len() == 0:
		return fail(ErrEmpty)
	case buf.Len() > d.maxBytes:
		return fail(fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxBytes))
	}
	return audio.Chunk{Data: buf.Bytes(), Type: p.Type()}, nil
}

// finish records r for seq and releases every result that is now in order.
func (d *Decoder) finish(seq uint64, r result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[seq] = r
	for {
		r, ok := d.pending[d.next]
		if !ok {
			return
		}
		delete(d.pending, d.next)
		d.next++
		if r.err != nil {
			d.reportError(r.err)
			continue
		}
		d.emit(r.chunk)
	}
}

func (d *Decoder) reportError(err error) {
	if d.onError != nil {
		d.onError(err)
		return
	}
	var derr *audio.DecodeError
	if errors.As(err, &derr) {
		slog.Warn("decode: dropping frame", "seq", derr.Seq, "type", derr.Type, "err", derr.Err)
		return
	}
	slog.Warn("decode: dropping frame", "err", err)
}

// Pending returns how many submitted payloads have not been released yet.
func (d *Decoder) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.seq - d.next)
}

// Close stops accepting payloads and waits for in-flight ones to be
// released. It is idempotent.
func (d *Decoder) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}
