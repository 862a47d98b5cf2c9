package playback

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Enqueue] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithMaxQueue bounds the number of chunks waiting for the sink. Zero (the
// default) leaves the queue unbounded, in which case a sink that never
// becomes ready grows the queue without limit.
func WithMaxQueue(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxQueue.Store(int64(n))
		}
	}
}

// WithOverflow sets the policy applied when a bounded queue is full.
func WithOverflow(o Overflow) Option {
	return func(s *Scheduler) { s.overflow = o }
}

// WithErrorHandler registers fn to receive every [*audio.AppendError]. fn is
// called on the scheduler goroutine and must not block or call back into
// the scheduler.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

// WithDropHandler registers fn to receive every chunk discarded by the
// overflow policy. Same calling rules as [WithErrorHandler].
func WithDropHandler(fn func(audio.Chunk)) Option {
	return func(s *Scheduler) { s.onDrop = fn }
}

// WithAppendHook registers fn to observe each completed append: the chunk,
// how long the sink took, and the sink's result. Same calling rules as
// [WithErrorHandler].
func WithAppendHook(fn func(c audio.Chunk, d time.Duration, err error)) Option {
	return func(s *Scheduler) { s.onAppend = fn }
}

// enqueueReq carries one chunk into the scheduler goroutine.
type enqueueReq struct {
	chunk audio.Chunk
	reply chan error
}

// Scheduler is the Append Scheduler. It owns the Playback Queue and the
// observed append state of its [audio.Sink], and guarantees that:
//
//   - chunks reach the sink in exactly the order they were enqueued,
//   - at most one append is in flight at any instant, and
//   - a ready chunk is never left waiting while the sink is idle.
//
// All queue and sink-state mutations happen on a single background
// goroutine; the exported methods only exchange messages with it, so they
// are safe for concurrent use.
type Scheduler struct {
	sink     audio.Sink
	overflow Overflow
	onError  func(error)
	onDrop   func(audio.Chunk)
	onAppend func(audio.Chunk, time.Duration, error)

	maxQueue atomic.Int64
	depth    atomic.Int64
	appends  atomic.Uint64

	in        chan enqueueReq
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// New creates a [Scheduler] that feeds sink and starts its goroutine.
// Call [Scheduler.Close] to stop it.
func New(sink audio.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:   sink,
		in:     make(chan enqueueReq),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.run()
	return s
}

// Enqueue appends chunk to the tail of the queue. If the sink is idle the
// chunk is dispatched before Enqueue returns.
//
// With a bounded queue and the [Reject] policy, Enqueue returns
// [audio.ErrQueueFull] when the queue is at capacity. After Close it returns
// [ErrClosed].
func (s *Scheduler) Enqueue(chunk audio.Chunk) error {
	req := enqueueReq{chunk: chunk, reply: make(chan error, 1)}
	select {
	case s.in <- req:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-s.exited:
		return ErrClosed
	}
}

// Len returns the number of chunks waiting in the queue. The chunk currently
// being appended is not counted.
func (s *Scheduler) Len() int { return int(s.depth.Load()) }

// Appends returns the number of chunks handed to the sink so far.
func (s *Scheduler) Appends() uint64 { return s.appends.Load() }

// SetMaxQueue changes the queue bound at runtime. Zero or a negative value
// removes the bound. Chunks already queued beyond a lowered bound stay
// queued; the bound applies to the next enqueue.
func (s *Scheduler) SetMaxQueue(n int) {
	s.maxQueue.Store(int64(max(n, 0)))
}

// MaxQueue returns the current queue bound; zero means unbounded.
func (s *Scheduler) MaxQueue() int { return int(s.maxQueue.Load()) }

// Close stops the scheduler goroutine and discards any chunks still queued.
// An append already in flight is left to the sink. Close is idempotent.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.exited
	return nil
}

// run is the scheduler goroutine: the single execution context for the
// queue and the observed sink state.
func (s *Scheduler) run() {
	defer close(s.exited)

	q := newChunkQueue()
	var (
		busy     bool
		inflight audio.Chunk
		started  time.Time
	)

	// drain dispatches the head chunk if the sink is idle. Synchronous
	// rejections complete the append immediately, so drain keeps going until
	// a chunk is accepted or the queue is empty.
	drain := func() {
		for !busy {
			c, ok := q.pop()
			if !ok {
				return
			}
			s.depth.Add(-1)
			s.appends.Add(1)
			start := time.Now()
			if err := s.sink.Append(c); err != nil {
				s.appended(c, time.Since(start), err)
				continue
			}
			busy, inflight, started = true, c, start
		}
	}

	for {
		select {
		case <-s.done:
			if n := q.clear(); n > 0 {
				slog.Debug("playback: discarding queued chunks on close", "chunks", n)
			}
			s.depth.Store(0)
			return

		case req := <-s.in:
			err := s.push(q, req.chunk)
			drain()
			req.reply <- err

		case err := <-s.sink.Ready():
			if !busy {
				slog.Warn("playback: sink signalled ready without a pending append")
				continue
			}
			busy = false
			s.appended(inflight, time.Since(started), err)
			inflight = audio.Chunk{}
			drain()
		}
	}
}

// push applies the overflow policy and appends c to q.
func (s *Scheduler) push(q *chunkQueue, c audio.Chunk) error {
	if limit := s.maxQueue.Load(); limit > 0 && int64(q.Len()) >= limit {
		switch s.overflow {
		case Reject:
			return audio.ErrQueueFull
		case DropNewest:
			s.dropped(c)
			return nil
		default:
			if old, ok := q.pop(); ok {
				s.depth.Add(-1)
				s.dropped(old)
			}
		}
	}
	q.push(c)
	s.depth.Add(1)
	return nil
}

func (s *Scheduler) appended(c audio.Chunk, d time.Duration, err error) {
	if s.onAppend != nil {
		s.onAppend(c, d, err)
	}
	if err == nil {
		return
	}
	aerr := &audio.AppendError{Chunk: c, Err: err}
	if s.onError != nil {
		s.onError(aerr)
		return
	}
	slog.Warn("playback: append failed, skipping chunk", "err", aerr)
}

func (s *Scheduler) dropped(c audio.Chunk) {
	if s.onDrop != nil {
		s.onDrop(c)
		return
	}
	slog.Warn("playback: queue full, dropping chunk", "bytes", c.Len(), "type", c.Type)
}
