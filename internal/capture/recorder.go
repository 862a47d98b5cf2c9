// Package capture implements the Capture Session: it acquires the
// microphone on an explicit start, forwards every non-empty encoded chunk to
// the outbound channel as soon as it is produced, and releases the device on
// an explicit stop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Sender delivers one outbound chunk. The channel session satisfies it.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// defaultFlushTimeout bounds how long Stop waits for the final chunk to be
// sent before it cancels outstanding sends.
const defaultFlushTimeout = 2 * time.Second

// Option configures a [Recorder].
type Option func(*Recorder)

// WithErrorHandler registers fn to receive send failures. fn is called on
// the forwarding goroutine and must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(r *Recorder) { r.onError = fn }
}

// WithSendHook registers fn to observe every send attempt with the chunk size
// and its result. Same calling rules as [WithErrorHandler].
func WithSendHook(fn func(size int, err error)) Option {
	return func(r *Recorder) { r.onSend = fn }
}

// WithActiveHook registers fn to be called with true when recording starts
// and false once it has fully stopped.
func WithActiveHook(fn func(active bool)) Option {
	return func(r *Recorder) { r.onActive = fn }
}

// WithFlushTimeout bounds how long [Recorder.Stop] waits for chunks still
// being sent. When it elapses, pending sends are cancelled and fail.
// Default: 2s.
func WithFlushTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.flushTimeout = d
		}
	}
}

// recording is one acquired device and its forwarding goroutine.
type recording struct {
	handle   audio.CaptureHandle
	opts     audio.CaptureOptions
	done     chan struct{}
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// Recorder owns at most one capture session at a time. It is safe for
// concurrent use.
type Recorder struct {
	device       audio.CaptureDevice
	sender       Sender
	flushTimeout time.Duration
	onError      func(error)
	onSend       func(int, error)
	onActive     func(bool)

	mu  sync.Mutex
	cur *recording
}

// NewRecorder creates a recorder that captures from device and sends through
// sender.
func NewRecorder(device audio.CaptureDevice, sender Sender, opts ...Option) *Recorder {
	r := &Recorder{device: device, sender: sender, flushTimeout: defaultFlushTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start acquires the device with opts and begins forwarding chunks. It fails
// with [audio.ErrAlreadyRecording] while a session is active and with an
// error wrapping [audio.ErrDeviceUnavailable] when the device cannot be
// acquired. ctx bounds the acquisition only.
func (r *Recorder) Start(ctx context.Context, opts audio.CaptureOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return audio.ErrAlreadyRecording
	}

	h, err := r.device.Acquire(ctx, opts)
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("capture: start: %w", err)
	}

	// Sends outlive the Start call; they are only bounded by Stop.
	sendCtx, cancel := context.WithCancel(context.Background())
	rec := &recording{handle: h, opts: opts, done: make(chan struct{}), cancel: cancel}
	r.cur = rec
	go r.forward(sendCtx, rec)

	slog.Info("capture: recording", "sample_rate", opts.SampleRate, "channels", opts.Channels, "codec", opts.Codec)
	if r.onActive != nil {
		r.onActive(true)
	}
	return nil
}

// forward sends every non-empty chunk exactly once, in production order,
// until the handle's channel is closed. A channel closed without Stop means
// the device went away; the recording is then ended as if Stop were called.
func (r *Recorder) forward(ctx context.Context, rec *recording) {
	r.drain(ctx, rec.handle.Chunks())
	close(rec.done)
	if !rec.stopping.Load() {
		r.deviceLost(rec)
	}
}

func (r *Recorder) drain(ctx context.Context, chunks <-chan []byte) {
	for chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		err := r.sender.Send(ctx, chunk)
		if r.onSend != nil {
			r.onSend(len(chunk), err)
		}
		if err != nil {
			r.sendFailed(err)
			continue
		}
		slog.Debug("capture: chunk sent", "bytes", len(chunk))
	}
}

func (r *Recorder) sendFailed(err error) {
	if r.onError != nil {
		r.onError(err)
		return
	}
	slog.Warn("capture: send failed", "err", err)
}

func (r *Recorder) deviceLost(rec *recording) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != rec {
		return
	}
	r.cur = nil
	rec.cancel()
	if err := rec.handle.Release(); err != nil {
		slog.Debug("capture: release after device loss", "err", err)
	}
	slog.Warn("capture: device stopped producing audio, recording ended")
	if r.onActive != nil {
		r.onActive(false)
	}
}

// Stop halts capture and releases the device. The encoder's last chunk is
// forwarded before Stop returns unless sending it takes longer than the
// flush timeout. Stop is a no-op when not recording.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.cur
	if rec == nil {
		return nil
	}
	rec.stopping.Store(true)

	// Release can block on a full chunk buffer while a send is stalled, so it
	// runs under the same deadline as the flush.
	released := make(chan error, 1)
	go func() { released <- rec.handle.Release() }()

	timer := time.NewTimer(r.flushTimeout)
	select {
	case <-rec.done:
		timer.Stop()
	case <-timer.C:
		slog.Warn("capture: flush timed out, cancelling pending sends", "timeout", r.flushTimeout)
		rec.cancel()
		<-rec.done
	}
	rec.cancel()
	err := <-released
	r.cur = nil

	slog.Info("capture: stopped")
	if r.onActive != nil {
		r.onActive(false)
	}
	if err != nil {
		return fmt.Errorf("capture: release: %w", err)
	}
	return nil
}

// Recording reports whether a capture session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Options returns the options of the active session and whether one is
// active.
func (r *Recorder) Options() (audio.CaptureOptions, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return audio.CaptureOptions{}, false
	}
	return r.cur.opts, true
}
