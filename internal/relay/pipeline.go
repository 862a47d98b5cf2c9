// Package relay wires the duplex audio pipeline together.
//
// A [Pipeline] is the single owner of every piece of mutable relay state:
// the channel session, the chunk decoder, the playback scheduler and the
// capture recorder. Inbound frames flow session → decoder → scheduler → sink;
// outbound chunks flow capture device → recorder → session.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxrelay/internal/capture"
	"github.com/MrWong99/voxrelay/internal/channel"
	"github.com/MrWong99/voxrelay/internal/decode"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/playback"
)

// ErrNoTransport is returned by [Pipeline.Pause] and [Pipeline.Resume] when
// the sink has no transport controls.
var ErrNoTransport = errors.New("relay: sink has no transport controls")

// Transport is implemented by sinks that can pause and resume playback.
type Transport interface {
	Pause()
	Resume()
	Paused() bool
}

// Config holds everything needed to build a [Pipeline].
type Config struct {
	// URL is the WebSocket endpoint of the speech service.
	URL string

	// Sink renders received chunks. Required.
	Sink audio.Sink

	// Device is the microphone. Required for capture; a nil Device makes
	// StartCapture fail with [audio.ErrDeviceUnavailable].
	Device audio.CaptureDevice

	// Capture holds the options used by [Pipeline.StartCapture].
	Capture audio.CaptureOptions

	// Metrics receives pipeline measurements. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	ChannelOptions  []channel.Option
	DecoderOptions  []decode.Option
	PlaybackOptions []playback.Option
}

// Status is a point-in-time snapshot of the pipeline.
type Status struct {
	Channel       string `json:"channel"`
	ChannelError  string `json:"channel_error,omitempty"`
	Recording     bool   `json:"recording"`
	QueueLen      int    `json:"queue_len"`
	MaxQueue      int    `json:"max_queue"`
	Appends       uint64 `json:"appends"`
	PendingDecode int    `json:"pending_decode"`
	Paused        bool   `json:"paused"`
}

// Pipeline is the duplex relay. Create one with [New], drive the playback
// path with [Pipeline.Run] and the capture path with
// [Pipeline.StartCapture] and [Pipeline.StopCapture].
type Pipeline struct {
	sink     audio.Sink
	capture  audio.CaptureOptions
	metrics  *observe.Metrics
	session  *channel.Session
	decoder  *decode.Decoder
	sched    *playback.Scheduler
	recorder *capture.Recorder

	depth     atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// New builds the pipeline. No connection is made until [Pipeline.Run].
func New(cfg Config) (*Pipeline, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay: URL is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("relay: Sink is required")
	}
	p := &Pipeline{
		sink:    cfg.Sink,
		capture: cfg.Capture,
		metrics: cfg.Metrics,
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}

	p.session = channel.New(cfg.URL, cfg.ChannelOptions...)

	popts := append([]playback.Option{
		playback.WithErrorHandler(p.appendFailed),
		playback.WithDropHandler(p.chunkDropped),
		playback.WithAppendHook(p.appendDone),
	}, cfg.PlaybackOptions...)
	p.sched = playback.New(cfg.Sink, popts...)

	dopts := append([]decode.Option{
		decode.WithErrorHandler(p.decodeFailed),
	}, cfg.DecoderOptions...)
	p.decoder = decode.New(p.enqueue, dopts...)

	device := cfg.Device
	if device == nil {
		device = noDevice{}
	}
	p.recorder = capture.NewRecorder(device, p.session,
		capture.WithErrorHandler(func(err error) {
			slog.Warn("relay: send failed", "err", err)
		}),
		capture.WithSendHook(func(size int, err error) {
			p.metrics.RecordFrameSent(context.Background(), size, err)
		}),
		capture.WithActiveHook(func(active bool) {
			delta := int64(-1)
			if active {
				delta = 1
			}
			p.metrics.CaptureActive.Add(context.Background(), delta)
		}),
	)
	return p, nil
}

// OnStateChange registers fn for channel state transitions. See
// [channel.Session.OnStateChange]; register before Run.
func (p *Pipeline) OnStateChange(fn func(channel.State, error)) {
	p.session.OnStateChange(fn)
}

// Run opens the channel and routes inbound frames to the decoder until the
// session ends or ctx is cancelled. It returns the session's error when the
// channel failed, and nil after a normal close or cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.session.Open(ctx); err != nil {
		return fmt.Errorf("relay: open channel: %w", err)
	}
	frames := p.session.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				if p.session.State() == channel.Errored {
					return fmt.Errorf("relay: %w", p.session.Err())
				}
				slog.Info("relay: channel closed")
				return nil
			}
			p.metrics.RecordFrameReceived(ctx, f.Type(), f.Size())
			if err := p.decoder.Submit(ctx, f); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("relay: frame not submitted", "err", err)
			}
		}
	}
}

// enqueue is the decoder's emit function. It runs under the decoder's
// reorder lock, so chunks arrive here in receive order.
func (p *Pipeline) enqueue(c audio.Chunk) {
	err := p.sched.Enqueue(c)
	p.reportDepth()
	switch {
	case errors.Is(err, audio.ErrQueueFull):
		p.metrics.ChunksDropped.Add(context.Background(), 1)
		slog.Warn("relay: playback queue full, chunk rejected", "bytes", c.Len(), "type", c.Type)
	case err != nil:
		slog.Warn("relay: enqueue failed", "err", err)
	default:
		slog.Debug("relay: chunk enqueued", "bytes", c.Len(), "type", c.Type, "queue", p.sched.Len())
	}
}

// reportDepth moves the queue depth gauge to the scheduler's current length.
func (p *Pipeline) reportDepth() {
	n := int64(p.sched.Len())
	if prev := p.depth.Swap(n); prev != n {
		p.metrics.QueueDepth.Add(context.Background(), n-prev)
	}
}

func (p *Pipeline) decodeFailed(err error) {
	typ := ""
	var derr *audio.DecodeError
	if errors.As(err, &derr) {
		typ = derr.Type
		slog.Warn("relay: dropping frame", "seq", derr.Seq, "type", derr.Type, "err", derr.Err)
	} else {
		slog.Warn("relay: dropping frame", "err", err)
	}
	p.metrics.RecordDecodeError(context.Background(), typ)
}

func (p *Pipeline) appendFailed(err error) {
	slog.Warn("relay: append failed", "err", err)
}

func (p *Pipeline) appendDone(c audio.Chunk, d time.Duration, err error) {
	p.metrics.RecordAppend(context.Background(), c.Type, d, err)
	p.reportDepth()
}

func (p *Pipeline) chunkDropped(c audio.Chunk) {
	p.metrics.ChunksDropped.Add(context.Background(), 1)
	slog.Warn("relay: playback queue full, chunk dropped", "bytes", c.Len(), "type", c.Type)
}

// StartCapture begins recording with the configured capture options.
func (p *Pipeline) StartCapture(ctx context.Context) error {
	return p.StartCaptureWith(ctx, p.capture)
}

// StartCaptureWith begins recording with opts.
func (p *Pipeline) StartCaptureWith(ctx context.Context, opts audio.CaptureOptions) error {
	return p.recorder.Start(ctx, opts)
}

// StopCapture stops recording. It is a no-op when not recording.
func (p *Pipeline) StopCapture() error {
	return p.recorder.Stop()
}

// Recording reports whether the microphone is being captured.
func (p *Pipeline) Recording() bool { return p.recorder.Recording() }

// State returns the channel session state.
func (p *Pipeline) State() channel.State { return p.session.State() }

// QueueLen returns how many chunks are waiting for the sink.
func (p *Pipeline) QueueLen() int { return p.sched.Len() }

// SetMaxQueue changes the playback queue bound at runtime.
func (p *Pipeline) SetMaxQueue(n int) { p.sched.SetMaxQueue(n) }

// Pause halts playback on sinks that support it.
func (p *Pipeline) Pause() error {
	t, ok := p.sink.(Transport)
	if !ok {
		return ErrNoTransport
	}
	t.Pause()
	return nil
}

// Resume continues playback on sinks that support it.
func (p *Pipeline) Resume() error {
	t, ok := p.sink.(Transport)
	if !ok {
		return ErrNoTransport
	}
	t.Resume()
	return nil
}

// Status returns a snapshot of the pipeline.
func (p *Pipeline) Status() Status {
	st := Status{
		Channel:       p.session.State().String(),
		Recording:     p.recorder.Recording(),
		QueueLen:      p.sched.Len(),
		MaxQueue:      p.sched.MaxQueue(),
		Appends:       p.sched.Appends(),
		PendingDecode: p.decoder.Pending(),
	}
	if err := p.session.Err(); err != nil {
		st.ChannelError = err.Error()
	}
	if t, ok := p.sink.(Transport); ok {
		st.Paused = t.Paused()
	}
	return st
}

// Close stops capture, closes the channel and shuts the playback path down.
// It is idempotent.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if err := p.recorder.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := p.session.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := p.decoder.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := p.sched.Close(); err != nil {
			errs = append(errs, err)
		}
		if c, ok := p.sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

// noDevice is used when no capture device is configured.
type noDevice struct{}

func (noDevice) Acquire(context.Context, audio.CaptureOptions) (audio.CaptureHandle, error) {
	return nil, fmt.Errorf("%w: no capture backend configured", audio.ErrDeviceUnavailable)
}
