// Package speaker implements [audio.Sink] on top of the beep audio library,
// rendering received chunks to the system's default output device.
//
// The sink owns one endless stream that is handed to the output once. Every
// appended chunk is decoded asynchronously and its frames are appended to
// that stream; the sink reports ready as soon as the frames are buffered,
// not when they finish playing, so consecutive chunks play back to back.
// "audio/mpeg" chunks are treated as pieces of one continuous MP3 stream and
// the sink is ready once the decoder has taken the bytes.
package speaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/opus"
)

// Output is where the sink's stream is played. The default plays through the
// process-wide beep speaker.
type Output interface {
	// Play starts playing s. It is called exactly once per sink.
	Play(s beep.Streamer)

	// Lock and Unlock guard mutations of streamers the output is
	// currently pulling from.
	Lock()
	Unlock()
}

// deviceOutput plays through [speaker].
type deviceOutput struct {
	rate   beep.SampleRate
	buffer time.Duration
}

func (o deviceOutput) init() error {
	if err := speaker.Init(o.rate, o.rate.N(o.buffer)); err != nil {
		return fmt.Errorf("speaker: init output: %w", err)
	}
	return nil
}

func (deviceOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (deviceOutput) Lock()                { speaker.Lock() }
func (deviceOutput) Unlock()              { speaker.Unlock() }

// Option configures a [Sink].
type Option func(*Sink)

// WithOutput replaces the system speaker, e.g. with a test harness that
// pulls samples directly.
func WithOutput(o Output) Option {
	return func(s *Sink) { s.out = o }
}

// WithSampleRate sets the output sample rate. Default: 44100 Hz.
func WithSampleRate(rate int) Option {
	return func(s *Sink) {
		if rate > 0 {
			s.rate = beep.SampleRate(rate)
		}
	}
}

// WithBufferDuration sets the output device buffer. Default: 100 ms.
func WithBufferDuration(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.buffer = d
		}
	}
}

// WithPCMFormat declares the layout of "audio/pcm" chunks. Default: 48 kHz
// stereo.
func WithPCMFormat(f audio.Format) Option {
	return func(s *Sink) {
		if f.SampleRate > 0 && f.Channels > 0 {
			s.pcm = f
		}
	}
}

// Sink is an [audio.Sink] that plays chunks on an output device.
type Sink struct {
	out    Output
	rate   beep.SampleRate
	buffer time.Duration
	pcm    audio.Format

	stream *frameStream
	ctrl   *beep.Ctrl
	dec    *decoder

	mu     sync.Mutex
	busy   bool
	closed bool
	ready  chan error
	wg     sync.WaitGroup
}

// New creates a sink and starts its output stream. With no [WithOutput]
// option the system speaker is initialised, which fails when the host has
// no audio output.
func New(opts ...Option) (*Sink, error) {
	s := &Sink{
		rate:   44100,
		buffer: 100 * time.Millisecond,
		pcm:    audio.Format{SampleRate: 48000, Channels: 2},
		stream: &frameStream{},
		ready:  make(chan error, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.out == nil {
		dev := deviceOutput{rate: s.rate, buffer: s.buffer}
		if err := dev.init(); err != nil {
			return nil, err
		}
		s.out = dev
	}

	s.dec = &decoder{rate: s.rate, pcm: s.pcm, out: s.stream}
	if od, err := opus.NewDecoder(audio.Format{SampleRate: 48000, Channels: 2}); err == nil {
		s.dec.opus = od
	} else {
		slog.Warn("speaker: opus playback disabled", "err", err)
	}

	s.ctrl = &beep.Ctrl{Streamer: s.stream}
	s.out.Play(s.ctrl)
	return s, nil
}

// Append implements [audio.Sink]. The chunk is decoded on a separate
// goroutine; decode failures are reported on [Sink.Ready].
func (s *Sink) Append(c audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return fmt.Errorf("speaker: sink closed")
	case s.busy:
		return audio.ErrSinkBusy
	case !s.dec.supports(c.Type):
		return fmt.Errorf("%w: %q", ErrUnsupportedType, c.Type)
	}
	s.busy = true
	s.wg.Add(1)
	go s.render(c)
	return nil
}

func (s *Sink) render(c audio.Chunk) {
	defer s.wg.Done()
	err := s.dec.decode(c)
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
	s.ready <- err
}

// Ready implements [audio.Sink].
func (s *Sink) Ready() <-chan error { return s.ready }

// Pause silences the output without discarding buffered audio.
func (s *Sink) Pause() { s.setPaused(true) }

// Resume continues playback after [Sink.Pause].
func (s *Sink) Resume() { s.setPaused(false) }

func (s *Sink) setPaused(p bool) {
	s.out.Lock()
	s.ctrl.Paused = p
	s.out.Unlock()
}

// Paused reports whether the output is paused.
func (s *Sink) Paused() bool {
	s.out.Lock()
	defer s.out.Unlock()
	return s.ctrl.Paused
}

// Buffered returns how much decoded audio is waiting to be played.
func (s *Sink) Buffered() time.Duration {
	return s.rate.D(s.stream.buffered())
}

// Close stops accepting chunks, waits for an in-flight decode and discards
// buffered audio. The shared output device is left running.
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	s.dec.close()
	s.stream.reset()
	s.out.Lock()
	s.ctrl.Streamer = nil
	s.out.Unlock()
	return nil
}

var _ audio.Sink = (*Sink)(nil)
