// Package channel implements the Channel Session Manager: it owns the single
// duplex WebSocket connection to the speech service for the lifetime of the
// process and routes its events to the relay pipelines.
//
// Inbound binary messages are delivered in arrival order on [Session.Frames]
// as [audio.Payload] values tagged with the configured frame type. Text
// messages are ignored. Outbound audio goes through [Session.Send], which
// fails with [audio.ErrChannelUnavailable] whenever the session is not open.
//
// The session never reconnects. Once it reaches [Closed] or [Errored] it
// stays there and the caller decides what to do.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
)

// State is the lifecycle state of a [Session].
type State int32

const (
	// Connecting is the state from construction until the dial completes.
	Connecting State = iota

	// Open means the connection is established and sends are accepted.
	Open

	// Closed means the connection ended normally, by either side.
	Closed

	// Errored means the dial failed or the connection broke.
	Errored
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// terminal reports whether no further transitions are possible.
func (s State) terminal() bool { return s == Closed || s == Errored }

// Option configures a [Session].
type Option func(*Session)

// WithFrameType sets the type tag applied to every inbound binary frame.
// Default: [audio.TypeMPEG].
func WithFrameType(t string) Option {
	return func(s *Session) {
		if t != "" {
			s.frameType = t
		}
	}
}

// WithHeader adds HTTP headers to the WebSocket handshake.
func WithHeader(h http.Header) Option {
	return func(s *Session) { s.header = h.Clone() }
}

// WithDialTimeout bounds the WebSocket handshake. Default: 10 s.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// WithReadLimit sets the maximum inbound message size in bytes. Default: 4 MiB.
func WithReadLimit(n int64) Option {
	return func(s *Session) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// WithFrameBuffer sets the capacity of the [Session.Frames] channel.
// Default: 64.
func WithFrameBuffer(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.frameBuffer = n
		}
	}
}

// WithHTTPClient sets the HTTP client used for the handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpClient = c }
}

// Session is the single duplex channel of the relay. Create one with [New]
// and call [Session.Open] exactly once; all methods are safe for concurrent
// use.
type Session struct {
	url         string
	frameType   string
	header      http.Header
	dialTimeout time.Duration
	readLimit   int64
	frameBuffer int
	httpClient  *http.Client

	frames chan audio.Payload
	done   chan struct{}

	openOnce  sync.Once
	openErr   error
	closeOnce sync.Once

	mu       sync.Mutex
	state    State
	err      error
	conn     *websocket.Conn
	closing  bool
	handlers []func(State, error)

	ctx    context.Context
	cancel context.CancelFunc

	// openCtx is cancelled by Close to abort a dial in progress.
	openCtx    context.Context
	openCancel context.CancelFunc
}

// New creates a session for the WebSocket endpoint at url. No connection is
// made until [Session.Open].
func New(url string, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	openCtx, openCancel := context.WithCancel(context.Background())
	s := &Session{
		url:         url,
		frameType:   audio.TypeMPEG,
		dialTimeout: 10 * time.Second,
		readLimit:   4 << 20,
		frameBuffer: 64,
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		openCtx:     openCtx,
		openCancel:  openCancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.frames = make(chan audio.Payload, s.frameBuffer)
	return s
}

// OnStateChange registers fn to be called on every state transition with
// the new state and, for [Errored], the cause. Callbacks run synchronously
// on the goroutine that caused the transition, in registration order, and
// must not block or call back into the session. Register callbacks before
// calling Open to observe every transition.
func (s *Session) OnStateChange(fn func(State, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// Open dials the endpoint. It establishes the channel exactly once: later
// calls do nothing and return the result of the first. ctx bounds the dial
// only; the connection lives until [Session.Close] or the peer ends it. A
// Close during the dial aborts it and Open fails with
// [audio.ErrChannelUnavailable].
func (s *Session) Open(ctx context.Context) error {
	s.openOnce.Do(func() {
		s.openErr = s.dial(ctx)
		if s.openErr != nil {
			close(s.frames)
			close(s.done)
			return
		}
		go s.receiveLoop()
	})
	return s.openErr
}

func (s *Session) dial(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "channel.open")
	defer span.End()
	span.SetAttributes(attribute.String("channel.url", s.url))

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()
	stop := context.AfterFunc(s.openCtx, cancel)
	defer stop()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		HTTPHeader: s.header,
		HTTPClient: s.httpClient,
	})
	if err == nil && s.openCtx.Err() != nil {
		_ = conn.CloseNow()
		err = context.Canceled
	}
	if s.openCtx.Err() != nil {
		// Close owns the final transition.
		observe.FailSpan(span, nil, "closed while dialling")
		return fmt.Errorf("%w: closed while dialling %s: %v", audio.ErrChannelUnavailable, s.url, err)
	}
	if err != nil {
		err = fmt.Errorf("channel: dial %s: %w", s.url, err)
		observe.FailSpan(span, err, "dial failed")
		s.transition(Errored, err)
		return err
	}
	conn.SetReadLimit(s.readLimit)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	observe.Logger(ctx).Info("channel: open", "url", s.url, "frame_type", s.frameType)
	s.transition(Open, nil)
	return nil
}

// receiveLoop reads messages from the WebSocket and forwards binary frames.
// It owns frames and done: it closes both when it exits.
func (s *Session) receiveLoop() {
	defer close(s.done)
	defer close(s.frames)

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.readFailed(err)
			return
		}
		if typ != websocket.MessageBinary {
			slog.Debug("channel: ignoring text frame", "bytes", len(data))
			continue
		}
		slog.Debug("channel: frame received", "bytes", len(data), "type", s.frameType)
		select {
		case s.frames <- audio.NewPayload(data, s.frameType):
		case <-s.ctx.Done():
			s.transition(Closed, nil)
			return
		}
	}
}

// readFailed classifies a read error as a normal close or a failure.
func (s *Session) readFailed(err error) {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()

	switch status := websocket.CloseStatus(err); {
	case closing || s.ctx.Err() != nil:
		s.transition(Closed, nil)
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		slog.Info("channel: closed by peer", "status", status)
		s.transition(Closed, nil)
	default:
		err = fmt.Errorf("channel: read: %w", err)
		slog.Error("channel: connection failed", "err", err)
		s.transition(Errored, err)
	}
}

// transition moves the session to st and notifies handlers. Transitions out
// of a terminal state are ignored.
func (s *Session) transition(st State, err error) {
	s.mu.Lock()
	if s.state.terminal() || s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	if err != nil {
		s.err = err
	}
	handlers := append([]func(State, error){}, s.handlers...)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(st, err)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to [Errored], or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Frames returns the channel of inbound binary frames. It is closed when the
// session ends.
func (s *Session) Frames() <-chan audio.Payload { return s.frames }

// Done is closed once the session has ended and [Session.Frames] is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send writes data as one binary message. It returns an error wrapping
// [audio.ErrChannelUnavailable] when the session is not open or the write
// fails. Sends are not retried.
func (s *Session) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	conn, st := s.conn, s.state
	s.mu.Unlock()
	if st != Open || conn == nil {
		return fmt.Errorf("%w: session %s", audio.ErrChannelUnavailable, st)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("%w: write: %v", audio.ErrChannelUnavailable, err)
	}
	slog.Debug("channel: frame sent", "bytes", len(data))
	return nil
}

// Close ends the session with a normal closure. It is idempotent and safe to
// call before Open, in which case Open will never dial.
func (s *Session) Close() error {
	s.openCancel()
	s.openOnce.Do(func() {
		s.openErr = audio.ErrChannelUnavailable
		s.transition(Closed, nil)
		close(s.frames)
		close(s.done)
	})
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			if err := conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("channel: close handshake", "err", err)
			}
		}
		s.cancel()
		s.transition(Closed, nil)
	})
	<-s.done
	return nil
}
