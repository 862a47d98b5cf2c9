package channel_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxrelay/internal/channel"
	"github.com/MrWong99/voxrelay/pkg/audio"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is automatically closed when the test finishes.
func startServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(r.Context(), conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// stateLog records state transitions.
type stateLog struct {
	mu     sync.Mutex
	states []channel.State
}

func (l *stateLog) record(st channel.State, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, st)
}

func (l *stateLog) get() []channel.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]channel.State(nil), l.states...)
}

func readPayload(t *testing.T, p audio.Payload) []byte {
	t.Helper()
	rc, err := p.Open()
	if err != nil {
		t.Fatalf("Open payload: %v", err)
	}
	defer rc.Close()
	buf := make([]byte, p.Size())
	if _, err := rc.Read(buf); err != nil && p.Size() > 0 {
		t.Fatalf("read payload: %v", err)
	}
	return buf
}

func TestSession_ReceivesBinaryFramesInOrder(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		_ = conn.Write(ctx, websocket.MessageBinary, []byte("AAAA"))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"status":"speaking"}`))
		_ = conn.Write(ctx, websocket.MessageBinary, []byte("BB"))
		_ = conn.Write(ctx, websocket.MessageBinary, []byte("CCC"))
		// Keep the connection open until the client goes away.
		_, _, _ = conn.Read(ctx)
	})

	s := channel.New(wsURL(srv), channel.WithFrameType(audio.TypeWAV))
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.State() != channel.Open {
		t.Fatalf("State = %v, want open", s.State())
	}

	var got []string
	for range 3 {
		select {
		case p := <-s.Frames():
			if p.Type() != audio.TypeWAV {
				t.Errorf("frame type = %q, want %q", p.Type(), audio.TypeWAV)
			}
			got = append(got, string(readPayload(t, p)))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %v", got)
		}
	}
	if strings.Join(got, ",") != "AAAA,BB,CCC" {
		t.Errorf("frames = %v, want [AAAA BB CCC]", got)
	}
}

func TestSession_SendDeliversBinary(t *testing.T) {
	t.Parallel()
	received := make(chan []byte, 4)
	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				received <- data
			}
		}
	})

	s := channel.New(wsURL(srv))
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Send(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "\x01\x02\x03" {
			t.Errorf("server got %v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestSession_SendBeforeOpenFails(t *testing.T) {
	t.Parallel()
	s := channel.New("ws://127.0.0.1:1/unused")
	err := s.Send(context.Background(), []byte("x"))
	if !errors.Is(err, audio.ErrChannelUnavailable) {
		t.Fatalf("Send = %v, want ErrChannelUnavailable", err)
	}
	_ = s.Close()
}

func TestSession_OpenIsOnce(t *testing.T) {
	t.Parallel()
	var (
		mu      sync.Mutex
		accepts int
	)
	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		mu.Lock()
		accepts++
		mu.Unlock()
		_, _, _ = conn.Read(ctx)
	})

	s := channel.New(wsURL(srv))
	defer s.Close()
	for range 3 {
		if err := s.Open(context.Background()); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if accepts != 1 {
		t.Errorf("server accepted %d connections, want 1", accepts)
	}
}

func TestSession_DialFailureErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	log := &stateLog{}
	s := channel.New(wsURL(srv))
	s.OnStateChange(log.record)

	if err := s.Open(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if s.State() != channel.Errored || s.Err() == nil {
		t.Errorf("State = %v, Err = %v; want errored with cause", s.State(), s.Err())
	}
	if _, ok := <-s.Frames(); ok {
		t.Error("expected Frames to be closed")
	}
	if err := s.Send(context.Background(), []byte("x")); !errors.Is(err, audio.ErrChannelUnavailable) {
		t.Errorf("Send = %v, want ErrChannelUnavailable", err)
	}
	if got := log.get(); len(got) != 1 || got[0] != channel.Errored {
		t.Errorf("transitions = %v, want [errored]", got)
	}
	_ = s.Close()
}

func TestSession_PeerCloseEndsSession(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		_ = conn.Write(ctx, websocket.MessageBinary, []byte("last"))
		conn.Close(websocket.StatusNormalClosure, "bye")
	})

	log := &stateLog{}
	s := channel.New(wsURL(srv))
	s.OnStateChange(log.record)
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	var frames int
	for range s.Frames() {
		frames++
	}
	if frames != 1 {
		t.Errorf("frames = %d, want 1", frames)
	}
	<-s.Done()
	if s.State() != channel.Closed {
		t.Errorf("State = %v, want closed", s.State())
	}
	if err := s.Send(context.Background(), []byte("x")); !errors.Is(err, audio.ErrChannelUnavailable) {
		t.Errorf("Send after close = %v, want ErrChannelUnavailable", err)
	}
	if got := log.get(); len(got) != 2 || got[0] != channel.Open || got[1] != channel.Closed {
		t.Errorf("transitions = %v, want [open closed]", got)
	}
}

func TestSession_AbnormalCloseErrors(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(_ context.Context, conn *websocket.Conn, _ *http.Request) {
		conn.Close(websocket.StatusInternalError, "boom")
	})

	s := channel.New(wsURL(srv))
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	<-s.Done()
	if s.State() != channel.Errored {
		t.Errorf("State = %v, want errored", s.State())
	}
	if websocket.CloseStatus(s.Err()) != websocket.StatusInternalError {
		t.Errorf("Err = %v, want internal error close status", s.Err())
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, _ *http.Request) {
		_, _, _ = conn.Read(ctx)
	})

	s := channel.New(wsURL(srv))
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.State() != channel.Closed {
		t.Errorf("State = %v, want closed", s.State())
	}
}

func TestSession_CloseBeforeOpen(t *testing.T) {
	t.Parallel()
	s := channel.New("ws://127.0.0.1:1/unused")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Open(context.Background()); !errors.Is(err, audio.ErrChannelUnavailable) {
		t.Errorf("Open after Close = %v, want ErrChannelUnavailable", err)
	}
}

func TestSession_CloseAbortsDial(t *testing.T) {
	t.Parallel()
	arrived := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		// Never answer the upgrade.
		arrived <- struct{}{}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	log := &stateLog{}
	s := channel.New(wsURL(srv), channel.WithDialTimeout(time.Minute))
	s.OnStateChange(log.record)

	opened := make(chan error, 1)
	go func() { opened <- s.Open(context.Background()) }()
	<-arrived

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close waited for the dial timeout")
	}

	if err := <-opened; !errors.Is(err, audio.ErrChannelUnavailable) {
		t.Errorf("Open = %v, want ErrChannelUnavailable", err)
	}
	if s.State() != channel.Closed {
		t.Errorf("State = %v, want closed", s.State())
	}
	if got := log.get(); len(got) == 0 || got[len(got)-1] != channel.Closed {
		t.Errorf("transitions = %v, want to end closed", got)
	}
	for _, st := range log.get() {
		if st == channel.Errored || st == channel.Open {
			t.Errorf("unexpected transition to %v", st)
		}
	}
}

func TestSession_SendsHandshakeHeaders(t *testing.T) {
	t.Parallel()
	gotAuth := make(chan string, 1)
	srv := startServer(t, func(ctx context.Context, conn *websocket.Conn, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		_, _, _ = conn.Read(ctx)
	})

	s := channel.New(wsURL(srv), channel.WithHeader(http.Header{"Authorization": {"Bearer t0k"}}))
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := <-gotAuth; got != "Bearer t0k" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for st, want := range map[channel.State]string{
		channel.Connecting: "connecting",
		channel.Open:       "open",
		channel.Closed:     "closed",
		channel.Errored:    "errored",
	} {
		if st.String() != want {
			t.Errorf("%d.String() = %q, want %q", st, st.String(), want)
		}
	}
}
