// Package app wires the voxrelay subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the relay pipeline from
// the config, Run drives the pipeline and the control HTTP server until the
// channel ends or ctx is cancelled, and Shutdown tears everything down.
//
// For testing, inject doubles via functional options (WithSink,
// WithCaptureDevice, WithMetrics). When an option is not provided, New
// creates the backends named in the config through the [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/internal/channel"
	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/decode"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/relay"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/playback"
)

// shutdownGrace bounds how long in-flight HTTP requests may take once Run
// is stopping.
const shutdownGrace = 5 * time.Second

// App owns the relay pipeline and the control server.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	sink     audio.Sink
	device   audio.CaptureDevice
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	logLevel *slog.LevelVar

	pipeline *relay.Pipeline
	handler  http.Handler

	// listener is set once the control server is listening.
	mu       sync.Mutex
	listener net.Listener

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the registry used to create backends from the config.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithSink injects a playback sink instead of creating one from config.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithCaptureDevice injects a capture device instead of creating one from
// config.
func WithCaptureDevice(d audio.CaptureDevice) Option {
	return func(a *App) { a.device = d }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer serves g on /metrics. Without it /metrics is not registered.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLogLevel lets [App.Reload] change the log level at runtime.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Backends not injected through options are
// created from the registry; a capture backend that cannot be created is not
// fatal, since capture is only attempted on request.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initBackends(); err != nil {
		return nil, fmt.Errorf("app: init backends: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.handler = a.routes()

	observe.Logger(ctx).Info("app: initialised",
		"url", cfg.Channel.URL,
		"playback", cfg.Playback.Backend,
		"capture", cfg.Capture.Backend,
	)
	return a, nil
}

func (a *App) initBackends() error {
	if a.sink == nil {
		if a.registry == nil {
			return errors.New("no sink injected and no registry configured")
		}
		s, err := a.registry.CreatePlayback(a.cfg.Playback)
		if err != nil {
			return fmt.Errorf("create playback backend %q: %w", a.cfg.Playback.Backend, err)
		}
		a.sink = s
	}
	if a.device == nil && a.registry != nil {
		d, err := a.registry.CreateCapture(a.cfg.Capture)
		if err != nil {
			slog.Warn("app: capture backend unavailable; capture requests will fail",
				"backend", a.cfg.Capture.Backend, "err", err)
		} else {
			a.device = d
		}
	}
	return nil
}

func (a *App) initPipeline() error {
	overflow, err := playback.ParseOverflow(a.cfg.Playback.Overflow)
	if err != nil {
		return err
	}

	chOpts := []channel.Option{
		channel.WithFrameType(a.cfg.Channel.FrameType),
		channel.WithDialTimeout(a.cfg.Channel.DialTimeout),
		channel.WithReadLimit(a.cfg.Channel.ReadLimit),
	}
	if len(a.cfg.Channel.Headers) > 0 {
		h := make(http.Header, len(a.cfg.Channel.Headers))
		for k, v := range a.cfg.Channel.Headers {
			h.Set(k, v)
		}
		chOpts = append(chOpts, channel.WithHeader(h))
	}

	p, err := relay.New(relay.Config{
		URL:            a.cfg.Channel.URL,
		Sink:           a.sink,
		Device:         a.device,
		Capture:        a.cfg.Capture.Options(),
		Metrics:        a.metrics,
		ChannelOptions: chOpts,
		DecoderOptions: []decode.Option{
			decode.WithConcurrency(a.cfg.Decode.Concurrency),
			decode.WithMaxChunkBytes(a.cfg.Decode.MaxChunkBytes),
		},
		PlaybackOptions: []playback.Option{
			playback.WithMaxQueue(a.cfg.Playback.MaxQueue),
			playback.WithOverflow(overflow),
		},
	})
	if err != nil {
		return err
	}
	a.pipeline = p

	if a.cfg.Capture.Autostart {
		p.OnStateChange(func(st channel.State, _ error) {
			if st != channel.Open {
				return
			}
			// State callbacks must not block; device acquisition can.
			go func() {
				if err := p.StartCapture(context.Background()); err != nil {
					slog.Error("app: autostart capture failed", "err", err)
				}
			}()
		})
	}
	return nil
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the control, health and metrics routes.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	h := health.New(
		health.Checker{Name: "channel", Check: func(context.Context) error {
			if st := a.pipeline.State(); st != channel.Open {
				return fmt.Errorf("channel is %s", st)
			}
			return nil
		}},
	)
	h.Register(mux)

	mux.HandleFunc("POST /capture/start", a.handleCaptureStart)
	mux.HandleFunc("POST /capture/stop", a.handleCaptureStop)
	mux.HandleFunc("POST /playback/pause", a.handleTransport(a.pipeline.Pause))
	mux.HandleFunc("POST /playback/resume", a.handleTransport(a.pipeline.Resume))
	mux.HandleFunc("GET /status", a.handleStatus)
	if a.gatherer != nil {
		mux.Handle("GET /metrics", observe.MetricsHandler(a.gatherer))
	}

	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the pipeline and, when server.listen_addr is set, the control
// server. It blocks until the channel ends or ctx is cancelled, and returns
// the channel's error if it failed.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The process lives as long as its single channel session.
		defer cancel()
		return a.pipeline.Run(gctx)
	})

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("app: listen %s: %w", addr, err)
		}
		a.mu.Lock()
		a.listener = ln
		a.mu.Unlock()

		srv := &http.Server{
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("app: control server listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	return g.Wait()
}

// Addr returns the control server's address once it is listening, or nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Pipeline returns the relay pipeline.
func (a *App) Pipeline() *relay.Pipeline { return a.pipeline }

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new. It is
// meant to be used as a [config.Watcher] callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.MaxQueueChanged {
		a.pipeline.SetMaxQueue(d.NewMaxQueue)
		slog.Info("app: playback queue bound changed", "max_queue", d.NewMaxQueue)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes require a restart", "sections", d.RestartRequired)
	}
}

// slogLevel maps a config log level to its slog equivalent.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SlogLevel is exported for cmd/voxrelay to seed its [slog.LevelVar].
func SlogLevel(l config.LogLevel) slog.Level { return slogLevel(l) }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, closes the channel and drains the playback path.
// If ctx expires first, Shutdown returns the context error and the pipeline
// finishes closing in the background.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")
		done := make(chan error, 1)
		go func() { done <- a.pipeline.Close() }()
		select {
		case err := <-done:
			if err != nil {
				slog.Warn("app: pipeline close error", "err", err)
			}
			a.stopErr = err
		case <-ctx.Done():
			slog.Warn("app: shutdown deadline exceeded")
			a.stopErr = ctx.Err()
		}
		slog.Info("app: shutdown complete")
	})
	return a.stopErr
}
