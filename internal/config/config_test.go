package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8090"
  log_level: debug

channel:
  url: wss://speech.example.com/api/chatbot/audio/ws/s2s-generate
  frame_type: audio/wav
  headers:
    Authorization: Bearer t0k
  dial_timeout: 3s
  read_limit: 1048576

capture:
  backend: portaudio
  device: "USB Mic"
  sample_rate: 16000
  channels: 1
  echo_cancellation: true
  codec: pcm
  chunk_ms: 100
  autostart: true

playback:
  backend: discard
  sample_rate: 48000
  max_queue: 64
  overflow: reject

decode:
  concurrency: 2
  max_chunk_bytes: 65536
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":8090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Channel.FrameType != audio.TypeWAV {
		t.Errorf("frame_type: got %q", cfg.Channel.FrameType)
	}
	if cfg.Channel.Headers["Authorization"] != "Bearer t0k" {
		t.Errorf("headers: got %v", cfg.Channel.Headers)
	}
	if cfg.Channel.DialTimeout != 3*time.Second {
		t.Errorf("dial_timeout: got %v", cfg.Channel.DialTimeout)
	}
	if cfg.Channel.ReadLimit != 1<<20 {
		t.Errorf("read_limit: got %d", cfg.Channel.ReadLimit)
	}
	if cfg.Playback.MaxQueue != 64 || cfg.Playback.Overflow != "reject" {
		t.Errorf("playback: got %+v", cfg.Playback)
	}
	if cfg.Decode.Concurrency != 2 || cfg.Decode.MaxChunkBytes != 65536 {
		t.Errorf("decode: got %+v", cfg.Decode)
	}

	opts := cfg.Capture.Options()
	want := audio.CaptureOptions{
		DeviceID:         "USB Mic",
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		Codec:            audio.CodecPCM,
		ChunkDuration:    100 * time.Millisecond,
	}
	if opts != want {
		t.Errorf("capture options:\n got %+v\nwant %+v", opts, want)
	}
	if !cfg.Capture.Autostart {
		t.Error("autostart: got false")
	}
}

func TestLoadFromReader_EmptyIsDefault(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Channel.URL != config.DefaultURL {
		t.Errorf("url: got %q", cfg.Channel.URL)
	}
	if cfg.Channel.FrameType != audio.TypeMPEG {
		t.Errorf("frame_type: got %q", cfg.Channel.FrameType)
	}
	if got, want := cfg.Capture.Options(), audio.DefaultCaptureOptions(); got != want {
		t.Errorf("capture options:\n got %+v\nwant %+v", got, want)
	}
	if cfg.Capture.EchoCancellation || cfg.Capture.NoiseSuppression || cfg.Capture.AutoGainControl {
		t.Error("processing stages should default to disabled")
	}
	if cfg.Playback.Backend != "speaker" || cfg.Playback.MaxQueue != 0 || cfg.Playback.Overflow != "drop-oldest" {
		t.Errorf("playback: got %+v", cfg.Playback)
	}
	if cfg.Decode.Concurrency != 4 || cfg.Decode.MaxChunkBytes != 4<<20 {
		t.Errorf("decode: got %+v", cfg.Decode)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("channel:\n  uri: ws://x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/voxrelay.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownCapture(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateCapture(config.CaptureConfig{Backend: "alsa"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("expected ErrBackendNotRegistered, got %v", err)
	}
}

func TestRegistry_UnknownPlayback(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreatePlayback(config.PlaybackConfig{Backend: "pulse"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("expected ErrBackendNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredCapture(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	dev := &mock.CaptureDevice{}
	var gotDevice string
	r.RegisterCapture("mock", func(c config.CaptureConfig) (audio.CaptureDevice, error) {
		gotDevice = c.Device
		return dev, nil
	})

	got, err := r.CreateCapture(config.CaptureConfig{Backend: "mock", Device: "hw:1"})
	if err != nil {
		t.Fatalf("CreateCapture: %v", err)
	}
	if got != dev {
		t.Error("expected the registered device")
	}
	if gotDevice != "hw:1" {
		t.Errorf("factory received device %q", gotDevice)
	}
	if _, err := got.Acquire(context.Background(), audio.DefaultCaptureOptions()); err != nil {
		t.Errorf("Acquire: %v", err)
	}
}

func TestRegistry_RegisteredPlayback(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	sink := &mock.Sink{}
	r.RegisterPlayback("mock", func(config.PlaybackConfig) (audio.Sink, error) { return sink, nil })

	got, err := r.CreatePlayback(config.PlaybackConfig{Backend: "mock"})
	if err != nil {
		t.Fatalf("CreatePlayback: %v", err)
	}
	if got != sink {
		t.Error("expected the registered sink")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	boom := errors.New("no output device")
	r.RegisterPlayback("broken", func(config.PlaybackConfig) (audio.Sink, error) { return nil, boom })

	if _, err := r.CreatePlayback(config.PlaybackConfig{Backend: "broken"}); !errors.Is(err, boom) {
		t.Errorf("expected factory error, got %v", err)
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	first, second := &mock.Sink{}, &mock.Sink{}
	r.RegisterPlayback("s", func(config.PlaybackConfig) (audio.Sink, error) { return first, nil })
	r.RegisterPlayback("s", func(config.PlaybackConfig) (audio.Sink, error) { return second, nil })

	got, err := r.CreatePlayback(config.PlaybackConfig{Backend: "s"})
	if err != nil {
		t.Fatalf("CreatePlayback: %v", err)
	}
	if got != second {
		t.Error("expected the later registration to win")
	}
}
