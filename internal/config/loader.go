package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/opus"
	"github.com/MrWong99/voxrelay/pkg/audio/playback"
)

// ValidBackendNames lists known backend names per backend kind.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackendNames = map[string][]string{
	"capture":  {"portaudio"},
	"playback": {"speaker", "discard"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Channel
	if u, err := url.Parse(cfg.Channel.URL); err != nil {
		errs = append(errs, fmt.Errorf("channel.url %q is invalid: %w", cfg.Channel.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("channel.url %q must use ws or wss", cfg.Channel.URL))
	}
	if cfg.Channel.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("channel.dial_timeout %s must not be negative", cfg.Channel.DialTimeout))
	}
	if cfg.Channel.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("channel.read_limit %d must not be negative", cfg.Channel.ReadLimit))
	}

	// Capture
	validateBackendName("capture", cfg.Capture.Backend)
	if cfg.Capture.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 1 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [1, 2]", cfg.Capture.Channels))
	}
	if !cfg.Capture.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("capture.codec %q is invalid; valid values: opus, pcm", cfg.Capture.Codec))
	}
	if cfg.Capture.ChunkMS <= 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_ms %d must be positive", cfg.Capture.ChunkMS))
	} else if cfg.Capture.Codec == audio.CodecOpus && !opus.ValidFrameDuration(time.Duration(cfg.Capture.ChunkMS)*time.Millisecond) {
		errs = append(errs, fmt.Errorf("capture.chunk_ms %d is not an opus frame size; valid values: 10, 20, 40, 60", cfg.Capture.ChunkMS))
	}
	if cfg.Capture.EchoCancellation || cfg.Capture.NoiseSuppression || cfg.Capture.AutoGainControl {
		slog.Warn("capture processing requested; backends that cannot honour it will ignore it",
			"echo_cancellation", cfg.Capture.EchoCancellation,
			"noise_suppression", cfg.Capture.NoiseSuppression,
			"auto_gain_control", cfg.Capture.AutoGainControl,
		)
	}

	// Playback
	validateBackendName("playback", cfg.Playback.Backend)
	if cfg.Playback.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate %d must be positive", cfg.Playback.SampleRate))
	}
	if cfg.Playback.MaxQueue < 0 {
		errs = append(errs, fmt.Errorf("playback.max_queue %d must not be negative", cfg.Playback.MaxQueue))
	}
	if _, err := playback.ParseOverflow(cfg.Playback.Overflow); err != nil {
		errs = append(errs, fmt.Errorf("playback.overflow %q is invalid; valid values: drop-oldest, drop-newest, reject", cfg.Playback.Overflow))
	}

	// Decode
	if cfg.Decode.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("decode.concurrency %d must be at least 1", cfg.Decode.Concurrency))
	}
	if cfg.Decode.MaxChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("decode.max_chunk_bytes %d must not be negative", cfg.Decode.MaxChunkBytes))
	}
	if cfg.Channel.ReadLimit > 0 && int64(cfg.Decode.MaxChunkBytes) > cfg.Channel.ReadLimit {
		slog.Warn("decode.max_chunk_bytes exceeds channel.read_limit; larger frames never reach the decoder",
			"max_chunk_bytes", cfg.Decode.MaxChunkBytes,
			"read_limit", cfg.Channel.ReadLimit,
		)
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; it must be registered before startup",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
