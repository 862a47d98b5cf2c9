// Package config provides the configuration schema, loader, backend registry
// and file watcher for the voxrelay audio relay.
package config

import (
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DefaultURL is the speech service endpoint used when channel.url is empty.
const DefaultURL = "ws://localhost:9000/api/chatbot/audio/ws/s2s-generate"

// Config is the root configuration structure for voxrelay.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Channel  ChannelConfig  `yaml:"channel"`
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
	Decode   DecodeConfig   `yaml:"decode"`
}

// ServerConfig holds the control HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control, health and metrics
	// server (e.g., ":8090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// ChannelConfig describes the duplex WebSocket to the speech service.
type ChannelConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string `yaml:"url"`

	// FrameType is the type tag applied to every inbound binary frame.
	FrameType string `yaml:"frame_type"`

	// Headers are sent with the opening handshake (e.g., Authorization).
	Headers map[string]string `yaml:"headers"`

	// DialTimeout bounds the opening handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadLimit is the largest inbound frame accepted, in bytes.
	ReadLimit int64 `yaml:"read_limit"`
}

// CaptureConfig holds the declared microphone constraints.
type CaptureConfig struct {
	// Backend selects the registered capture device (e.g., "portaudio").
	Backend string `yaml:"backend"`

	// Device selects an input device by name or index. Empty means the
	// system default.
	Device string `yaml:"device"`

	SampleRate       int  `yaml:"sample_rate"`
	Channels         int  `yaml:"channels"`
	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control"`

	// Codec is "opus" or "pcm".
	Codec audio.Codec `yaml:"codec"`

	// ChunkMS is the encoder cadence in milliseconds.
	ChunkMS int `yaml:"chunk_ms"`

	// Autostart begins capturing as soon as the channel is open.
	Autostart bool `yaml:"autostart"`
}

// Options converts c into the options handed to the capture device.
func (c CaptureConfig) Options() audio.CaptureOptions {
	return audio.CaptureOptions{
		DeviceID:         c.Device,
		SampleRate:       c.SampleRate,
		Channels:         c.Channels,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		AutoGainControl:  c.AutoGainControl,
		Codec:            c.Codec,
		ChunkDuration:    time.Duration(c.ChunkMS) * time.Millisecond,
	}
}

// PlaybackConfig configures the playback sink and queue.
type PlaybackConfig struct {
	// Backend selects the registered sink (e.g., "speaker", "discard").
	Backend string `yaml:"backend"`

	// SampleRate is the output device rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// MaxQueue bounds the playback queue. Zero means unbounded.
	// Hot-reloadable.
	MaxQueue int `yaml:"max_queue"`

	// Overflow is the policy applied when MaxQueue is reached:
	// "drop-oldest", "drop-newest" or "reject".
	Overflow string `yaml:"overflow"`
}

// DecodeConfig configures the inbound chunk decoder.
type DecodeConfig struct {
	// Concurrency bounds how many frames are materialised at once.
	Concurrency int `yaml:"concurrency"`

	// MaxChunkBytes drops frames larger than this. Zero selects 4 MiB.
	MaxChunkBytes int `yaml:"max_chunk_bytes"`
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Channel.URL == "" {
		cfg.Channel.URL = DefaultURL
	}
	if cfg.Channel.FrameType == "" {
		cfg.Channel.FrameType = audio.TypeMPEG
	}
	if cfg.Channel.DialTimeout == 0 {
		cfg.Channel.DialTimeout = 10 * time.Second
	}
	if cfg.Channel.ReadLimit == 0 {
		cfg.Channel.ReadLimit = 4 << 20
	}

	def := audio.DefaultCaptureOptions()
	if cfg.Capture.Backend == "" {
		cfg.Capture.Backend = "portaudio"
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = def.SampleRate
	}
	if cfg.Capture.Channels == 0 {
		cfg.Capture.Channels = def.Channels
	}
	if cfg.Capture.Codec == "" {
		cfg.Capture.Codec = def.Codec
	}
	if cfg.Capture.ChunkMS == 0 {
		cfg.Capture.ChunkMS = int(def.ChunkDuration / time.Millisecond)
	}

	if cfg.Playback.Backend == "" {
		cfg.Playback.Backend = "speaker"
	}
	if cfg.Playback.SampleRate == 0 {
		cfg.Playback.SampleRate = 44100
	}
	if cfg.Playback.Overflow == "" {
		cfg.Playback.Overflow = "drop-oldest"
	}

	if cfg.Decode.Concurrency == 0 {
		cfg.Decode.Concurrency = 4
	}
	if cfg.Decode.MaxChunkBytes == 0 {
		cfg.Decode.MaxChunkBytes = 4 << 20
	}
}
