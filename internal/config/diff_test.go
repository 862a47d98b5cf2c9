package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxrelay/internal/config"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	return mustLoad(t, sampleYAML)
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is hot-reloadable, got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_MaxQueueChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Playback.MaxQueue = 8

	d := config.Diff(old, new)
	if !d.MaxQueueChanged || d.NewMaxQueue != 8 {
		t.Errorf("expected max_queue change to 8, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("max_queue is hot-reloadable, got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9999" }, "server"},
		{"url", func(c *config.Config) { c.Channel.URL = "ws://other/ws" }, "channel"},
		{"header value", func(c *config.Config) { c.Channel.Headers = map[string]string{"Authorization": "Bearer new"} }, "channel"},
		{"capture rate", func(c *config.Config) { c.Capture.SampleRate = 48000 }, "capture"},
		{"overflow", func(c *config.Config) { c.Playback.Overflow = "drop-newest" }, "playback"},
		{"concurrency", func(c *config.Config) { c.Decode.Concurrency = 8 }, "decode"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(t), baseConfig(t)
			tc.mutate(new)
			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, []string{tc.section}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tc.section)
			}
			if d.LogLevelChanged || d.MaxQueueChanged {
				t.Errorf("unexpected hot-reload change: %+v", d)
			}
		})
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Server.LogLevel = config.LogWarn
	new.Playback.MaxQueue = 0
	new.Capture.Channels = 2

	d := config.Diff(old, new)
	if !d.LogLevelChanged || !d.MaxQueueChanged {
		t.Errorf("expected both hot-reload changes, got %+v", d)
	}
	if !slices.Equal(d.RestartRequired, []string{"capture"}) {
		t.Errorf("RestartRequired = %v, want [capture]", d.RestartRequired)
	}
}
