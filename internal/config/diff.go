package config

import "maps"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MaxQueueChanged bool
	NewMaxQueue     int

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether d holds any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.MaxQueueChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Playback.MaxQueue != new.Playback.MaxQueue {
		d.MaxQueueChanged = true
		d.NewMaxQueue = new.Playback.MaxQueue
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !channelEqual(old.Channel, new.Channel) {
		d.RestartRequired = append(d.RestartRequired, "channel")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	op, np := old.Playback, new.Playback
	op.MaxQueue, np.MaxQueue = 0, 0
	if op != np {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Decode != new.Decode {
		d.RestartRequired = append(d.RestartRequired, "decode")
	}
	return d
}

func channelEqual(a, b ChannelConfig) bool {
	if a.URL != b.URL || a.FrameType != b.FrameType || a.DialTimeout != b.DialTimeout || a.ReadLimit != b.ReadLimit {
		return false
	}
	return maps.Equal(a.Headers, b.Headers)
}
