package config

import "time"

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:            "http://127.0.0.1:4533",
			RequestTimeout: 10000,
		},
		Persistence: PersistenceConfig{
			Backend:  "file",
			MaxAge:   30000,
			Throttle: 5000,
		},
		Sync: SyncConfig{
			Debounce:          500,
			ReconnectDelay:    3000,
			PlayPauseSuppress: 3000,
			SeekSuppress:      1500,
			VolumeSuppress:    1500,
			ModeSuppress:      3000,
			AudioRetryDelay:   500,
			FrameInterval:     16,
		},
		Audio: AudioConfig{
			Backend: "mpv",
			MPVPath: "mpv",
			Volume:  80,
		},
		TUI: TUIConfig{
			Theme:       "auto",
			RefreshRate: 1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	d := Default()

	// Server
	if c.Server.URL == "" {
		c.Server.URL = d.Server.URL
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = d.Server.RequestTimeout
	}

	// Persistence
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = d.Persistence.Backend
	}
	if c.Persistence.MaxAge == 0 {
		c.Persistence.MaxAge = d.Persistence.MaxAge
	}
	if c.Persistence.Throttle == 0 {
		c.Persistence.Throttle = d.Persistence.Throttle
	}

	// Sync
	if c.Sync.Debounce == 0 {
		c.Sync.Debounce = d.Sync.Debounce
	}
	if c.Sync.ReconnectDelay == 0 {
		c.Sync.ReconnectDelay = d.Sync.ReconnectDelay
	}
	if c.Sync.PlayPauseSuppress == 0 {
		c.Sync.PlayPauseSuppress = d.Sync.PlayPauseSuppress
	}
	if c.Sync.SeekSuppress == 0 {
		c.Sync.SeekSuppress = d.Sync.SeekSuppress
	}
	if c.Sync.VolumeSuppress == 0 {
		c.Sync.VolumeSuppress = d.Sync.VolumeSuppress
	}
	if c.Sync.ModeSuppress == 0 {
		c.Sync.ModeSuppress = d.Sync.ModeSuppress
	}
	if c.Sync.AudioRetryDelay == 0 {
		c.Sync.AudioRetryDelay = d.Sync.AudioRetryDelay
	}
	if c.Sync.FrameInterval == 0 {
		c.Sync.FrameInterval = d.Sync.FrameInterval
	}

	// Audio
	if c.Audio.Backend == "" {
		c.Audio.Backend = d.Audio.Backend
	}
	if c.Audio.MPVPath == "" {
		c.Audio.MPVPath = d.Audio.MPVPath
	}
	if c.Audio.Volume == 0 {
		c.Audio.Volume = d.Audio.Volume
	}

	// TUI
	if c.TUI.Theme == "" {
		c.TUI.Theme = d.TUI.Theme
	}
	if c.TUI.RefreshRate == 0 {
		c.TUI.RefreshRate = d.TUI.RefreshRate
	}

	// Log
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Millis converts a millisecond config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
