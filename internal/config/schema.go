package config

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Profile     ProfileConfig     `toml:"profile"`
	Device      DeviceConfig      `toml:"device"`
	Persistence PersistenceConfig `toml:"persistence"`
	Sync        SyncConfig        `toml:"sync"`
	Audio       AudioConfig       `toml:"audio"`
	TUI         TUIConfig         `toml:"tui"`
	Log         LogConfig         `toml:"log"`
}

// ServerConfig holds media server connection settings.
type ServerConfig struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"` // milliseconds
}

// ProfileConfig pins the playback context. When ID is empty the
// profile is resolved from the server at startup.
type ProfileConfig struct {
	ID string `toml:"id"`
}

// DeviceConfig holds device identity settings.
type DeviceConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// PersistenceConfig holds local snapshot settings.
type PersistenceConfig struct {
	Backend  string `toml:"backend"` // file, sqlite or memory
	Path     string `toml:"path"`
	MaxAge   int    `toml:"max_age"`  // milliseconds
	Throttle int    `toml:"throttle"` // milliseconds
}

// SyncConfig holds the timing knobs of the synchronization core.
// All values are in milliseconds.
type SyncConfig struct {
	Debounce          int `toml:"debounce"`
	ReconnectDelay    int `toml:"reconnect_delay"`
	PlayPauseSuppress int `toml:"play_pause_suppress"`
	SeekSuppress      int `toml:"seek_suppress"`
	VolumeSuppress    int `toml:"volume_suppress"`
	ModeSuppress      int `toml:"mode_suppress"`
	AudioRetryDelay   int `toml:"audio_retry_delay"`
	FrameInterval     int `toml:"frame_interval"`
}

// AudioConfig selects the audio output.
type AudioConfig struct {
	Backend string `toml:"backend"` // mpv or silent
	MPVPath string `toml:"mpv_path"`
	Volume  int    `toml:"volume"` // initial volume, 0-100
}

// TUIConfig holds terminal UI settings.
type TUIConfig struct {
	Theme       string `toml:"theme"`
	RefreshRate int    `toml:"refresh_rate"` // milliseconds
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
	JSON  bool   `toml:"json"`
}
