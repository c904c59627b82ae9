package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g.
// LOGBOOK_NOTIFY_SERVER_BASE_URL.
const envPrefix = "LOGBOOK_NOTIFY"

// ServerConfig points the client at the platform's REST API and push socket.
type ServerConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	SocketURL string `mapstructure:"socket_url" yaml:"socket_url"`
}

// ChannelConfig tunes the live notification channel.
type ChannelConfig struct {
	KeepaliveSec      int `mapstructure:"keepalive_sec" yaml:"keepalive_sec"`
	ReconnectDelaySec int `mapstructure:"reconnect_delay_sec" yaml:"reconnect_delay_sec"`
	HandshakeSec      int `mapstructure:"handshake_sec" yaml:"handshake_sec"`
}

// PollConfig tunes the polling fallback.
type PollConfig struct {
	BaseIntervalSec int `mapstructure:"base_interval_sec" yaml:"base_interval_sec"`
	MaxIntervalSec  int `mapstructure:"max_interval_sec" yaml:"max_interval_sec"`
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
	Limit           int `mapstructure:"limit" yaml:"limit"`
}

// InboxConfig controls the in-memory notification store.
type InboxConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`

	// ToastCategories lists the categories that raise a transient toast
	// when they arrive.
	ToastCategories  []string `mapstructure:"toast_categories" yaml:"toast_categories"`
	ToastDurationSec int      `mapstructure:"toast_duration_sec" yaml:"toast_duration_sec"`

	// CachePath is the SQLite file used to keep the inbox across restarts.
	// Empty disables the cache.
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`
}

// EventsConfig tunes the refresh dispatcher.
type EventsConfig struct {
	DebounceMs   int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	MaxWaitMs    int `mapstructure:"max_wait_ms" yaml:"max_wait_ms"`
	MinSpacingMs int `mapstructure:"min_spacing_ms" yaml:"min_spacing_ms"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Channel ChannelConfig `mapstructure:"channel" yaml:"channel"`
	Poll    PollConfig    `mapstructure:"poll" yaml:"poll"`
	Inbox   InboxConfig   `mapstructure:"inbox" yaml:"inbox"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// Keepalive returns the ping interval for the live channel.
func (c ChannelConfig) Keepalive() time.Duration {
	return time.Duration(c.KeepaliveSec) * time.Second
}

// ReconnectDelay returns the fixed delay before reconnecting.
func (c ChannelConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySec) * time.Second
}

// HandshakeTimeout bounds a single dial.
func (c ChannelConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeSec) * time.Second
}

// BaseInterval returns the baseline poll period.
func (c PollConfig) BaseInterval() time.Duration {
	return time.Duration(c.BaseIntervalSec) * time.Second
}

// MaxInterval returns the backoff ceiling.
func (c PollConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalSec) * time.Second
}

// FetchTimeout bounds a single poll fetch.
func (c PollConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// ToastDuration is the display hint passed with each toast.
func (c InboxConfig) ToastDuration() time.Duration {
	return time.Duration(c.ToastDurationSec) * time.Second
}

// Categories converts ToastCategories to typed values.
func (c InboxConfig) Categories() []Category {
	out := make([]Category, 0, len(c.ToastCategories))
	for _, s := range c.ToastCategories {
		out = append(out, Category(s))
	}
	return out
}

// Debounce returns the dispatcher debounce window.
func (c EventsConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// MaxWait returns the longest a steady stream of publishes can delay an
// invocation.
func (c EventsConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// MinSpacing returns the minimum gap between two invocations.
func (c EventsConfig) MinSpacing() time.Duration {
	return time.Duration(c.MinSpacingMs) * time.Millisecond
}

// ConfigDir returns ~/.config/logbook-notify.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "logbook-notify")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/logbook-notify/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	dir := ConfigDir()
	return &AppConfig{
		Server: ServerConfig{
			BaseURL:   "http://localhost:8000/api",
			SocketURL: "ws://localhost:8000/ws/notifications/",
		},
		Channel: ChannelConfig{
			KeepaliveSec:      30,
			ReconnectDelaySec: 5,
			HandshakeSec:      10,
		},
		Poll: PollConfig{
			BaseIntervalSec: 10,
			MaxIntervalSec:  60,
			FetchTimeoutSec: 30,
			Limit:           50,
		},
		Inbox: InboxConfig{
			Capacity: 50,
			ToastCategories: []string{
				string(CategoryLogbookApproved),
				string(CategoryLogbookRejected),
				string(CategoryCommentAdded),
			},
			ToastDurationSec: 5,
			CachePath:        filepath.Join(dir, "inbox.db"),
		},
		Events: EventsConfig{
			DebounceMs:   300,
			MaxWaitMs:    1000,
			MinSpacingMs: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Path:   filepath.Join(dir, "client.log"),
		},
	}
}

// setDefaults mirrors DefaultAppConfig into v so missing keys resolve and
// environment overrides are recognised.
func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("server.base_url", d.Server.BaseURL)
	v.SetDefault("server.socket_url", d.Server.SocketURL)
	v.SetDefault("channel.keepalive_sec", d.Channel.KeepaliveSec)
	v.SetDefault("channel.reconnect_delay_sec", d.Channel.ReconnectDelaySec)
	v.SetDefault("channel.handshake_sec", d.Channel.HandshakeSec)
	v.SetDefault("poll.base_interval_sec", d.Poll.BaseIntervalSec)
	v.SetDefault("poll.max_interval_sec", d.Poll.MaxIntervalSec)
	v.SetDefault("poll.fetch_timeout_sec", d.Poll.FetchTimeoutSec)
	v.SetDefault("poll.limit", d.Poll.Limit)
	v.SetDefault("inbox.capacity", d.Inbox.Capacity)
	v.SetDefault("inbox.toast_categories", d.Inbox.ToastCategories)
	v.SetDefault("inbox.toast_duration_sec", d.Inbox.ToastDurationSec)
	v.SetDefault("inbox.cache_path", d.Inbox.CachePath)
	v.SetDefault("events.debounce_ms", d.Events.DebounceMs)
	v.SetDefault("events.max_wait_ms", d.Events.MaxWaitMs)
	v.SetDefault("events.min_spacing_ms", d.Events.MinSpacingMs)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults (plus any environment overrides)
// are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects settings the delivery components cannot run with.
func (c *AppConfig) Validate() error {
	switch {
	case c.Server.BaseURL == "":
		return errors.New("server.base_url is required")
	case c.Server.SocketURL == "":
		return errors.New("server.socket_url is required")
	case c.Channel.KeepaliveSec <= 0:
		return errors.New("channel.keepalive_sec must be positive")
	case c.Channel.ReconnectDelaySec <= 0:
		return errors.New("channel.reconnect_delay_sec must be positive")
	case c.Poll.BaseIntervalSec <= 0:
		return errors.New("poll.base_interval_sec must be positive")
	case c.Poll.MaxIntervalSec < c.Poll.BaseIntervalSec:
		return errors.New("poll.max_interval_sec must not be below poll.base_interval_sec")
	case c.Inbox.Capacity <= 0:
		return errors.New("inbox.capacity must be positive")
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("channel", cfg.Channel)
	v.Set("poll", cfg.Poll)
	v.Set("inbox", cfg.Inbox)
	v.Set("events", cfg.Events)
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
