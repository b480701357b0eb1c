package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/charlesng35/boardsync/pkg/validator"
)

// Config represents the runtime configuration of the boardsync client.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Identity IdentityConfig `mapstructure:"identity"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Presence PresenceConfig `mapstructure:"presence"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig locates the whiteboard backend.
type ServerConfig struct {
	APIURL    string `mapstructure:"api_url" validate:"required"`
	StreamURL string `mapstructure:"stream_url" validate:"required"`
}

// IdentityConfig identifies the local user. When a token is supplied and the
// user id is empty, the id and display name are derived from the token
// claims.
type IdentityConfig struct {
	UserID      string `mapstructure:"user_id"`
	DisplayName string `mapstructure:"display_name"`
	Token       string `mapstructure:"token"`
}

// StreamConfig tunes stream connections and reconnection.
type StreamConfig struct {
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// SyncConfig tunes the optimistic stores.
type SyncConfig struct {
	EchoWindow   time.Duration `mapstructure:"echo_window"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

// PresenceConfig tunes the presence tracker.
type PresenceConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig reads configuration from defaults, an optional YAML file, and
// BOARDSYNC_* environment variables, in ascending precedence.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.api_url", "http://localhost:8000")
	v.SetDefault("server.stream_url", "ws://localhost:8000")
	v.SetDefault("stream.backoff_base", time.Second)
	v.SetDefault("stream.backoff_cap", 10*time.Second)
	v.SetDefault("stream.max_attempts", 5)
	v.SetDefault("stream.handshake_timeout", 10*time.Second)
	v.SetDefault("stream.write_timeout", 10*time.Second)
	v.SetDefault("sync.echo_window", 10*time.Second)
	v.SetDefault("sync.history_limit", 50)
	v.SetDefault("presence.refresh_interval", 30*time.Second)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("BOARDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if err := validator.Struct(c.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if c.Stream.MaxAttempts < 0 {
		return errors.New("stream config: max_attempts must not be negative")
	}
	if c.Sync.HistoryLimit < 0 {
		return errors.New("sync config: history_limit must not be negative")
	}
	return nil
}
