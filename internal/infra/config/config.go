// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Voice     VoiceConfig             `yaml:"voice"`
	Store     StoreConfig             `yaml:"store"`
	Announcer AnnouncerConfig         `yaml:"announcer"`
	Chat      ChatConfig              `yaml:"chat"`
	Sources   map[string]SourceConfig `yaml:"sources" validate:"required,min=1"`
}

// ServerConfig represents the HTTP API server configuration.
type ServerConfig struct {
	Addr  string `yaml:"addr" default:":8080"`
	Token string `yaml:"token"` // optional; guards mutating endpoints when set
}

// VoiceConfig represents the voice service RPC client configuration.
type VoiceConfig struct {
	Addr               string `yaml:"addr" default:"http://127.0.0.1:50051" validate:"required"`
	ReconnectBackoffMs int    `yaml:"reconnect_backoff_ms" default:"2000" validate:"gte=100,lte=60000"`
}

// StoreConfig represents queue/history persistence configuration.
type StoreConfig struct {
	Path string `yaml:"path" default:"tsbox.db" validate:"required"`
}

// AnnouncerConfig represents the debounced status announcer configuration.
type AnnouncerConfig struct {
	DebounceMs    int `yaml:"debounce_ms" default:"800" validate:"gte=0,lte=10000"`
	MinIntervalMs int `yaml:"min_interval_ms" default:"3000" validate:"gte=0,lte=120000"`
	QueuePreview  int `yaml:"queue_preview" default:"5" validate:"gte=0,lte=20"`
}

// ChatConfig represents chat command dispatcher configuration.
type ChatConfig struct {
	Enabled       bool   `yaml:"enabled" default:"true"`
	Prefix        string `yaml:"prefix" default:"!"`
	MaxReplyRunes int    `yaml:"max_reply_runes" default:"700" validate:"gte=20,lte=4000"`
}

// SourceConfig represents a single music source configuration.
type SourceConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings"`
}

// NeteaseSettings is the decoded settings map for the "netease" source.
type NeteaseSettings struct {
	APIBase    string `mapstructure:"api_base"`
	Cookie     string `mapstructure:"cookie"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TSBOX_API_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("TSBOX_VOICE_ADDR"); v != "" {
		c.Voice.Addr = v
	}
	if v := os.Getenv("TSBOX_NETEASE_COOKIE"); v != "" {
		if src, ok := c.Sources["netease"]; ok {
			if src.Settings == nil {
				src.Settings = map[string]any{}
			}
			src.Settings["cookie"] = v
			c.Sources["netease"] = src
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	// The netease source must decode cleanly when enabled.
	if src, ok := c.Sources["netease"]; ok && src.Enabled {
		if _, err := c.Netease(); err != nil {
			return err
		}
	}

	return nil
}

// Netease decodes the netease source settings.
func (c *Config) Netease() (*NeteaseSettings, error) {
	src, ok := c.Sources["netease"]
	if !ok {
		return nil, errors.New("netease source is not configured")
	}

	var settings NeteaseSettings
	if err := mapstructure.Decode(src.Settings, &settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode netease settings")
	}
	if settings.APIBase == "" {
		return nil, errors.New("netease api_base is required")
	}
	if settings.TimeoutSec <= 0 {
		settings.TimeoutSec = 20
	}
	return &settings, nil
}

// IsSourceEnabled checks if a music source is enabled.
func (c *Config) IsSourceEnabled(name string) bool {
	if src, ok := c.Sources[name]; ok {
		return src.Enabled
	}
	return false
}
