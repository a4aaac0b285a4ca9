// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/osa030/skiptracker/internal/domain/skip"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "config/tracker.yaml"

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Tracker TrackerConfig `yaml:"tracker"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Spotify SpotifyConfig `yaml:"spotify"`
}

// ServerConfig represents status API server configuration.
type ServerConfig struct {
	Addr       string      `yaml:"addr" default:":8080"`
	AdminToken string      `yaml:"admin_token" validate:"required"`
	Hooks      HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// TrackerConfig represents skip detection configuration.
type TrackerConfig struct {
	SkipThreshold         int             `yaml:"skip_threshold" mapstructure:"skip_threshold" default:"5" validate:"gte=1"`
	SkipProgressThreshold float64         `yaml:"skip_progress_threshold" mapstructure:"skip_progress_threshold" default:"0.42"`
	Timeframe             TimeframeConfig `yaml:"timeframe" mapstructure:"timeframe"`
}

// TimeframeConfig is the trailing window of the batch sweep.
type TimeframeConfig struct {
	Value int    `yaml:"value" mapstructure:"value" default:"1" validate:"gte=1"`
	Unit  string `yaml:"unit" mapstructure:"unit" default:"weeks"`
}

// StoreConfig represents the stats file location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID          string  `yaml:"client_id" validate:"required"`
	ClientSecret      string  `yaml:"client_secret" validate:"required"`
	RefreshToken      string  `yaml:"refresh_token" validate:"required"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"5" validate:"gte=0"`
	MaxRetries        int     `yaml:"max_retries" default:"3" validate:"gte=1,lte=10"`
	RequestTimeoutMs  int     `yaml:"request_timeout_ms" default:"10000" validate:"gte=100"`
}

// UnmarshalYAML decodes the tracker section leniently. Numeric fields accept
// strings, and a skip_progress_threshold that is not a number falls back to
// the default instead of failing the whole file.
func (t *TrackerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return errors.Wrap(err, "tracker section must be a mapping")
	}

	if v, ok := raw["skip_progress_threshold"]; ok {
		var f float64
		if err := mapstructure.WeakDecode(v, &f); err != nil {
			zlog.Warn().Msgf("config: skip_progress_threshold %v is not a number, using %.2f", v, skip.DefaultProgressThreshold)
			f = skip.DefaultProgressThreshold
		}
		raw["skip_progress_threshold"] = f
	}

	type plain TrackerConfig
	var out plain
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return errors.Wrap(err, "failed to build tracker decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return errors.Wrap(err, "failed to decode tracker section")
	}
	*t = TrackerConfig(out)
	return nil
}

// Window returns the sweep timeframe.
func (t TrackerConfig) Window() skip.Timeframe {
	return skip.Timeframe{Value: t.Timeframe.Value, Unit: skip.Unit(t.Timeframe.Unit)}
}

// RequestTimeout returns the per-request timeout.
func (s SpotifyConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMs) * time.Millisecond
}

// DefaultStorePath returns the stats file path under the XDG data directory.
func DefaultStorePath() string {
	return filepath.Join(xdg.DataHome, "skiptracker", "skip_count.json")
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

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	cfg.normalize()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Server.AdminToken = v
	}
}

// normalize replaces out-of-range tracker values that are corrected rather than rejected.
func (c *Config) normalize() {
	if v, ok := skip.NormalizeProgressThreshold(c.Tracker.SkipProgressThreshold); !ok {
		zlog.Warn().Msgf("config: skip_progress_threshold %v must be between 0 and 1, using %.2f",
			c.Tracker.SkipProgressThreshold, v)
		c.Tracker.SkipProgressThreshold = v
	}
	if !skip.Unit(c.Tracker.Timeframe.Unit).Known() {
		zlog.Warn().Msgf("config: unknown timeframe unit %q, counting in days", c.Tracker.Timeframe.Unit)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}
