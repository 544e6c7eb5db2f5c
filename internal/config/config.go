// Package config loads ssereplay settings from defaults, an optional .env file
// and SSEREPLAY_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mroth/ssereplay"
)

// EnvPrefix is prepended to every environment variable, e.g. "app.addr" is
// read from SSEREPLAY_APP_ADDR.
const EnvPrefix = "SSEREPLAY"

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Log     LogConfig     `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
	Streams StreamsConfig `mapstructure:"streams"`
	Topics  TopicsConfig  `mapstructure:"topics"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

type AppConfig struct {
	Addr          string        `mapstructure:"addr"`
	Env           string        `mapstructure:"env"` // e.g., "local", "prod"
	CORSOrigin    string        `mapstructure:"cors_origin"`
	DefaultUserID string        `mapstructure:"default_user_id"`
	KeepAlive     time.Duration `mapstructure:"keepalive"`
	TestPage      bool          `mapstructure:"test_page"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type HistoryConfig struct {
	Size int `mapstructure:"size"`
}

type StreamConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	HeartbeatEvery uint64        `mapstructure:"heartbeat_every"`
}

type StreamsConfig struct {
	Updates       StreamConfig `mapstructure:"updates"`
	Notifications StreamConfig `mapstructure:"notifications"`
	Stocks        StreamConfig `mapstructure:"stocks"`
}

type TopicsConfig struct {
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
	Max     int           `mapstructure:"max"`
}

type AdminConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var keys = []string{
	"app.addr", "app.env", "app.cors_origin", "app.default_user_id", "app.keepalive", "app.test_page",
	"log.level", "log.format",
	"history.size",
	"streams.updates.interval", "streams.updates.heartbeat_every",
	"streams.notifications.interval", "streams.notifications.heartbeat_every",
	"streams.stocks.interval", "streams.stocks.heartbeat_every",
	"topics.idle_ttl", "topics.max",
	"admin.enabled",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.addr", ":8000")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.cors_origin", "")
	v.SetDefault("app.default_user_id", ssereplay.DefaultUserID)
	v.SetDefault("app.keepalive", ssereplay.DefaultKeepAlive)
	v.SetDefault("app.test_page", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("history.size", ssereplay.DefaultHistorySize)

	v.SetDefault("streams.updates.interval", ssereplay.DefaultUpdatesConfig.Interval)
	v.SetDefault("streams.updates.heartbeat_every", ssereplay.DefaultUpdatesConfig.HeartbeatEvery)
	v.SetDefault("streams.notifications.interval", ssereplay.DefaultNotificationsConfig.Interval)
	v.SetDefault("streams.notifications.heartbeat_every", ssereplay.DefaultNotificationsConfig.HeartbeatEvery)
	v.SetDefault("streams.stocks.interval", ssereplay.DefaultStocksConfig.Interval)
	v.SetDefault("streams.stocks.heartbeat_every", ssereplay.DefaultStocksConfig.HeartbeatEvery)

	v.SetDefault("topics.idle_ttl", ssereplay.DefaultTopicIdleTTL)
	v.SetDefault("topics.max", ssereplay.DefaultMaxTopics)

	v.SetDefault("admin.enabled", true)
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return cfg
}

// Load reads configuration from .env files, environment variables, and
// defaults, in increasing order of precedence for the latter two.
//
// The named .env files are loaded into the process environment first; with no
// names ".env" in the working directory is tried. A missing file is not an
// error. Variables already set in the environment are never overwritten.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return nil, fmt.Errorf("config: loading env files: %w", err)
	}

	cfg, err := decode(newViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// maps dot-notation to underscores (e.g., "app.addr" -> "SSEREPLAY_APP_ADDR")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		// BindEnv only fails without a key
		_ = v.BindEnv(key)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

// Validate reports every setting that the server would refuse.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Addr == "" {
		errs = append(errs, errors.New("app.addr must not be empty"))
	}
	if c.App.DefaultUserID == "" {
		errs = append(errs, errors.New("app.default_user_id must not be empty"))
	}
	if c.App.KeepAlive < 0 {
		errs = append(errs, fmt.Errorf("app.keepalive must not be negative, got %v", c.App.KeepAlive))
	}
	if c.History.Size < 1 {
		errs = append(errs, fmt.Errorf("history.size must be positive, got %d", c.History.Size))
	}
	if c.Topics.IdleTTL < 0 {
		errs = append(errs, fmt.Errorf("topics.idle_ttl must not be negative, got %v", c.Topics.IdleTTL))
	}
	if c.Topics.Max < 1 {
		errs = append(errs, fmt.Errorf("topics.max must be positive, got %d", c.Topics.Max))
	}
	for name, s := range map[string]StreamConfig{
		"updates":       c.Streams.Updates,
		"notifications": c.Streams.Notifications,
		"stocks":        c.Streams.Stocks,
	} {
		if s.Interval <= 0 {
			errs = append(errs, fmt.Errorf("streams.%s.interval must be positive, got %v", name, s.Interval))
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ServerOptions translates the configuration into options for
// ssereplay.NewServer.
func (c *Config) ServerOptions() []ssereplay.ServerOption {
	return []ssereplay.ServerOption{
		ssereplay.WithCORSAllowOrigin(c.App.CORSOrigin),
		ssereplay.WithDefaultUserID(c.App.DefaultUserID),
		ssereplay.WithKeepAlive(c.App.KeepAlive),
		ssereplay.WithTestPage(c.App.TestPage),
		ssereplay.WithHistorySize(c.History.Size),
		ssereplay.WithTopicIdleTTL(c.Topics.IdleTTL),
		ssereplay.WithMaxTopics(c.Topics.Max),
		ssereplay.WithStream(ssereplay.StreamUpdates, ssereplay.StreamConfig(c.Streams.Updates)),
		ssereplay.WithStream(ssereplay.StreamNotifications, ssereplay.StreamConfig(c.Streams.Notifications)),
		ssereplay.WithStream(ssereplay.StreamStocks, ssereplay.StreamConfig(c.Streams.Stocks)),
	}
}
