package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Settings holds the keys every component reads regardless of its own section.
type Settings struct {
	Environment string `mapstructure:"environment" default:"development" validate:"omitempty,oneof=development testing staging production"`
	Debug       bool   `mapstructure:"debug" default:"false"`
	ServiceName string `mapstructure:"service_name" default:"go-rest"`
}

// Config wraps a viper instance populated from defaults, a file and the environment.
type Config struct {
	v        *viper.Viper
	settings Settings
}

// Option configures a Config during New.
type Option func(*Config) error

var validate = validator.New()

// New builds a Config from the given options. Options are applied in order, so
// a file loaded after WithDefault overrides the defaults, and WithEnv overrides both.
func New(opts ...Option) (*Config, error) {
	c := &Config{v: viper.New()}
	c.v.SetDefault("environment", "development")
	c.v.SetDefault("debug", false)
	c.v.SetDefault("service_name", "go-rest")

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if err := c.Unmarshal(&c.settings); err != nil {
		return nil, err
	}
	return c, nil
}

// WithDefault registers default values. Nested maps are flattened with dots.
func WithDefault(defaults map[string]interface{}) Option {
	return func(c *Config) error {
		for k, v := range defaults {
			c.v.SetDefault(k, v)
		}
		return nil
	}
}

// WithFilepath reads a YAML, JSON or TOML file into the config.
func WithFilepath(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return errors.New("config file path cannot be empty")
		}
		c.v.SetConfigFile(path)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv binds environment variables with the given prefix, so PREFIX_HTTP_CLIENT_TIMEOUT_MS
// overrides http_client_timeout_ms.
func WithEnv(prefix string) Option {
	return func(c *Config) error {
		c.v.SetEnvPrefix(prefix)
		c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.v.AutomaticEnv()
		// AutomaticEnv only answers Get for keys viper already knows about.
		for _, key := range []string{"environment", "debug", "service_name"} {
			if err := c.v.BindEnv(key); err != nil {
				return fmt.Errorf("failed to bind env for %s: %w", key, err)
			}
		}
		return nil
	}
}

// Settings returns the common settings decoded during New.
func (c *Config) Settings() Settings {
	return c.settings
}

// Get returns the raw value for key, or nil.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// IsSet reports whether key has a value from any source.
func (c *Config) IsSet(key string) bool {
	return c.v.IsSet(key)
}

func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetStringWithDefault returns the string value of key, or def when unset or empty.
func (c *Config) GetStringWithDefault(key, def string) string {
	if s := c.v.GetString(key); s != "" {
		return s
	}
	return def
}

// GetIntWithDefault returns the int value of key, or def when unset.
func (c *Config) GetIntWithDefault(key string, def int) int {
	if !c.v.IsSet(key) {
		return def
	}
	return c.v.GetInt(key)
}

// GetDuration accepts either a duration string ("1.5s") or a number of milliseconds.
func (c *Config) GetDuration(key string) time.Duration {
	switch v := c.v.Get(key).(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	}
	return c.v.GetDuration(key)
}

// Unmarshal decodes the whole config into out and validates it with its `validate` tags.
func (c *Config) Unmarshal(out interface{}) error {
	if err := c.v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
