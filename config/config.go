package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/liondadev/fileserve/logger"
	"github.com/spf13/viper"
)

// Config is the config for the application
type Config struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	DatabasePath string `mapstructure:"sqlite"`
	// BaseURL is only used to print absolute download links.
	BaseURL string `mapstructure:"base_url"`
	// Lookup is either "id" or "slug".
	Lookup            string   `mapstructure:"lookup"`
	IgnoredUserAgents []string `mapstructure:"ignored_user_agents"`
	// TokenValidityPeriod is in seconds.
	TokenValidityPeriod int  `mapstructure:"token_validity_period"`
	XSendfile           bool `mapstructure:"x_sendfile"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       logger.Config   `mapstructure:"log"`
}

// RateLimitConfig limits requests per requester identity.
type RateLimitConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// EnvPrefix prefixes the environment variables that override config values,
// e.g. FILESERVE_TOKEN_VALIDITY_PERIOD.
const EnvPrefix = "FILESERVE"

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("sqlite", "fileserve.db")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("lookup", "id")
	v.SetDefault("ignored_user_agents", []string{})
	v.SetDefault("token_validity_period", 600)
	v.SetDefault("x_sendfile", false)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.per_second", 1.0)
	v.SetDefault("rate_limit.burst", 5)

	lc := logger.DefaultConfig()
	v.SetDefault("log.level", lc.Level)
	v.SetDefault("log.format", lc.Format)
	v.SetDefault("log.output", lc.Output)
	v.SetDefault("log.file.filename", lc.File.Filename)
	v.SetDefault("log.file.maxsize", lc.File.MaxSize)
	v.SetDefault("log.file.maxage", lc.File.MaxAge)
	v.SetDefault("log.file.maxbackups", lc.File.MaxBackups)
	v.SetDefault("log.file.compress", lc.File.Compress)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// New returns a config with default values
func New() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults are static, so this can only be a programming error
		panic(err)
	}

	return cfg
}

// Load reads the config file at path. The format follows the file extension.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return decode(v)
}

// FromReader creates a config from a reader with content of the given type
// ("json", "yaml", "toml", ...).
func FromReader(f io.Reader, configType string) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)

	if err := v.ReadConfig(f); err != nil {
		return nil, fmt.Errorf("config from reader: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the config and fills in fallbacks for unusable values.
func (c *Config) Validate() error {
	switch c.Lookup {
	case "id", "slug":
	default:
		return fmt.Errorf("config: lookup must be \"id\" or \"slug\", got %q", c.Lookup)
	}

	if c.TokenValidityPeriod <= 0 {
		c.TokenValidityPeriod = 600
	}

	if c.RateLimit.Enabled && (c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("config: rate_limit needs a positive per_second and burst")
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return nil
}

// TokenValidity is the token validity period as a duration.
func (c *Config) TokenValidity() time.Duration {
	return time.Duration(c.TokenValidityPeriod) * time.Second
}
