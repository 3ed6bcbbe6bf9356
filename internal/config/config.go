package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash-lite"
)

// Config is the process-wide configuration, built once at startup and
// passed explicitly to the components that need it.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Model      ModelConfig      `mapstructure:"model"`
	Validation ValidationConfig `mapstructure:"validation"`
	Display    DisplayConfig    `mapstructure:"display"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Dataset    DatasetConfig    `mapstructure:"dataset"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	StaticDir       string        `mapstructure:"static_dir"`
}

// ModelConfig contains the hosted model endpoint settings.
type ModelConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Name    string        `mapstructure:"name"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ValidationConfig contains the question-gating settings.
type ValidationConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

// DisplayConfig contains presentation post-processing settings.
type DisplayConfig struct {
	WordCap int `mapstructure:"word_cap"`
}

// RateLimitConfig contains the request-rate ceiling settings.
// RedisURL may be empty; the limiter then fails open.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	RedisURL string        `mapstructure:"redis_url"`
}

// DatasetConfig points at the customer CSV loaded at startup.
type DatasetConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

var baseURLVersionSuffix = regexp.MustCompile(`(?i)/v1beta\d*$|/v1$`)

// NormalizeBaseURL strips trailing slashes and a trailing API version
// segment so the SDK can append its own.
func NormalizeBaseURL(url string) string {
	if url == "" {
		return url
	}
	trimmed := strings.TrimRight(strings.TrimSpace(url), "/")
	return baseURLVersionSuffix.ReplaceAllString(trimmed, "")
}

// Load reads configuration from ADVISOR_CONFIG_PATH (or
// ./config/advisor.yaml when present), applies ADVISOR_* environment
// overrides, and fills defaults. A missing config file is not an error;
// env and defaults still apply. A .env file in the working directory is
// loaded first, development convenience only.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if cfgPath := v.GetString("config_path"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("advisor")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Model.BaseURL = NormalizeBaseURL(cfg.Model.BaseURL)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.graceful_timeout", 10*time.Second)
	v.SetDefault("server.static_dir", "./public")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", defaultBaseURL)
	v.SetDefault("model.name", defaultModel)
	v.SetDefault("model.timeout", 30*time.Second)
	v.SetDefault("validation.threshold", 0.75)
	v.SetDefault("display.word_cap", 80)
	v.SetDefault("ratelimit.requests", 30)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.redis_url", "")
	v.SetDefault("dataset.path", "./data/customers.csv")
	v.SetDefault("logging.level", "info")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Validation.Threshold < 0 || c.Validation.Threshold > 1 {
		return fmt.Errorf("validation threshold must be in [0,1], got %v", c.Validation.Threshold)
	}
	if c.Display.WordCap <= 0 {
		return fmt.Errorf("display word cap must be positive, got %d", c.Display.WordCap)
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit requires positive requests and window")
	}
	return nil
}
