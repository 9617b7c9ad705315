package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ---------------------------------------------------------------------------
// Environment variable constants
// ---------------------------------------------------------------------------

const (
	EnvConfig    = "POLYCHAT_CONFIG"     // path to a config file that overrides the search path
	EnvConfigDir = "POLYCHAT_CONFIG_DIR" // directory searched before the defaults
)

// Gateway kinds understood by provider.NewGateway.
const (
	GatewayOpenAI = "openai" // any OpenAI-compatible chat completions endpoint
	GatewayHTTP   = "http"   // raw JSON endpoint with provider-specific envelopes
)

// ---------------------------------------------------------------------------
// Top-level Config
// ---------------------------------------------------------------------------

// Config holds all configuration for polychat.
type Config struct {
	// --- Gateway ---
	Gateway GatewayConfig `mapstructure:"gateway" json:"gateway"`

	// --- Generation defaults (per-model params override these) ---
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" json:"temperature"`

	// --- Dispatch ---
	Dispatch DispatchConfig `mapstructure:"dispatch" json:"dispatch"`

	// --- Models ---
	Models         []ModelConfig `mapstructure:"models" json:"models,omitempty"`
	DisabledModels []string      `mapstructure:"disabled_models" json:"disabled_models,omitempty"`
	DefaultModel   string        `mapstructure:"default_model" json:"default_model,omitempty"`

	// --- Server ---
	Server ServerConfig `mapstructure:"server" json:"server"`

	// --- Logging ---
	LogLevel string `mapstructure:"log_level" json:"log_level,omitempty"`
	LogFile  string `mapstructure:"log_file" json:"log_file,omitempty"`

	// --- TUI ---
	Theme string `mapstructure:"theme" json:"theme,omitempty"`

	// File the config was read from, if any (populated at load time)
	source string `json:"-"`
}

// GatewayConfig describes the hosted AI gateway every model call goes through.
type GatewayConfig struct {
	Kind    string            `mapstructure:"kind" json:"kind"`
	BaseURL string            `mapstructure:"base_url" json:"base_url"`
	APIKey  string            `mapstructure:"api_key" json:"-"`
	Timeout int               `mapstructure:"timeout" json:"timeout"` // seconds, 0=default
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`
}

// DispatchConfig bounds fan-out. Zero values mean "no limit".
type DispatchConfig struct {
	MaxConcurrent int     `mapstructure:"max_concurrent" json:"max_concurrent"`
	RateLimit     float64 `mapstructure:"rate_limit" json:"rate_limit"` // requests per second
	Burst         int     `mapstructure:"burst" json:"burst"`
}

// ModelConfig adds a model to the registry or overrides a builtin one.
type ModelConfig struct {
	ID          string         `mapstructure:"id" json:"id"`
	Name        string         `mapstructure:"name" json:"name,omitempty"`
	Provider    string         `mapstructure:"provider" json:"provider,omitempty"`
	MaxTokens   int            `mapstructure:"max_tokens" json:"max_tokens,omitempty"`
	Temperature *float64       `mapstructure:"temperature" json:"temperature,omitempty"`
	ImageInput  bool           `mapstructure:"image_input" json:"image_input,omitempty"`
	ImageOutput bool           `mapstructure:"image_output" json:"image_output,omitempty"`
	Extras      map[string]any `mapstructure:"extras" json:"extras,omitempty"`
}

// ServerConfig defines the HTTP server settings
type ServerConfig struct {
	Port     int      `mapstructure:"port" json:"port"`
	Hostname string   `mapstructure:"hostname" json:"hostname"`
	CORS     []string `mapstructure:"cors" json:"cors,omitempty"`
}

// Defaults
const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultTimeout     = 120 * time.Second
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.7
	DefaultPort        = 4096
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.kind", GatewayOpenAI)
	v.SetDefault("gateway.base_url", DefaultBaseURL)
	v.SetDefault("gateway.timeout", int(DefaultTimeout/time.Second))
	v.SetDefault("max_tokens", DefaultMaxTokens)
	v.SetDefault("temperature", DefaultTemperature)
	v.SetDefault("dispatch.max_concurrent", 0)
	v.SetDefault("dispatch.rate_limit", 0.0)
	v.SetDefault("dispatch.burst", 1)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.hostname", "localhost")
	v.SetDefault("log_level", "info")
	v.SetDefault("theme", "catppuccin-mocha")
}

// Load reads configuration from defaults, config files and the environment.
// An explicit path (from --config) takes precedence over POLYCHAT_CONFIG.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if dir := os.Getenv(EnvConfigDir); dir != "" {
			v.AddConfigPath(dir)
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "polychat"))
		}
		v.AddConfigPath(".")
		v.AddConfigPath(".polychat")
		v.SetConfigName("polychat")
		v.SetConfigType("yaml")
	}

	// Environment variables
	v.SetEnvPrefix("POLYCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("gateway.api_key", "POLYCHAT_GATEWAY_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("gateway.base_url", "POLYCHAT_GATEWAY_BASE_URL", "OPENAI_BASE_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicitly requested file must exist; the search path may come up empty.
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.source = v.ConfigFileUsed()
	return &cfg, nil
}

// Source returns the config file that was loaded, or "" for defaults only.
func (c *Config) Source() string {
	return c.source
}

// GatewayTimeout returns the HTTP timeout for gateway calls.
func (c *Config) GatewayTimeout() time.Duration {
	if c.Gateway.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.Gateway.Timeout) * time.Second
}

// ServerAddr returns host:port for the HTTP server.
func (c *Config) ServerAddr() string {
	port := c.Server.Port
	if port == 0 {
		port = DefaultPort
	}
	host := c.Server.Hostname
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// GetConfigDir returns the global config directory.
func GetConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "polychat")
}

// String renders the effective configuration with secrets masked.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	s := string(data)
	if c.Gateway.APIKey != "" {
		s += "\n(gateway api key: " + maskKey(c.Gateway.APIKey) + ")"
	}
	return s
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
