package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"gpt-relay/internal/models"
)

const (
	defaultPort             = 8000
	defaultBaseURL          = "https://api.openai.com/v1"
	defaultUpstreamTimeout  = 60 * time.Second
	defaultMaxRetries       = 2
	defaultMaxUploadBytes   = 20 << 20 // 20 MiB
	defaultModel            = "gpt-4-1106-preview"
	defaultWebSearchModel   = "gpt-4.1"
	defaultImageModel       = "gpt-4.1"
	defaultSearchContextLen = "medium"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Models   ModelsConfig   `yaml:"models"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port           int      `yaml:"port" env:"PORT"`
	CORSOrigins    []string `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	MaxUploadBytes int64    `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
}

// UpstreamConfig captures authentication and transport settings for the provider.
type UpstreamConfig struct {
	APIKey     string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"UPSTREAM_TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"UPSTREAM_MAX_RETRIES"`
	Headers    Headers       `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with every upstream request.
type Headers map[string]string

// ModelsConfig holds the model catalog used for resolution and listing.
type ModelsConfig struct {
	Default          string            `yaml:"default" env:"GPT_MODEL"`
	WebSearchDefault string            `yaml:"web_search_default" env:"WEB_SEARCH_MODEL"`
	ImageDefault     string            `yaml:"image_default" env:"IMAGE_MODEL"`
	Aliases          map[string]string `yaml:"aliases"`
	NoWebSearch      []string          `yaml:"no_web_search"`
	Available        []models.Model    `yaml:"available"`
	// SearchContextSize is used when a search request does not specify one.
	SearchContextSize string          `yaml:"search_context_size" env:"SEARCH_CONTEXT_SIZE"`
	FallbackLocation  models.Location `yaml:"fallback_location"`
}

// LoggingConfig selects log level, format and an optional rotating file.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	File   string `yaml:"file" env:"LOG_FILE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           defaultPort,
			CORSOrigins:    []string{"*"},
			MaxUploadBytes: defaultMaxUploadBytes,
		},
		Upstream: UpstreamConfig{
			BaseURL:    defaultBaseURL,
			Timeout:    defaultUpstreamTimeout,
			MaxRetries: defaultMaxRetries,
		},
		Models: ModelsConfig{
			Default:          defaultModel,
			WebSearchDefault: defaultWebSearchModel,
			ImageDefault:     defaultImageModel,
			Aliases: map[string]string{
				"gpt-4-turbo":  "gpt-4-1106-preview",
				"gpt-4-vision": "gpt-4-vision-preview",
			},
			NoWebSearch: []string{
				"gpt-4",
				"gpt-4-1106-preview",
				"gpt-4-vision-preview",
				"gpt-3.5-turbo",
			},
			Available: []models.Model{
				{ID: "gpt-4.1", Name: "GPT-4.1"},
				{ID: "gpt-4-1106-preview", Name: "GPT-4 Turbo"},
				{ID: "gpt-4", Name: "GPT-4"},
			},
			SearchContextSize: defaultSearchContextLen,
			FallbackLocation: models.Location{
				Country:  "KR",
				City:     "Seoul",
				Region:   "Seoul",
				Timezone: "Asia/Seoul",
			},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment, in that order, and validates the result.
func Load(path string) (Config, error) {
	cfg, err := read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadModels reads the configuration like Load but checks only the models
// section, for commands that never reach the upstream.
func LoadModels(path string) (ModelsConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return ModelsConfig{}, err
	}
	if err := cfg.Models.validate(); err != nil {
		return ModelsConfig{}, err
	}
	return cfg.Models, nil
}

func read(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}

	if err := c.Upstream.validate(); err != nil {
		return err
	}
	if err := c.Models.validate(); err != nil {
		return err
	}
	return c.Logging.validate()
}

func (u UpstreamConfig) validate() error {
	if strings.TrimSpace(u.APIKey) == "" {
		return fmt.Errorf("upstream.api_key must be provided")
	}
	if strings.TrimSpace(u.BaseURL) == "" {
		return fmt.Errorf("upstream.base_url must be provided")
	}
	parsed, err := url.Parse(u.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("upstream.base_url %q must be an absolute http(s) URL", u.BaseURL)
	}
	if u.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive, got %s", u.Timeout)
	}
	if u.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must not be negative, got %d", u.MaxRetries)
	}
	for headerKey := range u.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("upstream: header %q is not a valid canonical HTTP header", headerKey)
		}
	}
	return nil
}

func (m ModelsConfig) validate() error {
	if strings.TrimSpace(m.Default) == "" {
		return fmt.Errorf("models.default must not be empty")
	}
	if strings.TrimSpace(m.WebSearchDefault) == "" {
		return fmt.Errorf("models.web_search_default must not be empty")
	}
	if strings.TrimSpace(m.ImageDefault) == "" {
		return fmt.Errorf("models.image_default must not be empty")
	}
	if slices.Contains(m.NoWebSearch, m.WebSearchDefault) {
		return fmt.Errorf("models.web_search_default %q is listed in models.no_web_search", m.WebSearchDefault)
	}
	switch m.SearchContextSize {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("models.search_context_size %q must be one of low, medium or high", m.SearchContextSize)
	}

	for alias, target := range m.Aliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("models: alias name must not be empty")
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("models: alias %q target must not be empty", alias)
		}
	}
	for _, model := range m.Available {
		if strings.TrimSpace(model.ID) == "" {
			return fmt.Errorf("models: available model id must not be empty")
		}
	}
	return nil
}

func (l LoggingConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", l.Level)
	}
	switch strings.ToLower(strings.TrimSpace(l.Format)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be json or text", l.Format)
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
