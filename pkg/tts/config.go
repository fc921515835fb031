package tts

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-sentry/pkg/faults"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// Settings selects and configures a provider from the config file.
type Settings struct {
	Provider string        `koanf:"provider" json:"provider"`
	APIKey   string        `koanf:"api_key" json:"-"`
	BaseURL  string        `koanf:"base_url" json:"base_url,omitempty"`
	Voice    string        `koanf:"voice" json:"voice"`
	Model    string        `koanf:"model" json:"model"`
	Timeout  time.Duration `koanf:"timeout" json:"timeout"`
	// CacheSize is how many distinct phrases to keep synthesized.
	CacheSize int `koanf:"cache_size" json:"cache_size"`
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		Provider:  ProviderOpenAI,
		Voice:     VoiceOnyx,
		Model:     ModelTTS1,
		Timeout:   10 * time.Second,
		CacheSize: 16,
	}
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	var ce faults.ConfigError
	switch s.Provider {
	case ProviderOpenAI:
		if s.APIKey == "" {
			ce.Add("api_key", "required for provider %q", s.Provider)
		}
	case ProviderMock:
	default:
		ce.Add("provider", "must be %q or %q, got %q", ProviderOpenAI, ProviderMock, s.Provider)
	}
	if s.CacheSize < 0 {
		ce.Add("cache_size", "must not be negative, got %d", s.CacheSize)
	}
	if s.Timeout <= 0 {
		ce.Add("timeout", "must be positive, got %v", s.Timeout)
	}
	return ce.Err()
}

// New builds the provider named in s.
func New(s Settings, logger *slog.Logger) (Provider, error) {
	switch s.Provider {
	case ProviderOpenAI:
		p, err := NewOpenAI(
			WithAPIKey(s.APIKey),
			WithBaseURL(s.BaseURL),
			WithVoice(s.Voice),
			WithModel(s.Model),
			WithTimeout(s.Timeout),
			WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return NewCache(p, s.CacheSize), nil
	case ProviderMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, s.Provider)
	}
}

// Config holds provider options. Set it with the WithXxx options.
type Config struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option configures a provider.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the API endpoint. Empty keeps the default.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		if url != "" {
			c.BaseURL = url
		}
	}
}

// WithVoice sets the voice. Empty keeps the default.
func WithVoice(voiceID string) Option {
	return func(c *Config) {
		if voiceID != "" {
			c.VoiceID = voiceID
		}
	}
}

// WithModel sets the model. Empty keeps the default.
func WithModel(modelID string) Option {
	return func(c *Config) {
		if modelID != "" {
			c.ModelID = modelID
		}
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithRetry configures retries for rate limits and server errors.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithLogger sets the logger. nil keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// DefaultConfig returns default provider options.
func DefaultConfig() *Config {
	return &Config{
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply applies options in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
