package llm

import (
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/council/pkg/adapters/llm/anthropic"
	"github.com/aescanero/council/pkg/ports"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// ProviderAnthropic is the default provider
const ProviderAnthropic = "anthropic"

// ErrMissingAPIKey is returned when no API key is configured
var ErrMissingAPIKey = errors.New("LLM API key is required")

// Config holds LLM client configuration
type Config struct {
	// Provider defaults to anthropic
	Provider string
	APIKey   string
	// RequestTimeout bounds each API call; zero keeps the SDK default
	RequestTimeout time.Duration
	// BaseURL overrides the provider endpoint, mainly for tests and proxies
	BaseURL string
	Logger  *zap.Logger
}

// NewClient creates a new LLM client based on provider
func NewClient(cfg *Config) (ports.LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderAnthropic
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch provider {
	case ProviderAnthropic:
		var opts []option.RequestOption
		if cfg.RequestTimeout > 0 {
			opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.NewClient(cfg.APIKey, logger.With(zap.String("provider", provider)), opts...)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}
