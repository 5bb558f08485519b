package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/ports"
	"github.com/aescanero/teamflow/pkg/adapters/llm/anthropic"
)

// Config holds LLM client configuration
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Metrics   ports.MetricsCollector
	Logger    *zap.Logger
}

// NewClient creates a new LLM client based on provider. An empty provider
// disables the LLM and returns a nil client.
func NewClient(cfg *Config) (ports.LLMClient, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}, cfg.Metrics, cfg.Logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
