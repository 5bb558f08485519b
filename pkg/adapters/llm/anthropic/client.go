package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

const (
	DefaultModel     = "claude-3-5-haiku-latest"
	DefaultMaxTokens = 1024
)

// Client implements ports.LLMClient on the Anthropic Messages API.
type Client struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
	metrics      ports.MetricsCollector
	logger       *zap.Logger
}

// Config holds the Anthropic client settings. BaseURL is only set when
// pointing at a proxy or a test server.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewClient creates an Anthropic client.
func NewClient(cfg Config, metrics ports.MetricsCollector, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Client{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.Model,
		maxTokens:    cfg.MaxTokens,
		metrics:      metrics,
		logger:       logger,
	}, nil
}

// GenerateCompletion sends a single user turn and returns the concatenated
// text blocks of the reply.
func (c *Client) GenerateCompletion(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		c.logger.Error("llm request failed",
			zap.String("model", model),
			zap.Duration("latency", latency),
			zap.Error(err))
		return nil, fmt.Errorf("failed to generate completion: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	resp := &domain.LLMResponse{
		Content:      text.String(),
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}

	c.metrics.RecordLLMCall(model, latency, resp.InputTokens, resp.OutputTokens)
	c.logger.Debug("llm request completed",
		zap.String("model", resp.Model),
		zap.Int64("input_tokens", resp.InputTokens),
		zap.Int64("output_tokens", resp.OutputTokens),
		zap.Duration("latency", latency))

	return resp, nil
}
