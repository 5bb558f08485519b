package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

const classifierSystemPrompt = `You classify business content for routing.
Reply with a single JSON object and nothing else:
{"type": "transcript" | "email" | "calendar" | "unknown", "confidence": <number between 0 and 1>, "explanation": "<one sentence>"}`

// LLMClassifier classifies content with an LLM and parses the JSON reply.
type LLMClassifier struct {
	client    ports.LLMClient
	model     string
	maxTokens int
}

// NewLLMClassifier creates a classifier backed by client.
func NewLLMClassifier(client ports.LLMClient, model string, maxTokens int) *LLMClassifier {
	return &LLMClassifier{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Classify sends content to the LLM and extracts {type, confidence,
// explanation} from the reply.
func (c *LLMClassifier) Classify(ctx context.Context, content string) (*domain.Classification, error) {
	resp, err := c.client.GenerateCompletion(ctx, &domain.LLMRequest{
		Model:     c.model,
		System:    classifierSystemPrompt,
		Prompt:    "Classify the following content:\n\n" + content,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("classification request failed: %w", err)
	}

	return ParseClassification(resp.Content)
}

// ParseClassification extracts the first JSON object from text. Replies
// wrapped in prose or code fences are accepted; replies without an object
// carrying a type return domain.ErrUnparsableClassification.
func ParseClassification(text string) (*domain.Classification, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", domain.ErrUnparsableClassification)
	}

	raw := text[start : end+1]
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid JSON in reply", domain.ErrUnparsableClassification)
	}

	fields := gjson.GetMany(raw, "type", "confidence", "explanation")
	if !fields[0].Exists() || fields[0].String() == "" {
		return nil, fmt.Errorf("%w: missing type", domain.ErrUnparsableClassification)
	}

	confidence := fields[1].Float()
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &domain.Classification{
		Type:        strings.ToLower(strings.TrimSpace(fields[0].String())),
		Confidence:  confidence,
		Explanation: fields[2].String(),
	}, nil
}
