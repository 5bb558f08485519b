package ports

import (
	"context"

	"github.com/aescanero/teamflow/internal/domain"
)

// LLMClient generates completions.
type LLMClient interface {
	GenerateCompletion(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error)
}
