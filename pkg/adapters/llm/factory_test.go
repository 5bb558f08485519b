package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/pkg/adapters/llm/anthropic"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient(&Config{Provider: ""})
	require.NoError(t, err)
	assert.Nil(t, client)

	client, err = NewClient(&Config{Provider: "anthropic", APIKey: "k", Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Client{}, client)

	_, err = NewClient(&Config{Provider: "anthropic", Logger: zap.NewNop()})
	assert.Error(t, err)

	_, err = NewClient(&Config{Provider: "openai"})
	assert.Error(t, err)
}
