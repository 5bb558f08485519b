package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/pkg/adapters/metrics/prometheus"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"},
		prometheus.NewCollector(promclient.NewRegistry()), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestGenerateCompletion(t *testing.T) {
	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		body, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "msg_01",
			"type":        "message",
			"role":        "assistant",
			"model":       "test-model",
			"stop_reason": "end_turn",
			"content": []map[string]interface{}{
				{"type": "text", "text": `{"type":"email",`},
				{"type": "text", "text": `"confidence":0.9}`},
			},
			"usage": map[string]interface{}{"input_tokens": 42, "output_tokens": 7},
		})
	})

	resp, err := c.GenerateCompletion(context.Background(), &domain.LLMRequest{
		System:    "classify",
		Prompt:    "hello",
		MaxTokens: 128,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"type":"email","confidence":0.9}`, resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, int64(42), resp.InputTokens)
	assert.Equal(t, int64(7), resp.OutputTokens)

	sent := gjson.ParseBytes(body)
	assert.Equal(t, "test-model", sent.Get("model").String())
	assert.Equal(t, int64(128), sent.Get("max_tokens").Int())
	assert.Equal(t, "classify", sent.Get("system.0.text").String())
	assert.Equal(t, "hello", sent.Get("messages.0.content.0.text").String())
}

func TestGenerateCompletion_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
	})

	_, err := c.GenerateCompletion(context.Background(), &domain.LLMRequest{Prompt: "x"})
	assert.Error(t, err)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, nil, zap.NewNop())
	assert.Error(t, err)
}
