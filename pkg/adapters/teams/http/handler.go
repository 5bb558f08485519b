package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
)

// maxResponseBytes bounds the body read from a team service.
const maxResponseBytes = 4 << 20

// Handler is a team handler backed by a remote team service. The service
// receives the payload as JSON on POST {endpoint}/process and replies with a
// JSON object.
type Handler struct {
	team     string
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHandler creates a handler for team served at endpoint.
func NewHandler(team, endpoint string, timeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		team:     team,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// TeamName returns the team the handler serves.
func (h *Handler) TeamName() string {
	return h.team
}

// Process forwards input to the team service.
func (h *Handler) Process(ctx context.Context, input domain.Payload) (domain.Payload, error) {
	body, err := h.post(ctx, "/process", input)
	if err != nil {
		return nil, err
	}

	var out domain.Payload
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("invalid response from %s: %w", h.team, err)
	}
	return out, nil
}

func (h *Handler) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", h.team, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", h.team, err)
	}

	h.logger.Debug("team service call",
		zap.String("team", h.team),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = gjson.GetBytes(body, "error").String()
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s returned %d: %s", h.team, resp.StatusCode, msg)
	}

	return body, nil
}

// ProbingHandler is a Handler whose service also answers capability probes
// on POST {endpoint}/can-handle with {"accepted": bool}.
type ProbingHandler struct {
	*Handler
}

// NewProbingHandler creates a handler that supports capability probing.
func NewProbingHandler(team, endpoint string, timeout time.Duration, logger *zap.Logger) *ProbingHandler {
	return &ProbingHandler{Handler: NewHandler(team, endpoint, timeout, logger)}
}

// CanHandle asks the service whether it accepts input.
func (h *ProbingHandler) CanHandle(ctx context.Context, input domain.Payload) (bool, error) {
	body, err := h.post(ctx, "/can-handle", input)
	if err != nil {
		return false, err
	}
	return gjson.GetBytes(body, "accepted").Bool(), nil
}
