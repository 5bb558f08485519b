package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// TranscriptProbe asks a recording service for a meeting transcript on
// GET {endpoint}/meetings/{id}/transcript. A 404 or a reply with
// "ready": false means the recording is not available yet.
type TranscriptProbe struct {
	endpoint string
	client   *http.Client
}

// NewTranscriptProbe creates a probe for the recording service at endpoint.
func NewTranscriptProbe(endpoint string, timeout time.Duration) *TranscriptProbe {
	return &TranscriptProbe{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// FetchTranscript returns the transcript and whether it is ready.
func (p *TranscriptProbe) FetchTranscript(ctx context.Context, meetingID string) (string, bool, error) {
	u := fmt.Sprintf("%s/meetings/%s/transcript", p.endpoint, url.PathEscape(meetingID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("recording service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", false, fmt.Errorf("failed to read recording response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("recording service returned %d", resp.StatusCode)
	}

	result := gjson.ParseBytes(body)
	transcript := result.Get("transcript").String()
	ready := result.Get("ready")
	if ready.Exists() && !ready.Bool() {
		return "", false, nil
	}

	return transcript, transcript != "", nil
}
