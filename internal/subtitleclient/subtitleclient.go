// Package subtitleclient is the HTTP collaborator that renders subtitle
// text for a spoken line (the subtitle leg of the orchestrator's speech
// pipeline).
package subtitleclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client posts lines to a subtitle rendering service.
type Client struct {
	http    *http.Client
	baseURL string
}

// New constructs a Client targeting baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Response is the subtitle service's rendering result for one line.
type Response struct {
	OK           bool    `json:"ok"`
	RequestID    string  `json:"request_id"`
	Wrapped      string  `json:"wrapped"`
	VisibleChars uint64  `json:"visible_chars"`
	ShowS        float64 `json:"show_s"`
}

type postSubtitleRequest struct {
	Text string `json:"text"`
}

// PostSubtitle asks the subtitle service to render text for display.
func (c *Client) PostSubtitle(ctx context.Context, text string) (*Response, error) {
	body, err := json.Marshal(postSubtitleRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("subtitleclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/subtitle", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("subtitleclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subtitleclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("subtitleclient: non-success status %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("subtitleclient: decode response: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("subtitleclient: gateway returned ok=false")
	}
	return &out, nil
}
