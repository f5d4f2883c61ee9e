// Package ttsclient is the HTTP collaborator that synthesizes speech audio
// for a queued line (the TTS leg of the orchestrator's speech pipeline).
package ttsclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Mode selects which TTS endpoint to call: WavOnly gets raw audio bytes with
// no latency metadata, WithMeta gets first-token/total synth latency too.
type Mode int

const (
	ModeWavOnly Mode = iota
	ModeWithMeta
)

// SynthResult is one synthesis call's outcome. TTFTMs/TotalMs are nil when
// the service (WavOnly mode) doesn't report them; callers fall back to a
// measured wall-clock duration.
type SynthResult struct {
	WavBytes []byte
	TTFTMs   *uint64
	TotalMs  *uint64
}

// Client synthesizes text to WAV audio via an HTTP TTS service.
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

type synthRequest struct {
	Text         string `json:"text"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

type ttsWithMetaResponse struct {
	TTFTMs         uint64 `json:"ttft_ms"`
	TotalMs        uint64 `json:"total_ms"`
	AudioWavBase64 string `json:"audio_wav_base64"`
}

// Synthesize renders text to audio using the configured mode.
func (c *Client) Synthesize(ctx context.Context, text string, mode Mode) (*SynthResult, error) {
	switch mode {
	case ModeWithMeta:
		return c.synthesizeWithMeta(ctx, text)
	default:
		return c.synthesizeWavOnly(ctx, text)
	}
}

func (c *Client) synthesizeWavOnly(ctx context.Context, text string) (*SynthResult, error) {
	resp, err := c.post(ctx, "/v1/tts", text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ttsclient: read wav bytes: %w", err)
	}
	return &SynthResult{WavBytes: wav}, nil
}

func (c *Client) synthesizeWithMeta(ctx context.Context, text string) (*SynthResult, error) {
	resp, err := c.post(ctx, "/v1/tts_with_meta", text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body ttsWithMetaResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("ttsclient: decode tts_with_meta response: %w", err)
	}
	wav, err := base64.StdEncoding.DecodeString(body.AudioWavBase64)
	if err != nil {
		return nil, fmt.Errorf("ttsclient: decode audio_wav_base64: %w", err)
	}

	ttft, total := body.TTFTMs, body.TotalMs
	return &SynthResult{WavBytes: wav, TTFTMs: &ttft, TotalMs: &total}, nil
}

func (c *Client) post(ctx context.Context, path, text string) (*http.Response, error) {
	body, err := json.Marshal(synthRequest{Text: text, SampleRateHz: 48000})
	if err != nil {
		return nil, fmt.Errorf("ttsclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ttsclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ttsclient: request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("ttsclient: non-success status %d", resp.StatusCode)
	}
	return resp, nil
}
