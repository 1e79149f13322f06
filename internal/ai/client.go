// Package ai adapts the external generative-text service into the two
// structured operations the marketplace needs: negotiation counter-offers
// and vendor price recommendations. The model's output is untyped prose
// that may or may not embed JSON, so everything downstream of the HTTP
// call is defensive: extraction ladders, numeric normalization, and a
// deterministic fallback payload for negotiations.
//
// This file implements the thin HTTP client for the generateContent API.
// It makes a single request per call (retry policy lives with the caller),
// honors the context deadline, and never logs the API key or the raw
// response body.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Error kinds surfaced by the client so callers can pick a retry policy.
var (
	// ErrRateLimited marks transient 429 responses; callers may retry
	// with backoff.
	ErrRateLimited = errors.New("ai: rate limited")

	// ErrQuotaExceeded marks billing/plan exhaustion. Never retried;
	// surfaced distinctly so the user sees an actionable message.
	ErrQuotaExceeded = errors.New("ai: quota exceeded")

	// ErrEmptyResponse is returned when the service answers without any
	// candidate text.
	ErrEmptyResponse = errors.New("ai: empty response")
)

// DefaultEndpoint is the production generateContent host.
const DefaultEndpoint = "https://generativelanguage.googleapis.com"

// Client calls the generative-text service. The zero value is not usable;
// construct with NewClient.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	httpc    *http.Client

	// MaxOutputTokens bounds the generation length.
	MaxOutputTokens int
}

// NewClient constructs a Client for the given model. endpoint may be empty
// to use the production host (tests point it at a local server).
func NewClient(endpoint, model, apiKey string) (*Client, error) {
	if model == "" {
		return nil, errors.New("ai: model is required")
	}
	if apiKey == "" {
		return nil, errors.New("ai: api key is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:        strings.TrimRight(endpoint, "/"),
		model:           model,
		apiKey:          apiKey,
		httpc:           &http.Client{Timeout: 30 * time.Second},
		MaxOutputTokens: 500,
	}, nil
}

// generateRequest mirrors the generateContent wire format.
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateContent sends one prompt and returns the first candidate's text.
// temperature selects how adventurous the generation is; the negotiation
// path uses 0.8, the recommendation path 0.7.
func (c *Client) GenerateContent(ctx context.Context, prompt string, temperature float64) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			MaxOutputTokens: c.MaxOutputTokens,
		},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ai: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp.StatusCode, raw)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("ai: decoding response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	text := gr.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// classifyHTTPError separates quota exhaustion (permanent) from transient
// rate limiting and everything else. Quota failures mention RESOURCE_EXHAUSTED
// or a quota/free-tier string in the error body.
func classifyHTTPError(status int, body []byte) error {
	lower := strings.ToLower(string(body))
	quotaHit := strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "free_tier")
	if status == http.StatusTooManyRequests {
		if quotaHit {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, snippet(lower))
		}
		return ErrRateLimited
	}
	if quotaHit {
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, snippet(lower))
	}
	return fmt.Errorf("ai: service returned status %d", status)
}

// snippet caps error-body text carried inside wrapped errors.
func snippet(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
