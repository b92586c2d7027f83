// Package flowise provides a conversation provider backed by a Flowise
// chatflow prediction endpoint.
//
// Each turn is posted as
//
//	{"question": "...", "overrideConfig": {"sessionId": "<call id>"}}
//
// so Flowise keeps one memory thread per call.
package flowise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/voicebridge/pkg/provider/conversation"
)

const (
	defaultTimeout = 30 * time.Second

	// maxReplyBytes bounds the reply body read into memory.
	maxReplyBytes = 1 << 20

	maxErrorBody = 512
)

// Compile-time assertion that Provider implements conversation.Provider.
var _ conversation.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIKey sets a Flowise API key sent as a Bearer token.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements conversation.Provider for Flowise.
type Provider struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Provider posting to endpoint, the full prediction URL
// (e.g. "https://flowise.example.com/api/v1/prediction/<chatflow-id>").
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("flowise: endpoint must not be empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("flowise: invalid endpoint %q", endpoint)
	}

	p := &Provider{endpoint: endpoint, timeout: defaultTimeout}
	for _, o := range opts {
		o(p)
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{
			Timeout:   p.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return p, nil
}

// Name returns "flowise".
func (p *Provider) Name() string { return "flowise" }

// predictionRequest is the Flowise prediction API body.
type predictionRequest struct {
	Question       string         `json:"question"`
	OverrideConfig overrideConfig `json:"overrideConfig"`
}

type overrideConfig struct {
	SessionID string `json:"sessionId"`
}

// Converse implements conversation.Provider.
func (p *Provider) Converse(ctx context.Context, req conversation.Request) ([]byte, error) {
	body, err := json.Marshal(predictionRequest{
		Question:       req.Question,
		OverrideConfig: overrideConfig{SessionID: req.SessionID},
	})
	if err != nil {
		return nil, fmt.Errorf("flowise: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("flowise: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("flowise: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("flowise: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("flowise: read response body: %w", err)
	}
	if len(reply) > maxReplyBytes {
		return nil, fmt.Errorf("flowise: reply exceeds %d bytes", maxReplyBytes)
	}
	return reply, nil
}
