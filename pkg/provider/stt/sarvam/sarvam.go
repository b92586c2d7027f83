// Package sarvam provides a batch STT provider backed by the Sarvam AI
// speech-to-text REST API.
//
// Each call uploads one WAV utterance as multipart/form-data to
// POST /speech-to-text and returns the "transcript" field of the response.
//
// Usage:
//
//	p, err := sarvam.New(apiKey,
//	    sarvam.WithLanguage("hi-IN"),
//	)
//	text, err := p.Transcribe(ctx, wav)
package sarvam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/voicebridge/pkg/provider/stt"
)

const (
	// DefaultBaseURL is the public Sarvam API endpoint.
	DefaultBaseURL = "https://api.sarvam.ai"

	// DefaultModel is the Sarvam speech recognition model.
	DefaultModel = "saarika:v2.5"

	// DefaultLanguage is the BCP-47 language code sent with every request.
	DefaultLanguage = "en-IN"

	defaultTimeout = 15 * time.Second

	// maxErrorBody caps how much of a non-2xx response is quoted in errors.
	maxErrorBody = 512
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Useful for proxies and tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModel sets the recognition model. Defaults to [DefaultModel].
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code. Defaults to [DefaultLanguage].
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
// Ignored when [WithHTTPClient] is also given.
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

// Provider implements stt.Transcriber against the Sarvam REST API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Provider authenticating with apiKey, which must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("sarvam: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		baseURL:  DefaultBaseURL,
		model:    DefaultModel,
		language: DefaultLanguage,
		timeout:  defaultTimeout,
	}
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

// Name returns "sarvam".
func (p *Provider) Name() string { return "sarvam" }

// Transcribe implements stt.Transcriber.
func (p *Provider) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// Audio part. CreateFormFile would label it application/octet-stream.
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	hdr.Set("Content-Type", "audio/wav")
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("sarvam: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("sarvam: write wav data: %w", err)
	}

	if err := mw.WriteField("model", p.model); err != nil {
		return "", fmt.Errorf("sarvam: write model field: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language_code", p.language); err != nil {
			return "", fmt.Errorf("sarvam: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("sarvam: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/speech-to-text", &body)
	if err != nil {
		return "", fmt.Errorf("sarvam: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("api-subscription-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sarvam: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("sarvam: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("sarvam: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Transcript), nil
}
