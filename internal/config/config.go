// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for the voice bridge.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the bridge.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Admin      AdminConfig      `yaml:"admin"`
	Stream     StreamConfig     `yaml:"stream"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds the public listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the media-stream listener binds
	// (e.g., ":10000"). The PORT environment variable overrides it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// WebSocketPath is the route telephony providers connect to.
	WebSocketPath string `yaml:"websocket_path"`

	// ServiceName is reported by the status endpoint.
	ServiceName string `yaml:"service_name"`

	// AllowedOrigins lists browser origin host patterns (path.Match syntax,
	// e.g. "console.example.com") allowed to open the media stream.
	// Telephony providers send no Origin header and need no entry.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the listener. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AdminConfig configures the operator listener serving metrics and probes.
type AdminConfig struct {
	// ListenAddr is the admin TCP address. Empty disables the admin listener.
	ListenAddr string `yaml:"listen_addr"`
}

// StreamConfig describes the audio framing on the telephony link.
type StreamConfig struct {
	// BufferFrames is the number of inbound frames that triggers a pass.
	BufferFrames int `yaml:"buffer_frames"`

	// FrameBytes is the size of one outbound frame.
	FrameBytes int `yaml:"frame_bytes"`

	// FrameInterval is the delay between two outbound frames.
	FrameInterval time.Duration `yaml:"frame_interval"`

	// SampleRate of the 16-bit mono PCM on the link.
	SampleRate int `yaml:"sample_rate"`

	// EscalationDelay is the grace period before the connection closes after
	// a reply asked for a human agent.
	EscalationDelay time.Duration `yaml:"escalation_delay"`

	// ReadLimit bounds a single inbound WebSocket message in bytes.
	ReadLimit int64 `yaml:"read_limit"`

	// WriteTimeout bounds a single outbound WebSocket write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RealTimeInterval returns how much audio one outbound frame holds.
func (s StreamConfig) RealTimeInterval() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.FrameBytes) * time.Second / time.Duration(s.SampleRate*2)
}

// ProvidersConfig declares which gateway implementation to use for each
// pipeline stage. Named entries are looked up in the [Registry].
type ProvidersConfig struct {
	STT          ProviderEntry `yaml:"stt"`
	Conversation ProviderEntry `yaml:"conversation"`
	Fetch        FetchConfig   `yaml:"fetch"`
}

// ProviderEntry is the common configuration block shared by gateway types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "sarvam", "flowise").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. For the
	// conversation gateway it is the full prediction URL and is required.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "saarika:v2.5").
	Model string `yaml:"model"`

	// Language is the BCP-47 language hint for transcription (e.g., "en-IN").
	Language string `yaml:"language"`

	// Timeout bounds one round trip. Zero uses the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// FetchConfig configures the reply-audio downloader.
type FetchConfig struct {
	// Timeout bounds one download.
	Timeout time.Duration `yaml:"timeout"`

	// MaxBytes caps the size of a downloaded file.
	MaxBytes int64 `yaml:"max_bytes"`
}

// ResilienceConfig tunes the circuit breakers guarding every gateway.
type ResilienceConfig struct {
	// MaxFailures is the number of consecutive failures that opens a breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}
