package config_test

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/pkg/provider/conversation"
	convmock "github.com/MrWong99/voicebridge/pkg/provider/conversation/mock"
	"github.com/MrWong99/voicebridge/pkg/provider/stt"
	sttmock "github.com/MrWong99/voicebridge/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  log_level: debug
  websocket_path: /media
  service_name: Test Bridge
  allowed_origins: ["console.example.com", "*.ops.example.com"]

admin:
  listen_addr: ":9191"

stream:
  buffer_frames: 10
  frame_bytes: 640
  frame_interval: 40ms
  escalation_delay: 2s

providers:
  stt:
    name: sarvam
    api_key: sv-test
    model: saarika:v2.5
    language: en-IN
    timeout: 15s
  conversation:
    name: flowise
    base_url: https://flowise.example.com/api/v1/prediction/abc
  fetch:
    timeout: 10s

resilience:
  max_failures: 3
  reset_timeout: 10s
`

// minimalYAML carries only the values that have no default.
const minimalYAML = `
providers:
  stt:
    api_key: sv-test
  conversation:
    base_url: http://localhost:3000/api/v1/prediction/x
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// validConfig returns a defaulted config that passes Validate.
func validConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	config.ApplyEnv(cfg, noEnv)
	cfg.Providers.STT.APIKey = "sv-test"
	cfg.Providers.Conversation.BaseURL = "https://flowise.example.com/api/v1/prediction/abc"
	return cfg
}

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.WebSocketPath != "/media" {
		t.Errorf("websocket_path = %q, want /media", cfg.Server.WebSocketPath)
	}
	if cfg.Server.ServiceName != "Test Bridge" {
		t.Errorf("service_name = %q", cfg.Server.ServiceName)
	}
	if got := cfg.Server.AllowedOrigins; len(got) != 2 || got[1] != "*.ops.example.com" {
		t.Errorf("allowed_origins = %v", got)
	}
	if cfg.Stream.BufferFrames != 10 || cfg.Stream.FrameBytes != 640 {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Stream.FrameInterval != 40*time.Millisecond {
		t.Errorf("frame_interval = %s, want 40ms", cfg.Stream.FrameInterval)
	}
	if cfg.Stream.EscalationDelay != 2*time.Second {
		t.Errorf("escalation_delay = %s, want 2s", cfg.Stream.EscalationDelay)
	}
	if cfg.Providers.STT.Model != "saarika:v2.5" || cfg.Providers.STT.Language != "en-IN" {
		t.Errorf("stt = %+v", cfg.Providers.STT)
	}
	if cfg.Providers.STT.Timeout != 15*time.Second {
		t.Errorf("stt.timeout = %s", cfg.Providers.STT.Timeout)
	}
	if cfg.Resilience.MaxFailures != 3 {
		t.Errorf("max_failures = %d, want 3", cfg.Resilience.MaxFailures)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, minimalYAML)

	if cfg.Server.WebSocketPath != config.DefaultWebSocketPath {
		t.Errorf("websocket_path = %q, want %q", cfg.Server.WebSocketPath, config.DefaultWebSocketPath)
	}
	if cfg.Server.ServiceName != config.DefaultServiceName {
		t.Errorf("service_name = %q", cfg.Server.ServiceName)
	}
	if cfg.Stream.BufferFrames != 20 || cfg.Stream.FrameBytes != 1280 || cfg.Stream.SampleRate != 8000 {
		t.Errorf("stream defaults = %+v", cfg.Stream)
	}
	if cfg.Stream.FrameInterval != 100*time.Millisecond || cfg.Stream.EscalationDelay != time.Second {
		t.Errorf("stream timing defaults = %+v", cfg.Stream)
	}
	if cfg.Providers.STT.Name != "sarvam" || cfg.Providers.Conversation.Name != "flowise" {
		t.Errorf("provider names = %q/%q", cfg.Providers.STT.Name, cfg.Providers.Conversation.Name)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected an error for an unknown top-level key")
	}
}

func TestLoadFromReader_MissingRequired(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`
providers:
  stt:
    name: openai
`))
	if err == nil {
		t.Fatal("expected an error without api key and conversation URL")
	}
	// Either value may be supplied by the environment of the test runner.
	msg := err.Error()
	if !strings.Contains(msg, "api_key") && !strings.Contains(msg, "base_url") {
		t.Errorf("error %q names neither missing value", msg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load("/nonexistent/voicebridge.yaml"); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

// ── Environment ──────────────────────────────────────────────────────────────

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		env   map[string]string
		stt   string
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "port",
			env:  map[string]string{"PORT": "8080"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.ListenAddr != ":8080" {
					t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
				}
			},
		},
		{
			name: "flowise",
			env:  map[string]string{"FLOWISE_URL": "https://f.example/p/1", "FLOWISE_API_KEY": "fk"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.Conversation.BaseURL != "https://f.example/p/1" || cfg.Providers.Conversation.APIKey != "fk" {
					t.Errorf("conversation = %+v", cfg.Providers.Conversation)
				}
			},
		},
		{
			name: "sarvam key follows stt name",
			env:  map[string]string{"SARVAM_API_KEY": "sv", "OPENAI_API_KEY": "oa"},
			stt:  "sarvam",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.STT.APIKey != "sv" {
					t.Errorf("stt.api_key = %q, want sv", cfg.Providers.STT.APIKey)
				}
			},
		},
		{
			name: "openai key follows stt name",
			env:  map[string]string{"SARVAM_API_KEY": "sv", "OPENAI_API_KEY": "oa"},
			stt:  "openai",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.STT.APIKey != "oa" {
					t.Errorf("stt.api_key = %q, want oa", cfg.Providers.STT.APIKey)
				}
			},
		},
		{
			name: "deepgram key follows stt name",
			env:  map[string]string{"SARVAM_API_KEY": "sv", "DEEPGRAM_API_KEY": "dg"},
			stt:  "deepgram",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.STT.APIKey != "dg" {
					t.Errorf("stt.api_key = %q, want dg", cfg.Providers.STT.APIKey)
				}
			},
		},
		{
			name: "log level is lowercased",
			env:  map[string]string{"LOG_LEVEL": "WARN"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.LogLevel != config.LogWarn {
					t.Errorf("log_level = %q, want warn", cfg.Server.LogLevel)
				}
			},
		},
		{
			name: "admin disabled",
			env:  map[string]string{"ADMIN_ADDR": "off"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Admin.ListenAddr != "" {
					t.Errorf("admin.listen_addr = %q, want disabled", cfg.Admin.ListenAddr)
				}
			},
		},
		{
			name: "admin defaults on",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Admin.ListenAddr != config.DefaultAdminAddr {
					t.Errorf("admin.listen_addr = %q, want %q", cfg.Admin.ListenAddr, config.DefaultAdminAddr)
				}
			},
		},
		{
			name: "empty values are ignored",
			env:  map[string]string{"PORT": " ", "FLOWISE_URL": ""},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.ListenAddr != config.DefaultListenAddr {
					t.Errorf("listen_addr = %q, want default", cfg.Server.ListenAddr)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{}
			if tt.stt != "" {
				cfg.Providers.STT.Name = tt.stt
			}
			config.ApplyDefaults(cfg)
			config.ApplyEnv(cfg, envMap(tt.env))
			tt.check(t, cfg)
		})
	}
}

// ── Validation ───────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{name: "defaults with required values", mutate: func(*config.Config) {}},
		{
			name:    "invalid log level",
			mutate:  func(cfg *config.Config) { cfg.Server.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "relative websocket path",
			mutate:  func(cfg *config.Config) { cfg.Server.WebSocketPath = "voicebot" },
			wantErr: "websocket_path",
		},
		{
			name:    "websocket path shadows health",
			mutate:  func(cfg *config.Config) { cfg.Server.WebSocketPath = "/health" },
			wantErr: "status route",
		},
		{
			name:    "admin shares the public address",
			mutate:  func(cfg *config.Config) { cfg.Admin.ListenAddr = cfg.Server.ListenAddr },
			wantErr: "admin.listen_addr",
		},
		{
			name:    "incomplete tls",
			mutate:  func(cfg *config.Config) { cfg.Server.TLS = &config.TLSConfig{CertFile: "c.pem"} },
			wantErr: "tls",
		},
		{
			name:    "zero buffer frames",
			mutate:  func(cfg *config.Config) { cfg.Stream.BufferFrames = 0 },
			wantErr: "buffer_frames",
		},
		{
			name:    "odd frame bytes",
			mutate:  func(cfg *config.Config) { cfg.Stream.FrameBytes = 1281 },
			wantErr: "frame_bytes",
		},
		{
			name:    "negative escalation delay",
			mutate:  func(cfg *config.Config) { cfg.Stream.EscalationDelay = -time.Second },
			wantErr: "escalation_delay",
		},
		{
			name:    "missing stt key",
			mutate:  func(cfg *config.Config) { cfg.Providers.STT.APIKey = "" },
			wantErr: "providers.stt.api_key",
		},
		{
			name: "whisper needs no key",
			mutate: func(cfg *config.Config) {
				cfg.Providers.STT = config.ProviderEntry{Name: "whisper", BaseURL: "http://whisper:8080"}
			},
		},
		{
			name:    "whisper needs a url",
			mutate:  func(cfg *config.Config) { cfg.Providers.STT = config.ProviderEntry{Name: "whisper"} },
			wantErr: "providers.stt.base_url",
		},
		{
			name:    "missing conversation url",
			mutate:  func(cfg *config.Config) { cfg.Providers.Conversation.BaseURL = "" },
			wantErr: "providers.conversation.base_url",
		},
		{
			name:    "non-http conversation url",
			mutate:  func(cfg *config.Config) { cfg.Providers.Conversation.BaseURL = "ftp://flowise/x" },
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "negative fetch timeout",
			mutate:  func(cfg *config.Config) { cfg.Providers.Fetch.Timeout = -1 },
			wantErr: "providers.fetch.timeout",
		},
		{
			name:    "negative breaker threshold",
			mutate:  func(cfg *config.Config) { cfg.Resilience.MaxFailures = -1 },
			wantErr: "resilience",
		},
		{
			name:   "fast pacing only warns",
			mutate: func(cfg *config.Config) { cfg.Stream.FrameInterval = time.Millisecond },
		},
		{
			name:   "unknown provider name only warns",
			mutate: func(cfg *config.Config) { cfg.Providers.Conversation.Name = "custom" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.LogLevel = "bananas"
	cfg.Stream.BufferFrames = -1
	cfg.Providers.Conversation.BaseURL = ""

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"log_level", "buffer_frames", "base_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.Level(); got != tt.want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStreamConfig_RealTimeInterval(t *testing.T) {
	t.Parallel()

	s := config.StreamConfig{FrameBytes: 1280, SampleRate: 8000}
	if got := s.RealTimeInterval(); got != 80*time.Millisecond {
		t.Errorf("RealTimeInterval = %s, want 80ms", got)
	}
	if got := (config.StreamConfig{FrameBytes: 1280}).RealTimeInterval(); got != 0 {
		t.Errorf("RealTimeInterval without sample rate = %s, want 0", got)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateConversation(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateConversation: expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredSTT(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	want := &sttmock.Transcriber{}
	var gotEntry config.ProviderEntry
	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Transcriber, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateSTT(config.ProviderEntry{Name: "stub", APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotEntry.APIKey != "k" {
		t.Errorf("factory saw entry %+v", gotEntry)
	}
}

func TestRegistry_RegisteredConversation(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	want := &convmock.Provider{}
	reg.RegisterConversation("stub", func(config.ProviderEntry) (conversation.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateConversation(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterConversation("broken", func(config.ProviderEntry) (conversation.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateConversation(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}
