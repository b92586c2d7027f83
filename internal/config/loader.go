package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":          {"sarvam", "openai", "deepgram", "whisper"},
	"conversation": {"flowise"},
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":10000"
	DefaultAdminAddr       = ":9090"
	DefaultWebSocketPath   = "/voicebot"
	DefaultServiceName     = "Exotel Voicebot Bridge"
	DefaultBufferFrames    = 20
	DefaultFrameBytes      = 1280
	DefaultFrameInterval   = 100 * time.Millisecond
	DefaultSampleRate      = 8000
	DefaultEscalationDelay = time.Second
	DefaultReadLimit       = 1 << 20
	DefaultWriteTimeout    = 5 * time.Second
	DefaultFetchMaxBytes   = 10 << 20
	DefaultMaxFailures     = 5
	DefaultResetTimeout    = 30 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. The file is optional: an empty path yields the defaults with
// environment overrides applied.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults, applies
// environment overrides and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.WebSocketPath, DefaultWebSocketPath)
	setDefault(&cfg.Server.ServiceName, DefaultServiceName)

	setDefault(&cfg.Stream.BufferFrames, DefaultBufferFrames)
	setDefault(&cfg.Stream.FrameBytes, DefaultFrameBytes)
	setDefault(&cfg.Stream.FrameInterval, DefaultFrameInterval)
	setDefault(&cfg.Stream.SampleRate, DefaultSampleRate)
	setDefault(&cfg.Stream.EscalationDelay, DefaultEscalationDelay)
	setDefault(&cfg.Stream.ReadLimit, DefaultReadLimit)
	setDefault(&cfg.Stream.WriteTimeout, DefaultWriteTimeout)

	setDefault(&cfg.Providers.STT.Name, "sarvam")
	setDefault(&cfg.Providers.Conversation.Name, "flowise")
	setDefault(&cfg.Providers.Fetch.MaxBytes, DefaultFetchMaxBytes)

	setDefault(&cfg.Resilience.MaxFailures, DefaultMaxFailures)
	setDefault(&cfg.Resilience.ResetTimeout, DefaultResetTimeout)
}

// The admin listener is on by default; an explicit empty string in YAML
// cannot be told apart from an absent key, so ADMIN_ADDR="off" disables it.
const adminDisabled = "off"

// ApplyEnv overrides cfg from the environment. Unset or empty variables leave
// the file value alone. lookup is usually [os.LookupEnv].
//
//	PORT             server.listen_addr (":" + PORT)
//	LOG_LEVEL        server.log_level
//	ADMIN_ADDR       admin.listen_addr ("off" disables)
//	FLOWISE_URL      providers.conversation.base_url
//	FLOWISE_API_KEY  providers.conversation.api_key
//	SARVAM_API_KEY   providers.stt.api_key when stt is sarvam
//	OPENAI_API_KEY   providers.stt.api_key when stt is openai
//	DEEPGRAM_API_KEY providers.stt.api_key when stt is deepgram
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if port := get("PORT"); port != "" {
		cfg.Server.ListenAddr = ":" + strings.TrimPrefix(port, ":")
	}
	if lvl := get("LOG_LEVEL"); lvl != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(lvl))
	}
	switch addr := get("ADMIN_ADDR"); addr {
	case "":
		if cfg.Admin.ListenAddr == "" {
			cfg.Admin.ListenAddr = DefaultAdminAddr
		}
	case adminDisabled:
		cfg.Admin.ListenAddr = ""
	default:
		cfg.Admin.ListenAddr = addr
	}
	if cfg.Admin.ListenAddr == adminDisabled {
		cfg.Admin.ListenAddr = ""
	}

	if u := get("FLOWISE_URL"); u != "" {
		cfg.Providers.Conversation.BaseURL = u
	}
	if key := get("FLOWISE_API_KEY"); key != "" {
		cfg.Providers.Conversation.APIKey = key
	}

	sttKeys := map[string]string{
		"sarvam":   "SARVAM_API_KEY",
		"openai":   "OPENAI_API_KEY",
		"deepgram": "DEEPGRAM_API_KEY",
	}
	if env, ok := sttKeys[cfg.Providers.STT.Name]; ok {
		if key := get(env); key != "" {
			cfg.Providers.STT.APIKey = key
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if p := cfg.Server.WebSocketPath; p != "" {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("server.websocket_path %q must start with /", p))
		}
		if p == "/" || p == "/health" {
			errs = append(errs, fmt.Errorf("server.websocket_path %q collides with a status route", p))
		}
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Admin.ListenAddr != "" && cfg.Admin.ListenAddr == cfg.Server.ListenAddr {
		errs = append(errs, fmt.Errorf("admin.listen_addr %q must differ from server.listen_addr", cfg.Admin.ListenAddr))
	}

	// Stream
	s := cfg.Stream
	if s.BufferFrames < 1 {
		errs = append(errs, fmt.Errorf("stream.buffer_frames %d must be at least 1", s.BufferFrames))
	}
	if s.FrameBytes <= 0 || s.FrameBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("stream.frame_bytes %d must be a positive multiple of 2 (16-bit samples)", s.FrameBytes))
	}
	if s.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("stream.frame_interval %s must be positive", s.FrameInterval))
	}
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("stream.sample_rate %d must be positive", s.SampleRate))
	}
	if s.EscalationDelay < 0 {
		errs = append(errs, fmt.Errorf("stream.escalation_delay %s must not be negative", s.EscalationDelay))
	}
	if s.ReadLimit < 0 || s.WriteTimeout < 0 {
		errs = append(errs, errors.New("stream.read_limit and stream.write_timeout must not be negative"))
	}
	if rt := s.RealTimeInterval(); s.FrameInterval > 0 && rt > 0 && s.FrameInterval < rt {
		slog.Warn("outbound pacing is faster than real time; the far end may drop audio",
			"frame_bytes", s.FrameBytes,
			"frame_interval", s.FrameInterval,
			"real_time", rt,
		)
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("conversation", cfg.Providers.Conversation.Name)

	switch sttEntry := cfg.Providers.STT; {
	case sttEntry.Name == "":
		errs = append(errs, errors.New("providers.stt.name is required"))
	case sttEntry.Name == "whisper":
		// Self-hosted; addressed by URL instead of a key.
		if sttEntry.BaseURL == "" {
			errs = append(errs, errors.New("providers.stt.base_url is required for \"whisper\""))
		}
	case sttEntry.APIKey == "":
		errs = append(errs, fmt.Errorf("providers.stt.api_key is required for %q (set it in the file or the environment)", sttEntry.Name))
	}

	if cfg.Providers.Conversation.Name == "" {
		errs = append(errs, errors.New("providers.conversation.name is required"))
	}
	if raw := cfg.Providers.Conversation.BaseURL; raw == "" {
		errs = append(errs, errors.New("providers.conversation.base_url is required (or set FLOWISE_URL)"))
	} else if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("providers.conversation.base_url %q must be an absolute http(s) URL", raw))
	}

	for name, d := range map[string]time.Duration{
		"providers.stt.timeout":          cfg.Providers.STT.Timeout,
		"providers.conversation.timeout": cfg.Providers.Conversation.Timeout,
		"providers.fetch.timeout":        cfg.Providers.Fetch.Timeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", name, d))
		}
	}
	if cfg.Providers.Fetch.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("providers.fetch.max_bytes %d must not be negative", cfg.Providers.Fetch.MaxBytes))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience.max_failures and resilience.reset_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
