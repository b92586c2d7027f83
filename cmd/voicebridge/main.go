// Command voicebridge bridges telephony media streams to a Flowise
// conversation flow.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MrWong99/voicebridge/internal/app"
	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/pkg/provider/conversation"
	"github.com/MrWong99/voicebridge/pkg/provider/conversation/flowise"
	"github.com/MrWong99/voicebridge/pkg/provider/fetch/httpfetch"
	"github.com/MrWong99/voicebridge/pkg/provider/stt"
	"github.com/MrWong99/voicebridge/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/voicebridge/pkg/provider/stt/openai"
	"github.com/MrWong99/voicebridge/pkg/provider/stt/sarvam"
	"github.com/MrWong99/voicebridge/pkg/provider/stt/whisper"
)

// version is overridden at build time with -ldflags "-X main.version=…".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; defaults and environment are used without it)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicebridge: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicebridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(&level))

	slog.Info("voicebridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"admin_addr", cfg.Admin.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registry:       registry,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	opts := []app.Option{app.WithRegistry(registry)}
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.Level())
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
			}
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		opts = append(opts, app.WithWatcher(w))
	}

	application, err := app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	// Run returns once ctx is cancelled and every call has been hung up.
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in gateway factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("sarvam", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []sarvam.Option
		if entry.BaseURL != "" {
			opts = append(opts, sarvam.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sarvam.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, sarvam.WithLanguage(entry.Language))
		}
		if entry.Timeout > 0 {
			opts = append(opts, sarvam.WithTimeout(entry.Timeout))
		}
		return sarvam.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, oaistt.WithLanguage(entry.Language))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaistt.WithTimeout(entry.Timeout))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.Timeout > 0 {
			opts = append(opts, deepgram.WithTimeout(entry.Timeout))
		}
		if kws := optStrings(entry.Options, "keywords"); len(kws) > 0 {
			opts = append(opts, deepgram.WithKeywords(kws...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(entry.Timeout))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterConversation("flowise", func(entry config.ProviderEntry) (conversation.Provider, error) {
		var opts []flowise.Option
		if entry.APIKey != "" {
			opts = append(opts, flowise.WithAPIKey(entry.APIKey))
		}
		if entry.Timeout > 0 {
			opts = append(opts, flowise.WithTimeout(entry.Timeout))
		}
		return flowise.New(entry.BaseURL, opts...)
	})
}

// buildProviders instantiates the gateways named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	transcriber, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "model", cfg.Providers.STT.Model)

	conv, err := reg.CreateConversation(cfg.Providers.Conversation)
	if err != nil {
		return nil, fmt.Errorf("create conversation provider %q: %w", cfg.Providers.Conversation.Name, err)
	}
	slog.Info("provider created", "kind", "conversation", "name", cfg.Providers.Conversation.Name)

	var fetchOpts []httpfetch.Option
	if cfg.Providers.Fetch.Timeout > 0 {
		fetchOpts = append(fetchOpts, httpfetch.WithTimeout(cfg.Providers.Fetch.Timeout))
	}
	if cfg.Providers.Fetch.MaxBytes > 0 {
		fetchOpts = append(fetchOpts, httpfetch.WithMaxBytes(cfg.Providers.Fetch.MaxBytes))
	}

	return &app.Providers{
		STT:          transcriber,
		Conversation: conv,
		Fetch:        httpfetch.New(fetchOpts...),
	}, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optStrings extracts a list of strings from a provider Options map[string]any.
// YAML decodes sequences as []any; non-string elements are skipped.
func optStrings(opts map[string]any, key string) []string {
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
