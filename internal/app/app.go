// Package app wires the voice bridge subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the bridge, the circuit
// breakers and both HTTP surfaces, Run serves until ctx is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithRegistry, WithWatcher) and mock gateways in [Providers].
package app

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebridge/internal/bridge"
	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/internal/health"
	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/resilience"
	"github.com/MrWong99/voicebridge/internal/telephony"
	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/provider/conversation"
	"github.com/MrWong99/voicebridge/pkg/provider/fetch"
	"github.com/MrWong99/voicebridge/pkg/provider/stt"
)

// shutdownTimeout bounds the drain that Run performs once ctx is cancelled.
const shutdownTimeout = 15 * time.Second

// Providers holds one gateway per pipeline stage. Populated by main.go via the
// config registry. All three are required.
type Providers struct {
	STT          stt.Transcriber
	Conversation conversation.Provider
	Fetch        fetch.Fetcher
}

// App owns all subsystem lifetimes of the bridge.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	registry *prometheus.Registry
	watcher  *config.Watcher

	bridge   *bridge.Bridge
	breakers []*resilience.CircuitBreaker
	public   *http.Server
	admin    *http.Server

	// ready is closed once every listener is bound.
	ready     chan struct{}
	addrMu    sync.Mutex
	addr      string
	adminAddr string

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry serves /metrics from reg instead of the default Prometheus
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithWatcher runs w next to the servers so config edits are picked up.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the gateways built by main.go. Every
// gateway is wrapped in its own circuit breaker; the breakers also drive the
// admin readiness probe.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.Conversation == nil || providers.Fetch == nil {
		return nil, errors.New("app: stt, conversation and fetch providers are required")
	}

	a := &App{
		cfg:   cfg,
		ready: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Circuit breakers ──────────────────────────────────────────────
	guardedSTT := resilience.GuardTranscriber(providers.STT, a.newBreaker("stt"))
	guardedConv := resilience.GuardConversation(providers.Conversation, a.newBreaker("conversation"))
	guardedFetch := resilience.GuardFetcher(providers.Fetch, a.newBreaker("fetch"))
	a.breakers = []*resilience.CircuitBreaker{guardedSTT.Breaker(), guardedConv.Breaker(), guardedFetch.Breaker()}

	// ── 2. Bridge ────────────────────────────────────────────────────────
	a.bridge = bridge.New(guardedSTT, guardedConv, guardedFetch, bridgeConfig(cfg.Stream), bridge.WithMetrics(a.metrics))

	// ── 3. Public listener ───────────────────────────────────────────────
	a.public = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(a.publicMux()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if t := cfg.Server.TLS; t != nil {
		a.public.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	// ── 4. Admin listener ────────────────────────────────────────────────
	if cfg.Admin.ListenAddr != "" {
		a.admin = &http.Server{
			Addr:              cfg.Admin.ListenAddr,
			Handler:           a.adminMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

func (a *App) newBreaker(name string) *resilience.CircuitBreaker {
	return resilience.New(resilience.Config{
		Name:         name,
		MaxFailures:  a.cfg.Resilience.MaxFailures,
		ResetTimeout: a.cfg.Resilience.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "gateway", name, "from", from, "to", to)
		},
	})
}

func bridgeConfig(s config.StreamConfig) bridge.Config {
	return bridge.Config{
		BufferFrames:    s.BufferFrames,
		Format:          audio.Format{SampleRate: s.SampleRate, Channels: 1, BitsPerSample: 16},
		Pacer:           audio.Pacer{FrameBytes: s.FrameBytes, Interval: s.FrameInterval},
		EscalationDelay: s.EscalationDelay,
	}
}

// publicMux routes the status endpoints and the media-stream WebSocket.
func (a *App) publicMux() *http.ServeMux {
	mux := http.NewServeMux()
	health.NewStatus(a.cfg.Server.ServiceName, a.bridge.ActiveSessions).Register(mux)
	mux.Handle("GET "+a.cfg.Server.WebSocketPath, telephony.NewHandler(a.bridge,
		telephony.WithReadLimit(a.cfg.Stream.ReadLimit),
		telephony.WithWriteTimeout(a.cfg.Stream.WriteTimeout),
		telephony.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
	))
	return mux
}

// adminMux routes metrics, the liveness and readiness probes and the
// breaker reset.
func (a *App) adminMux() *http.ServeMux {
	mux := http.NewServeMux()
	checkers := make([]health.Checker, 0, len(a.breakers))
	for _, cb := range a.breakers {
		checkers = append(checkers, health.Checker{Name: cb.Name(), Check: cb.Check})
	}
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(a.registry))
	mux.HandleFunc("POST /breakers/reset", a.resetBreakers)
	return mux
}

// resetBreakers closes every gateway breaker, for use once an operator has
// fixed the upstream. It replies with the resulting states.
func (a *App) resetBreakers(w http.ResponseWriter, _ *http.Request) {
	states := make(map[string]string, len(a.breakers))
	for _, cb := range a.breakers {
		cb.Reset()
		states[cb.Name()] = cb.State().String()
	}
	slog.Info("circuit breakers reset by operator")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(states); err != nil {
		slog.Warn("encode breaker states", "err", err)
	}
}

// Handler returns the public HTTP handler. Exposed for tests.
func (a *App) Handler() http.Handler { return a.public.Handler }

// AdminHandler returns the admin HTTP handler, or nil when the admin
// listener is disabled.
func (a *App) AdminHandler() http.Handler {
	if a.admin == nil {
		return nil
	}
	return a.admin.Handler
}

// Bridge returns the call bridge.
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run binds the listeners and serves until ctx is cancelled or a server
// fails, then shuts down. It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	publicLn, err := net.Listen("tcp", a.public.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.public.Addr, err)
	}
	var adminLn net.Listener
	if a.admin != nil {
		adminLn, err = net.Listen("tcp", a.admin.Addr)
		if err != nil {
			publicLn.Close()
			return fmt.Errorf("app: listen admin %s: %w", a.admin.Addr, err)
		}
	}

	a.addrMu.Lock()
	a.addr = publicLn.Addr().String()
	if adminLn != nil {
		a.adminAddr = adminLn.Addr().String()
	}
	a.addrMu.Unlock()
	close(a.ready)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("media stream listener started", "addr", publicLn.Addr().String(), "path", a.cfg.Server.WebSocketPath)
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			err = a.public.ServeTLS(publicLn, t.CertFile, t.KeyFile)
		} else {
			err = a.public.Serve(publicLn)
		}
		return serveErr("public", err)
	})

	if adminLn != nil {
		g.Go(func() error {
			slog.Info("admin listener started", "addr", adminLn.Addr().String())
			return serveErr("admin", a.admin.Serve(adminLn))
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func serveErr(name string, err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: %s server: %w", name, err)
}

// Ready is closed once Run has bound its listeners.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the bound public address. Valid after [App.Ready] is closed.
func (a *App) Addr() string {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// AdminAddr returns the bound admin address, or "" when disabled.
func (a *App) AdminAddr() string {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.adminAddr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, hangs up every active call and waits
// for in-flight passes. It is safe to call more than once; later calls return
// the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_sessions", a.bridge.ActiveSessions())

		var errs []error
		// Stop new upgrades first. WebSockets are hijacked, so Shutdown does
		// not wait for them; the bridge closes them below.
		if err := a.public.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: shutdown public server: %w", err))
		}
		if err := a.bridge.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: shutdown bridge: %w", err))
		}
		if a.admin != nil {
			if err := a.admin.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: shutdown admin server: %w", err))
			}
		}
		a.stopErr = errors.Join(errs...)

		slog.Info("shutdown complete")
	})
	return a.stopErr
}
