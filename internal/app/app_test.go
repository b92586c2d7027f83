package app_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voicebridge/internal/app"
	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/internal/observe"
	convmock "github.com/MrWong99/voicebridge/pkg/provider/conversation/mock"
	fetchmock "github.com/MrWong99/voicebridge/pkg/provider/fetch/mock"
	sttmock "github.com/MrWong99/voicebridge/pkg/provider/stt/mock"
)

// testConfig returns a defaulted config listening on ephemeral loopback ports.
func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Admin.ListenAddr = "127.0.0.1:0"
	cfg.Server.ServiceName = "Test Bridge"
	cfg.Stream.FrameInterval = time.Millisecond
	cfg.Stream.EscalationDelay = 20 * time.Millisecond
	cfg.Resilience.MaxFailures = 1
	cfg.Resilience.ResetTimeout = time.Minute
	return cfg
}

type mocks struct {
	stt   *sttmock.Transcriber
	conv  *convmock.Provider
	fetch *fetchmock.Fetcher
}

func testProviders() (*app.Providers, *mocks) {
	m := &mocks{
		stt:   &sttmock.Transcriber{Text: "hello"},
		conv:  &convmock.Provider{Reply: []byte(`{"action":"continue"}`)},
		fetch: &fetchmock.Fetcher{},
	}
	return &app.Providers{STT: m.stt, Conversation: m.conv, Fetch: m.fetch}, m
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers) *app.App {
	t.Helper()
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a, err := app.New(cfg, providers, app.WithMetrics(metrics), app.WithRegistry(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return a
}

// runApp starts a in the background and stops it when the test ends.
func runApp(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-done:
		t.Fatalf("Run returned before ready: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v, want nil", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestPublicRoutes_OriginPatterns(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"console.example"}
	providers, _ := testProviders()
	a := newApp(t, cfg, providers)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	wsURL := "ws" + srv.URL[len("http"):] + config.DefaultWebSocketPath

	tests := []struct {
		name   string
		origin string
		wantOK bool
	}{
		{name: "no origin header", origin: "", wantOK: true},
		{name: "allowed origin", origin: "https://console.example", wantOK: true},
		{name: "foreign origin", origin: "https://elsewhere.example", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			h := http.Header{}
			if tt.origin != "" {
				h.Set("Origin", tt.origin)
			}
			conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
			if (err == nil) != tt.wantOK {
				t.Fatalf("Dial err = %v, want ok=%v", err, tt.wantOK)
			}
			if conn != nil {
				conn.CloseNow()
			}
		})
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	providers.Fetch = nil
	if _, err := app.New(testConfig(), providers); err == nil {
		t.Fatal("New() accepted a missing fetch provider")
	}
	if _, err := app.New(testConfig(), nil); err == nil {
		t.Fatal("New() accepted nil providers")
	}
}

func TestNew_AdminDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Admin.ListenAddr = ""
	providers, _ := testProviders()
	a := newApp(t, cfg, providers)
	if a.AdminHandler() != nil {
		t.Error("AdminHandler() should be nil when the admin listener is disabled")
	}
}

func TestPublicRoutes(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	a := newApp(t, testConfig(), providers)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	code, body := getJSON(t, srv.URL+"/")
	if code != http.StatusOK || body["status"] != "healthy" || body["service"] != "Test Bridge" {
		t.Errorf("GET / = %d %v", code, body)
	}
	if body["activeSessions"] != float64(0) {
		t.Errorf("activeSessions = %v, want 0", body["activeSessions"])
	}

	code, body = getJSON(t, srv.URL+"/health")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("GET /health = %d %v", code, body)
	}

	// Operator routes are not on the public listener.
	for _, path := range []string{"/metrics", "/healthz", "/nope"} {
		if code, _ := getJSON(t, srv.URL+path); code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, code)
		}
	}
}

func TestRun_EndToEndCall(t *testing.T) {
	t.Parallel()

	providers, m := testProviders()
	a := newApp(t, testConfig(), providers)
	runApp(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+a.Addr()+config.DefaultWebSocketPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	write := func(msg string) {
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(`{"event":"connected","call_sid":"C1","stream_sid":"S1"}`)
	frame := base64.StdEncoding.EncodeToString(make([]byte, 320))
	for range 20 {
		write(`{"event":"media","media":{"payload":"` + frame + `"}}`)
	}

	deadline := time.Now().Add(3 * time.Second)
	for m.conv.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.stt.CallCount(); got != 1 {
		t.Errorf("stt calls = %d, want 1", got)
	}
	if got := m.conv.CallCount(); got != 1 {
		t.Errorf("conversation calls = %d, want 1", got)
	}

	code, body := getJSON(t, "http://"+a.Addr()+"/")
	if code != http.StatusOK || body["activeSessions"] != float64(1) {
		t.Errorf("GET / = %d %v, want one active session", code, body)
	}
}

func TestRun_AdminRoutes(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	a := newApp(t, testConfig(), providers)
	runApp(t, a)

	base := "http://" + a.AdminAddr()
	if code, body := getJSON(t, base+"/healthz"); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("GET /healthz = %d %v", code, body)
	}
	code, body := getJSON(t, base+"/readyz")
	if code != http.StatusOK {
		t.Errorf("GET /readyz = %d %v, want 200", code, body)
	}
	checks, _ := body["checks"].(map[string]any)
	for _, name := range []string{"stt", "conversation", "fetch"} {
		if checks[name] != "ok" {
			t.Errorf("check %s = %v, want ok", name, checks[name])
		}
	}

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", resp.StatusCode)
	}
}

func TestReadyz_OpenBreakerFailsReadiness(t *testing.T) {
	t.Parallel()

	providers, m := testProviders()
	m.stt.Err = errors.New("sarvam unavailable")
	a := newApp(t, testConfig(), providers)

	// MaxFailures is 1: a single failed pass opens the stt breaker.
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+config.DefaultWebSocketPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	_ = conn.Write(ctx, websocket.MessageText, []byte(`{"event":"connected","call_sid":"C1","stream_sid":"S1"}`))
	frame := base64.StdEncoding.EncodeToString(make([]byte, 320))
	for range 20 {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"event":"media","media":{"payload":"`+frame+`"}}`))
	}
	deadline := time.Now().Add(3 * time.Second)
	for m.stt.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// The pass is registered before it calls the transcriber.
	if err := a.Bridge().Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	rec := httptest.NewRecorder()
	a.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz = %d, want 503 with an open stt breaker; body %s", rec.Code, rec.Body)
	}

	// The call itself stays up.
	if a.Bridge().ActiveSessions() != 1 {
		t.Errorf("active sessions = %d, want 1", a.Bridge().ActiveSessions())
	}

	// An operator reset closes the breaker again.
	rec = httptest.NewRecorder()
	a.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/breakers/reset", nil))
	var states map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("POST /breakers/reset = %d %s (%v)", rec.Code, rec.Body, err)
	}
	if states["stt"] != "closed" {
		t.Errorf("stt breaker after reset = %q, want closed", states["stt"])
	}
	rec = httptest.NewRecorder()
	a.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /readyz after reset = %d, want 200; body %s", rec.Code, rec.Body)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	a := newApp(t, testConfig(), providers)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "256.0.0.1:0"
	providers, _ := testProviders()
	a := newApp(t, cfg, providers)

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail on an unbindable address")
	}
}
