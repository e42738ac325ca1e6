package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func startTestServer(t *testing.T, cfg config.Config, setup ...func(*Server)) (baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Commit: "abc", BuildTime: "time"}
	srv, err := New(cfg, log, build)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, f := range setup {
		f(srv)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func getJSON(t *testing.T, req *http.Request, wantStatus int, out any) *http.Response {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status=%d, want %d (body=%s)", resp.StatusCode, wantStatus, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func TestHealthzReadyzVersion(t *testing.T) {
	rooms := 3
	baseURL := startTestServer(t, testConfig(), func(s *Server) {
		s.SetRoomCounter(func() int { return rooms })
	})

	t.Run("healthz", func(t *testing.T) {
		var body map[string]any
		getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/healthz"), http.StatusOK, &body)
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		var body map[string]any
		getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/readyz"), http.StatusOK, &body)
		if body["ready"] != true || body["rooms"] != float64(3) {
			t.Fatalf("body=%v, want ready=true rooms=3", body)
		}
	})

	t.Run("version", func(t *testing.T) {
		var got BuildInfo
		getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/version"), http.StatusOK, &got)
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})

	t.Run("request id", func(t *testing.T) {
		req := mustRequest(t, http.MethodGet, baseURL+"/healthz")
		resp := getJSON(t, req, http.StatusOK, nil)
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("expected generated X-Request-ID")
		}

		req = mustRequest(t, http.MethodGet, baseURL+"/healthz")
		req.Header.Set("X-Request-ID", "fixed-id")
		resp = getJSON(t, req, http.StatusOK, nil)
		if got := resp.Header.Get("X-Request-ID"); got != "fixed-id" {
			t.Fatalf("X-Request-ID=%q, want echoed value", got)
		}
	})

	t.Run("no static dir", func(t *testing.T) {
		getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/index.html"), http.StatusNotFound, nil)
	})
}

func TestICEEndpointSchema(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}

	baseURL := startTestServer(t, cfg)

	for _, path := range []string{"/webrtc/ice", "/turn-credentials"} {
		var payload struct {
			ICEServers []map[string]any `json:"iceServers"`
			TTL        *int64           `json:"ttl"`
		}
		resp := getJSON(t, mustRequest(t, http.MethodGet, baseURL+path), http.StatusOK, &payload)
		if got := resp.Header.Get("Cache-Control"); got != "no-store" {
			t.Fatalf("%s: Cache-Control=%q, want no-store", path, got)
		}
		if len(payload.ICEServers) != 2 {
			t.Fatalf("%s: expected 2 iceServers, got %d", path, len(payload.ICEServers))
		}
		if _, ok := payload.ICEServers[0]["urls"]; !ok {
			t.Fatalf("%s: expected urls field on first server: %#v", path, payload.ICEServers[0])
		}
		if payload.ICEServers[1]["username"] != "user" || payload.ICEServers[1]["credential"] != "pass" {
			t.Fatalf("%s: static TURN credentials not passed through: %#v", path, payload.ICEServers[1])
		}
		if payload.TTL != nil {
			t.Fatalf("%s: ttl present without TURN REST", path)
		}
	}
}

func TestICEEndpoint_EmptyListEncodesAsArray(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	resp, err := http.Get(baseURL + "/webrtc/ice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != `{"iceServers":[]}` {
		t.Fatalf("body=%s", body)
	}
}

func TestICEEndpoint_MintsTURNRESTCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"TURN:turn.example.com:3478"}},
		{URLs: []string{"turn:openrelay.metered.ca:80"}, Username: "openrelayproject", Credential: "openrelayproject"},
	}
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "secret", TTLSeconds: 600, UsernamePrefix: "aero"}

	baseURL := startTestServer(t, cfg)

	var first, second struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
		TTL        int64              `json:"ttl"`
	}
	getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/turn-credentials"), http.StatusOK, &first)
	getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/turn-credentials"), http.StatusOK, &second)

	if first.TTL != 600 {
		t.Fatalf("ttl=%d, want 600", first.TTL)
	}
	if first.ICEServers[0].Username != "" {
		t.Fatalf("STUN server must not get credentials: %#v", first.ICEServers[0])
	}
	turn := first.ICEServers[1]
	if !strings.Contains(turn.Username, ":aero:") {
		t.Fatalf("unexpected TURN username %q", turn.Username)
	}
	if cred, _ := turn.Credential.(string); cred == "" {
		t.Fatalf("missing TURN credential: %#v", turn)
	}
	if turn.Username == second.ICEServers[1].Username {
		t.Fatalf("expected per-request usernames, got %q twice", turn.Username)
	}

	static := first.ICEServers[2]
	if static.Username != "openrelayproject" {
		t.Fatalf("static TURN username overwritten: %#v", static)
	}
	if cred, _ := static.Credential.(string); cred != "openrelayproject" {
		t.Fatalf("static TURN credential overwritten: %#v", static)
	}
}

func TestWithTURNRESTCredentials_SkipsConfiguredServers(t *testing.T) {
	servers := []webrtc.ICEServer{
		{URLs: []string{"turns:turn.example.com:5349"}},
		{URLs: []string{"turn:other.example.com:3478"}, Username: "u", Credential: "p"},
		{URLs: []string{"turn:third.example.com:3478"}, Credential: "only-secret"},
		{URLs: []string{"stun:stun.example.com:3478"}},
	}

	out := withTURNRESTCredentials(servers, "1700000000:aero:x", "minted")

	if out[0].Username != "1700000000:aero:x" || out[0].Credential != "minted" {
		t.Fatalf("credential-less TURN server not minted: %#v", out[0])
	}
	if out[1].Username != "u" || out[1].Credential != "p" {
		t.Fatalf("configured TURN server changed: %#v", out[1])
	}
	if out[2].Username != "" || out[2].Credential != "only-secret" {
		t.Fatalf("partially configured TURN server changed: %#v", out[2])
	}
	if out[3].Username != "" || out[3].Credential != nil {
		t.Fatalf("STUN server got credentials: %#v", out[3])
	}
	if servers[0].Username != "" {
		t.Fatalf("input slice mutated: %#v", servers[0])
	}
}

func TestNew_RejectsInvalidTURNREST(t *testing.T) {
	cfg := testConfig()
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "secret", TTLSeconds: 600, UsernamePrefix: "a:b"}
	if _, err := New(cfg, nil, BuildInfo{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestICEEndpoint_RejectsCrossOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}

	baseURL := startTestServer(t, cfg)

	req := mustRequest(t, http.MethodGet, baseURL+"/webrtc/ice")
	req.Header.Set("Origin", "https://evil.example.com")
	getJSON(t, req, http.StatusForbidden, nil)
}

func TestICEEndpoint_CORSForAllowedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}

	baseURL := startTestServer(t, cfg)

	req := mustRequest(t, http.MethodGet, baseURL+"/webrtc/ice")
	req.Header.Set("Origin", "https://app.example.com")
	resp := getJSON(t, req, http.StatusOK, nil)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}

	preflight := mustRequest(t, http.MethodOptions, baseURL+"/webrtc/ice")
	preflight.Header.Set("Origin", "https://app.example.com")
	preflight.Header.Set("Access-Control-Request-Method", "GET")
	preflight.Header.Set("Access-Control-Request-Headers", "x-request-id")
	resp = getJSON(t, preflight, http.StatusNoContent, nil)
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "GET,OPTIONS" {
		t.Fatalf("Access-Control-Allow-Methods=%q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "x-request-id" {
		t.Fatalf("Access-Control-Allow-Headers=%q", got)
	}
}

func TestReadyzFailsOnInvalidICEConfig(t *testing.T) {
	t.Setenv("AERO_ICE_SERVERS_JSON", "[")

	cfg, err := config.Load([]string{"--listen-addr", "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("config.Load returned fatal error: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error to be captured for readiness")
	}

	baseURL := startTestServer(t, cfg)

	getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/readyz"), http.StatusServiceUnavailable, nil)
	getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/webrtc/ice"), http.StatusServiceUnavailable, nil)
}

func TestStaticAssets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>rooms</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	cfg := testConfig()
	cfg.StaticDir = dir

	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "<h1>rooms</h1>" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}

	// Routes registered by the server still take precedence.
	getJSON(t, mustRequest(t, http.MethodGet, baseURL+"/healthz"), http.StatusOK, nil)
}

func TestRecoverMiddleware(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), recoverMiddleware(log))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	c1, c2 := net.Pipe()
	_ = c2.Close()
	return c1, bufio.NewReadWriter(bufio.NewReader(c1), bufio.NewWriter(c1)), nil
}

func TestStatusWriter_Hijack(t *testing.T) {
	rec := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	conn, _, err := sw.Hijack()
	if err != nil {
		t.Fatalf("Hijack: %v", err)
	}
	_ = conn.Close()
	if !rec.hijacked || sw.status != http.StatusSwitchingProtocols {
		t.Fatalf("hijacked=%v status=%d", rec.hijacked, sw.status)
	}
	if sw.Unwrap() != http.ResponseWriter(rec) {
		t.Fatalf("Unwrap returned a different writer")
	}

	plain := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := plain.Hijack(); err == nil {
		t.Fatalf("expected error for non-hijackable writer")
	}
}
