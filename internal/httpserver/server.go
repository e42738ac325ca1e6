package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Server struct {
	log    *slog.Logger
	cfg    config.Config
	build  BuildInfo
	policy origin.Policy
	turn   *turnrest.Generator

	ready atomic.Bool
	rooms func() int

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:    logger,
		cfg:    cfg,
		build:  build,
		policy: origin.NewPolicy(cfg.AllowedOrigins),
		mux:    http.NewServeMux(),
	}

	if cfg.TURNREST.Enabled() {
		gen, err := turnrest.NewGenerator(turnrest.GeneratorConfig{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTLSeconds:     cfg.TURNREST.TTLSeconds,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("turn rest: %w", err)
		}
		s.turn = gen
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Other timeouts stay zero: signaling connections are upgraded and
		// long-lived, and enforce their own idle deadlines.
	}

	return s, nil
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// OriginPolicy is the browser origin policy shared by the CORS middleware and
// the signaling websocket upgrader.
func (s *Server) OriginPolicy() origin.Policy {
	return s.policy
}

// SetRoomCounter installs the active room count reported by /readyz. It must
// only be called during startup before Serve is called.
func (s *Server) SetRoomCounter(rooms func() int) {
	s.rooms = rooms
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

// RegisterOnShutdown registers a function to run when Shutdown begins. Hijacked
// websocket connections are not tracked by net/http, so their owners close
// them from here.
func (s *Server) RegisterOnShutdown(f func()) {
	s.srv.RegisterOnShutdown(f)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		if err := s.cfg.ICEConfigError(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
		body := map[string]any{"ready": true}
		if s.rooms != nil {
			body["rooms"] = s.rooms()
		}
		WriteJSON(w, http.StatusOK, body)
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	for _, path := range []string{"/webrtc/ice", "/turn-credentials"} {
		s.mux.HandleFunc("GET "+path, s.withOriginPolicy(s.handleICE))
		// The origin middleware answers CORS preflight requests itself.
		s.mux.HandleFunc("OPTIONS "+path, s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
		}))
	}

	if s.cfg.StaticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			r.Header.Set("X-Request-ID", reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http.Hijacker not supported")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			reqID := r.Header.Get("X-Request-ID")
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", reqID,
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}
