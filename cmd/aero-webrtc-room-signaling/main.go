package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/room"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-webrtc-room-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"allowed_origins", cfg.AllowedOrigins,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"signaling_ws_ping_interval", cfg.SignalingWSPingInterval,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
		"nats_enabled", cfg.NATS.Enabled(),
		"static_dir", cfg.StaticDir,
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE server configuration; /readyz will report not ready", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	pub, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Error("failed to connect event publisher", "err", err)
		os.Exit(2)
	}

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)
	srv, err := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime})
	if err != nil {
		logger.Error("failed to configure http server", "err", err)
		_ = pub.Close()
		os.Exit(2)
	}

	m := metrics.New()
	registry := room.NewRegistry(room.WithObserver(signaling.NewRoomObserver(logger, m, pub)))
	sig := signaling.NewServer(signaling.Config{
		Registry:             registry,
		Logger:               logger,
		Metrics:              m,
		Events:               pub,
		CheckOrigin:          srv.OriginPolicy().CheckOrigin,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		WriteTimeout:         cfg.SignalingWSWriteTimeout,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
	})
	sig.RegisterRoutes(srv.Mux())
	srv.RegisterOnShutdown(sig.Close)
	srv.SetRoomCounter(registry.Len)

	m.SetGauge(metrics.RoomsActive, func() int64 { return int64(registry.Len()) })
	m.SetGauge(metrics.ConnectionsActive, func() int64 { return int64(sig.ActiveConnections()) })
	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		_ = pub.Close()
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		_ = pub.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sig.Close()
	if err := pub.Close(); err != nil {
		logger.Warn("event publisher close failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func newPublisher(cfg config.Config, logger *slog.Logger) (events.Publisher, error) {
	if !cfg.NATS.Enabled() {
		return events.Nop{}, nil
	}
	pub, err := events.ConnectNATS(events.NATSConfig{
		URL:           cfg.NATS.URL,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		Name:          "aero-webrtc-room-signaling",
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
