package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin to join rooms)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.SignalingWSIdleTimeout <= 0 {
		logger.Warn("startup security warning: SIGNALING_WS_IDLE_TIMEOUT is 0 while --mode=prod (dead peers hold room slots until TCP notices)",
			"warning_code", "signaling_idle_timeout_disabled_in_prod",
			"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
			"mode", cfg.Mode,
		)
	}

	// Each relayed frame is buffered whole, so very large caps weaken the
	// relay's memory bounds.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	// TURN REST only mints for servers without credentials, so configured
	// ones are served as-is either way.
	if cfg.Mode == config.ModeProd && hasStaticTURNCredentials(cfg) {
		logger.Warn("startup security warning: static TURN credentials are served to every client via /webrtc/ice (prefer TURN_REST_SHARED_SECRET)",
			"warning_code", "static_turn_credentials_in_prod",
			"mode", cfg.Mode,
		)
	}
}

func hasStaticTURNCredentials(cfg config.Config) bool {
	for _, server := range cfg.ICEServers {
		if config.ICEServerHasTURNURL(server) && server.Username != "" {
			return true
		}
	}
	return false
}
