package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/origin"
)

const (
	envVarListenAddr      = "AERO_WEBRTC_ROOM_SIGNALING_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_WEBRTC_ROOM_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "AERO_WEBRTC_ROOM_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_WEBRTC_ROOM_SIGNALING_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_WEBRTC_ROOM_SIGNALING_MODE"
	envVarStaticDir       = "AERO_WEBRTC_ROOM_SIGNALING_STATIC_DIR"
	envVarConfigFile      = "AERO_WEBRTC_ROOM_SIGNALING_CONFIG"

	// Short aliases accepted for drop-in compatibility with simpler
	// deployments (PaaS-style HOST/PORT, CORS_ORIGINS, LOG_LEVEL).
	envVarHost              = "HOST"
	envVarPort              = "PORT"
	envVarCORSOriginsAlias  = "CORS_ORIGINS"
	envVarLogLevelAlias     = "LOG_LEVEL"
	defaultAliasHost        = "0.0.0.0"
	defaultAliasPort        = "8000"
	configFlagName          = "config"
	configFlagNameShortForm = "-" + configFlagName

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarSignalingWSWriteTimeout       = "SIGNALING_WS_WRITE_TIMEOUT"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	// Room lifecycle events.
	envVarNATSURL           = "NATS_URL"
	envVarNATSSubjectPrefix = "NATS_SUBJECT_PREFIX"

	DefaultListenAddr      = "127.0.0.1:8000"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultSignalingWSWriteTimeout       = 5 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 0

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "aero"

	DefaultNATSSubjectPrefix = "aero.signaling"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

func (c NATSConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// StaticDir serves a browser client from GET / when set.
	StaticDir string
	// ConfigFile is the YAML file the settings were layered on, if any.
	ConfigFile string

	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration
	SignalingWSWriteTimeout time.Duration

	MaxSignalingMessageBytes int64
	// MaxSignalingMessagesPerSecond limits inbound frames per connection;
	// excess frames are dropped. Zero disables the limit.
	MaxSignalingMessagesPerSecond int

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig
	NATS       NATSConfig

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. It is surfaced
// through /readyz rather than failing startup, since signaling itself does not
// depend on ICE servers.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// PeerConnectionICEServers returns the ICE server list to use when constructing
// PeerConnections inside this process (the probe).
//
// When TURN REST is enabled, the client-facing ICE list may include TURN URLs
// without credentials (because credentials are injected per /webrtc/ice request).
// Pion requires TURN credentials, so TURN servers without complete credentials
// are filtered out.
func (c Config) PeerConnectionICEServers() []webrtc.ICEServer {
	if !c.TURNREST.Enabled() {
		return c.ICEServers
	}
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, server := range c.ICEServers {
		if !ICEServerHasTURNURL(server) {
			out = append(out, server)
			continue
		}
		if strings.TrimSpace(server.Username) == "" {
			continue
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			continue
		}
		out = append(out, server)
	}
	return out
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(envLookup func(string) (string, bool), args []string) (Config, error) {
	configFile := configPathFromArgs(args)
	if configFile == "" {
		configFile = strings.TrimSpace(envOrDefault(envLookup, envVarConfigFile, ""))
	}

	// File values sit underneath the environment: a variable that is set and
	// non-empty always wins over the file.
	lookup := envLookup
	if configFile != "" {
		fc, err := readFileConfig(configFile)
		if err != nil {
			return Config{}, err
		}
		lookup = layeredLookup(envLookup, fc.values())
	}

	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel := envOrDefault(lookup, envVarLogLevel, envOrDefault(lookup, envVarLogLevelAlias, ""))
	logLevelDefault := envLogLevel
	if logLevelDefault == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, "")
	if listenAddr == "" {
		listenAddr = DefaultListenAddr
		host, hostOK := lookup(envVarHost)
		port, portOK := lookup(envVarPort)
		if (hostOK && host != "") || (portOK && port != "") {
			listenAddr = net.JoinHostPort(
				envOrDefault(lookup, envVarHost, defaultAliasHost),
				envOrDefault(lookup, envVarPort, defaultAliasPort),
			)
		}
	}

	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, envOrDefault(lookup, envVarCORSOriginsAlias, ""))
	staticDir := envOrDefault(lookup, envVarStaticDir, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	natsURL := envOrDefault(lookup, envVarNATSURL, "")
	natsSubjectPrefix := envOrDefault(lookup, envVarNATSSubjectPrefix, DefaultNATSSubjectPrefix)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	signalingWSWriteTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSWriteTimeout, DefaultSignalingWSWriteTimeout)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-webrtc-room-signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
		configFlag   string
	)

	fs.StringVar(&configFlag, configFlagName, configFile, "Optional YAML config file (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&staticDir, "static-dir", staticDir, "Directory of browser client assets served at / (env "+envVarStaticDir+")")
	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close signaling websockets idle for this long (0 = disabled; env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Interval between server pings (0 = disabled; env "+envVarSignalingWSPingInterval+")")
	fs.DurationVar(&signalingWSWriteTimeout, "signaling-ws-write-timeout", signalingWSWriteTimeout, "Deadline for each websocket write (env "+envVarSignalingWSWriteTimeout+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling message size (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Per-connection inbound message rate, excess frames are dropped (0 = unlimited; env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (AERO_ICE_SERVERS_JSON)")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs (AERO_STUN_URLS)")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs (AERO_TURN_URLS)")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (AERO_TURN_USERNAME)")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (AERO_TURN_CREDENTIAL)")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&natsURL, "nats-url", natsURL, "NATS server URL for room lifecycle events (empty = disabled; env "+envVarNATSURL+")")
	fs.StringVar(&natsSubjectPrefix, "nats-subject-prefix", natsSubjectPrefix, "NATS subject prefix for room lifecycle events (env "+envVarNATSSubjectPrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// When mode is set via flag, apply its defaults for log format/level unless
	// they were explicitly configured.
	logFormatFlagSet := false
	logLevelFlagSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-format":
			logFormatFlagSet = true
		case "log-level":
			logLevelFlagSet = true
		}
	})
	if !logFormatFlagSet && !envLogFormatSet {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !logLevelFlagSet && envLogLevel == "" {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0 (got %s)", shutdownTimeout)
	}
	if signalingWSIdleTimeout < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0 (got %s)", envVarSignalingWSIdleTimeout, signalingWSIdleTimeout)
	}
	if signalingWSPingInterval < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0 (got %s)", envVarSignalingWSPingInterval, signalingWSPingInterval)
	}
	if signalingWSIdleTimeout > 0 && signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be less than %s (%s)",
			envVarSignalingWSPingInterval, signalingWSPingInterval,
			envVarSignalingWSIdleTimeout, signalingWSIdleTimeout,
		)
	}
	if signalingWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0 (got %s)", envVarSignalingWSWriteTimeout, signalingWSWriteTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0 (got %d)", envVarMaxSignalingMessageBytes, maxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0 (got %d)", envVarMaxSignalingMessagesPerSecond, maxSignalingMessagesPerSecond)
	}
	if turnRESTTTLSeconds <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0 (got %d)", envVarTURNRESTTTLSeconds, turnRESTTTLSeconds)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,
		StaticDir:       strings.TrimSpace(staticDir),
		ConfigFile:      configFlag,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		SignalingWSWriteTimeout:       signalingWSWriteTimeout,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,

		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
		NATS: NATSConfig{
			URL:           strings.TrimSpace(natsURL),
			SubjectPrefix: strings.TrimSpace(natsSubjectPrefix),
		},
	}

	iceServers, err := parseICEServersFromValues(
		iceServersJSON,
		stunURLs,
		turnURLs,
		turnUsername,
		turnCredential,
		cfg.TURNREST.Enabled(),
	)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

// configPathFromArgs finds --config before the full flag set is parsed, since
// the file supplies the defaults that the other flags are registered with.
func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return ""
		}
		for _, prefix := range []string{"-" + configFlagNameShortForm, configFlagNameShortForm} {
			if arg == prefix && i+1 < len(args) {
				return strings.TrimSpace(args[i+1])
			}
			if v, ok := strings.CutPrefix(arg, prefix+"="); ok {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func layeredLookup(primary func(string) (string, bool), fallback map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok && v != "" {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

var errInvalidOrigin = errors.New("expected full origin like https://example.com")

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == origin.Wildcard {
			out = append(out, entry)
			continue
		}

		o, err := origin.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %q: %w: %v", entry, errInvalidOrigin, err)
		}
		out = append(out, o.String())
	}

	return out, nil
}
