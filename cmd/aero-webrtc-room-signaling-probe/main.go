// Command aero-webrtc-room-signaling-probe checks a running signaling relay
// end to end. Two in-process peers join a fresh room, negotiate a DataChannel
// through the relay and exchange pings over it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/probe"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/webrtcpeer"
)

type options struct {
	baseURL      string
	room         string
	origin       string
	pings        int
	timeout      time.Duration
	iceFromRelay bool
}

func parseOptions(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("aero-webrtc-room-signaling-probe", flag.ContinueOnError)
	fs.StringVar(&opts.baseURL, "url", "http://127.0.0.1:8000", "Relay base URL (http or https)")
	fs.StringVar(&opts.room, "room", "", "Room id to use (default: random uuid)")
	fs.StringVar(&opts.origin, "origin", "", "Origin header to send, for relays with an origin allow list")
	fs.IntVar(&opts.pings, "pings", 5, "DataChannel round trips to measure")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall probe deadline")
	fs.BoolVar(&opts.iceFromRelay, "ice-from-relay", true, "Use the relay's /webrtc/ice servers instead of the local AERO_* ICE settings")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected positional arguments: %v", fs.Args())
	}
	if opts.pings <= 0 {
		return options{}, fmt.Errorf("--pings must be > 0")
	}
	if opts.timeout <= 0 {
		return options{}, fmt.Errorf("--timeout must be > 0")
	}
	return opts, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Logging and local ICE settings come from the same environment (and
	// optional config file) the relay reads.
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	header := http.Header{}
	if opts.origin != "" {
		header.Set("Origin", opts.origin)
	}

	iceServers := cfg.PeerConnectionICEServers()
	if opts.iceFromRelay {
		iceServers, err = probe.FetchICEServers(ctx, nil, opts.baseURL, header)
		if err != nil {
			logger.Error("probe failed", "stage", "ice", "err", err)
			os.Exit(1)
		}
	}

	api, err := webrtcpeer.NewAPI(webrtcpeer.Options{
		LoggerFactory: webrtcpeer.NewLoggerFactory(logger),
		ICEServers:    iceServers,
	})
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	res, err := probe.Run(ctx, probe.Config{
		BaseURL: opts.baseURL,
		Room:    opts.room,
		Header:  header,
		Offerer: api,
		Pings:   opts.pings,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("probe failed", "stage", "negotiate", "err", err)
		os.Exit(1)
	}

	logger.Info("probe succeeded",
		"room", res.Room,
		"ice_servers", len(iceServers),
		"setup_ms", res.Setup.Milliseconds(),
		"pings", res.Pings,
		"rtt_min", res.Min,
		"rtt_mean", res.Mean,
		"rtt_max", res.Max,
	)
}
