package webrtcpeer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pion/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

// Options configures the pion stack used by signaling clients such as the
// deployment probe.
type Options struct {
	// Net replaces the host network. Tests pass a vnet.Net so that ICE runs
	// over a virtual router.
	Net transport.Net

	// LoggerFactory receives pion's internal logging. Use NewLoggerFactory to
	// route it into slog.
	LoggerFactory logging.LoggerFactory

	// ICEServers is applied to every PeerConnection created by the API.
	ICEServers []webrtc.ICEServer

	// UDPPortMin and UDPPortMax restrict the ephemeral UDP ports used for
	// host candidates. Both must be set together.
	UDPPortMin uint16
	UDPPortMax uint16
}

// API builds PeerConnections that share one SettingEngine and ICE server list.
type API struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
}

func NewAPI(opts Options) (*API, error) {
	se := webrtc.SettingEngine{}
	if err := applySettings(&se, opts); err != nil {
		return nil, err
	}
	return &API{
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		iceServers: slices.Clone(opts.ICEServers),
	}, nil
}

func applySettings(se *webrtc.SettingEngine, opts Options) error {
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	}

	switch {
	case opts.UDPPortMin == 0 && opts.UDPPortMax == 0:
	case opts.UDPPortMin == 0 || opts.UDPPortMax == 0:
		return errors.New("udp port range requires both min and max")
	default:
		if err := se.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	return nil
}

// NewPeerConnection creates a PeerConnection using the API's ICE servers.
func (a *API) NewPeerConnection() (*webrtc.PeerConnection, error) {
	return a.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: slices.Clone(a.iceServers),
	})
}

func (a *API) ICEServers() []webrtc.ICEServer {
	return slices.Clone(a.iceServers)
}
