// Package probe checks a signaling deployment end to end. It plays both
// browser roles: two peers join a fresh room and negotiate a WebRTC
// DataChannel through the relay. It then measures round trips over the
// channel.
package probe

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/webrtcpeer"
)

const defaultPings = 5

// Signal is the client-to-client message format browsers exchange through the
// relay. The relay itself never inspects it.
type Signal struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

type Config struct {
	BaseURL string
	// Room defaults to a random uuid.
	Room   string
	Header http.Header

	// Offerer and Answerer build each side's PeerConnection. Answerer defaults
	// to Offerer.
	Offerer  *webrtcpeer.API
	Answerer *webrtcpeer.API

	Pings  int
	Logger *slog.Logger
}

type Result struct {
	Room string `json:"room"`
	// Setup is the time from the first join until the DataChannel opened.
	Setup time.Duration `json:"setup"`
	Pings int           `json:"pings"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
}

// Run joins two peers to one room, negotiates through the relay and measures
// DataChannel round trips. ctx bounds the whole probe.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.Offerer == nil {
		return Result{}, errors.New("probe: offerer api is required")
	}
	if cfg.Answerer == nil {
		cfg.Answerer = cfg.Offerer
	}
	if cfg.Room == "" {
		cfg.Room = uuid.NewString()
	}
	if cfg.Pings <= 0 {
		cfg.Pings = defaultPings
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("room", cfg.Room)

	start := time.Now()
	opts := DialOptions{Header: cfg.Header}

	first, err := Dial(ctx, cfg.BaseURL, cfg.Room, opts)
	if err != nil {
		return Result{}, fmt.Errorf("offerer join: %w", err)
	}
	defer first.Close()
	if first.Peers != 1 {
		return Result{}, fmt.Errorf("offerer join: room already has %d peers", first.Peers-1)
	}

	second, err := Dial(ctx, cfg.BaseURL, cfg.Room, opts)
	if err != nil {
		return Result{}, fmt.Errorf("answerer join: %w", err)
	}
	defer second.Close()

	if err := first.WaitReady(ctx); err != nil {
		return Result{}, fmt.Errorf("offerer ready: %w", err)
	}
	if err := second.WaitReady(ctx); err != nil {
		return Result{}, fmt.Errorf("answerer ready: %w", err)
	}
	log.Debug("both peers joined")

	offerPC, err := cfg.Offerer.NewPeerConnection()
	if err != nil {
		return Result{}, fmt.Errorf("offerer peer connection: %w", err)
	}
	defer offerPC.Close()
	answerPC, err := cfg.Answerer.NewPeerConnection()
	if err != nil {
		return Result{}, fmt.Errorf("answerer peer connection: %w", err)
	}
	defer answerPC.Close()

	negCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	offerer := newNegotiator(first, offerPC, log.With("role", "offerer"))
	answerer := newNegotiator(second, answerPC, log.With("role", "answerer"))
	go func() { errCh <- offerer.run(negCtx) }()
	go func() { errCh <- answerer.run(negCtx) }()

	answerPC.OnDataChannel(func(dc *webrtc.DataChannel) {
		if err := webrtcpeer.ValidateProbeDataChannel(dc); err != nil {
			log.Warn("rejecting datachannel", "label", dc.Label(), "err", err)
			_ = dc.Close()
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			_ = dc.Send(msg.Data)
		})
	})

	dc, err := webrtcpeer.CreateProbeDataChannel(offerPC)
	if err != nil {
		return Result{}, fmt.Errorf("create datachannel: %w", err)
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	echoes := make(chan []byte, 1)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case echoes <- append([]byte(nil), msg.Data...):
		default:
		}
	})

	if err := offerer.offer(); err != nil {
		return Result{}, err
	}

	select {
	case <-opened:
	case err := <-errCh:
		return Result{}, negotiationError(err)
	case <-ctx.Done():
		return Result{}, fmt.Errorf("wait for datachannel: %w", ctx.Err())
	}

	res := Result{Room: cfg.Room, Setup: time.Since(start)}
	log.Info("datachannel open", "setup_ms", res.Setup.Milliseconds())

	var total time.Duration
	for i := 0; i < cfg.Pings; i++ {
		rtt, err := ping(ctx, dc, echoes, uint32(i), errCh)
		if err != nil {
			return Result{}, fmt.Errorf("ping %d: %w", i, err)
		}
		total += rtt
		if res.Pings == 0 || rtt < res.Min {
			res.Min = rtt
		}
		if rtt > res.Max {
			res.Max = rtt
		}
		res.Pings++
	}
	res.Mean = total / time.Duration(res.Pings)
	return res, nil
}

func ping(ctx context.Context, dc *webrtc.DataChannel, echoes <-chan []byte, seq uint32, errCh <-chan error) (time.Duration, error) {
	msg := make([]byte, 4)
	binary.BigEndian.PutUint32(msg, seq)

	sent := time.Now()
	if err := dc.Send(msg); err != nil {
		return 0, err
	}
	for {
		select {
		case got := <-echoes:
			if len(got) == 4 && binary.BigEndian.Uint32(got) == seq {
				return time.Since(sent), nil
			}
		case err := <-errCh:
			return 0, negotiationError(err)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func negotiationError(err error) error {
	if err == nil {
		err = errors.New("signaling ended")
	}
	return fmt.Errorf("negotiation: %w", err)
}

// negotiator drives one side of the offer/answer exchange. Its run loop is the
// only goroutine that touches pending.
type negotiator struct {
	conn    *Conn
	pc      *webrtc.PeerConnection
	log     *slog.Logger
	pending []webrtc.ICECandidateInit
}

func newNegotiator(conn *Conn, pc *webrtc.PeerConnection, log *slog.Logger) *negotiator {
	n := &negotiator{conn: conn, pc: pc, log: log}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		if err := conn.Send(Signal{Type: SignalCandidate, Candidate: &cand}); err != nil {
			log.Warn("failed to send candidate", "err", err)
		}
	})
	return n
}

func (n *negotiator) offer() error {
	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if err := n.conn.Send(Signal{Type: SignalOffer, SDP: offer.SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	return nil
}

func (n *negotiator) run(ctx context.Context) error {
	for {
		env, payload, err := n.conn.Next(ctx)
		if err != nil {
			return err
		}
		if env != nil {
			if _, ok := env.(signaling.PeerDisconnected); ok {
				return ErrPeerDisconnected
			}
			continue
		}

		var sig Signal
		if err := json.Unmarshal(payload, &sig); err != nil {
			return fmt.Errorf("decode peer message: %w", err)
		}
		if err := n.handle(sig); err != nil {
			return err
		}
	}
}

func (n *negotiator) handle(sig Signal) error {
	switch sig.Type {
	case SignalOffer:
		if err := n.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}); err != nil {
			return err
		}
		answer, err := n.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := n.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		return n.conn.Send(Signal{Type: SignalAnswer, SDP: answer.SDP})
	case SignalAnswer:
		return n.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP})
	case SignalCandidate:
		if sig.Candidate == nil {
			return nil
		}
		// Candidates can overtake the description they belong to.
		if n.pc.RemoteDescription() == nil {
			n.pending = append(n.pending, *sig.Candidate)
			return nil
		}
		return n.pc.AddICECandidate(*sig.Candidate)
	default:
		n.log.Debug("ignoring peer message", "type", sig.Type)
		return nil
	}
}

func (n *negotiator) setRemote(desc webrtc.SessionDescription) error {
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	for _, c := range n.pending {
		if err := n.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
	}
	n.pending = nil
	return nil
}
