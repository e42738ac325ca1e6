package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/room"
)

var errPeerClosed = errors.New("peer connection closed")

// peerConn owns one peer's websocket for its whole lifetime. It is the handle
// stored in the room registry.
type peerConn struct {
	srv  *Server
	id   string
	room string
	conn *websocket.Conn
	log  *slog.Logger

	limiter *rate.Limiter

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	leaveOnce sync.Once
}

var _ room.Peer = (*peerConn)(nil)

func newPeerConn(s *Server, conn *websocket.Conn, roomID, remoteAddr string) *peerConn {
	id := uuid.NewString()
	pc := &peerConn{
		srv:  s,
		id:   id,
		room: roomID,
		conn: conn,
		log:  s.log.With("room", roomID, "peer_id", id, "remote_addr", remoteAddr),
		done: make(chan struct{}),
	}
	if n := s.maxMessagesPerSecond; n > 0 {
		pc.limiter = rate.NewLimiter(rate.Limit(n), n)
	}
	return pc
}

func (p *peerConn) ID() string { return p.id }

// Send writes msg to the peer as a single text frame. A failed write closes
// the connection, which in turn ends the peer's own read loop and triggers
// its cleanup.
func (p *peerConn) Send(msg []byte) error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}

	p.writeMu.Lock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.srv.writeTimeout))
	err := p.conn.WriteMessage(websocket.TextMessage, msg)
	p.writeMu.Unlock()

	if err != nil {
		p.close()
	}
	return err
}

func (p *peerConn) sendEnvelope(env Envelope) error {
	data, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return p.Send(data)
}

func (p *peerConn) closeWith(code int, reason string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(p.srv.writeTimeout))
}

func (p *peerConn) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// serve runs the connection through admission, relaying and cleanup. It
// returns once the connection is closed.
func (p *peerConn) serve(ctx context.Context) {
	defer p.close()

	adm, err := p.srv.registry.Join(p.room, p)
	if err != nil {
		p.reject(ctx, err)
		return
	}
	defer p.leave(ctx)

	p.srv.metrics.Inc(metrics.PeerAdmitted)
	p.log.Info("peer joined room", "peers", adm.Peers)
	p.srv.publish(ctx, events.New(events.TypePeerJoined, p.room, p.id, adm.Peers))

	if err := p.sendEnvelope(Joined{Room: p.room, Peers: adm.Peers}); err != nil {
		p.log.Debug("failed to send joined", "err", err)
		return
	}
	if adm.Peers == room.Capacity {
		p.notifyReady(adm.Members)
	}

	p.relay()
}

// notifyReady sends ready to the members admitted alongside p that are still
// in the room. The other peer may have left (and p been sent
// peer_disconnected) since Join returned.
func (p *peerConn) notifyReady(members []room.Peer) {
	recipients := readyRecipients(p.srv.registry, p.room, p, members)
	if len(recipients) == 0 {
		p.log.Debug("skipping ready, other peer already left")
		return
	}

	ready := mustEncode(Ready{Message: ReadyMessage})
	for _, member := range recipients {
		if err := member.Send(ready); err != nil {
			p.srv.metrics.Inc(metrics.NotifyFailed)
			p.log.Warn("failed to notify peer", "to", member.ID(), "envelope", TypeReady, "err", err)
		}
	}
}

// readyRecipients returns the subset of members still present in roomID, or
// nil when fewer than room.Capacity of them remain.
func readyRecipients(reg *room.Registry, roomID string, self room.Peer, members []room.Peer) []room.Peer {
	present := map[room.Peer]bool{self: true}
	for _, other := range reg.OtherPeers(roomID, self) {
		present[other] = true
	}

	out := make([]room.Peer, 0, len(members))
	for _, member := range members {
		if present[member] {
			out = append(out, member)
		}
	}
	if len(out) < room.Capacity {
		return nil
	}
	return out
}

func (p *peerConn) reject(ctx context.Context, err error) {
	if errors.Is(err, room.ErrRoomFull) {
		p.srv.metrics.Inc(metrics.PeerRejectedRoomFull)
		p.log.Info("rejecting peer, room is full")
		p.srv.publish(ctx, events.New(events.TypePeerRejected, p.room, p.id, room.Capacity))
		_ = p.sendEnvelope(Error{Message: RoomFullMessage})
		p.closeWith(websocket.ClosePolicyViolation, "room full")
		return
	}

	p.log.Warn("failed to join room", "err", err)
	_ = p.sendEnvelope(Error{Message: err.Error()})
	p.closeWith(websocket.ClosePolicyViolation, "invalid room")
}

// relay is the steady-state read loop. Every text frame is forwarded verbatim
// to the other member of the room.
func (p *peerConn) relay() {
	p.conn.SetReadLimit(p.srv.maxMessageBytes)
	p.startKeepalive()

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			p.handleReadError(err)
			return
		}
		p.extendReadDeadline()

		if msgType != websocket.TextMessage {
			p.srv.metrics.Inc(metrics.UnsupportedFrame)
			p.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		// Over-limit frames are dropped. Only transport errors end the
		// connection.
		if p.limiter != nil && !p.limiter.Allow() {
			p.srv.metrics.Inc(metrics.RateLimited)
			p.log.Debug("dropped message, rate limit exceeded", "bytes", len(data))
			continue
		}

		p.forward(RawMessage(data))
	}
}

func (p *peerConn) forward(msg RawMessage) {
	others := p.srv.registry.OtherPeers(p.room, p)
	if len(others) == 0 {
		p.srv.metrics.Inc(metrics.MessageDroppedNoPeer)
		p.log.Debug("dropped message, no other peer in room", "bytes", len(msg))
		return
	}
	for _, other := range others {
		if err := other.Send(msg); err != nil {
			p.srv.metrics.Inc(metrics.MessageForwardFailed)
			p.log.Debug("failed to forward message", "to", other.ID(), "err", err)
			continue
		}
		p.srv.metrics.Inc(metrics.MessageRelayed)
		p.srv.metrics.Add(metrics.MessageRelayedBytes, uint64(len(msg)))
		p.log.Debug("forwarded message", "to", other.ID(), "bytes", len(msg))
	}
}

func (p *peerConn) handleReadError(err error) {
	switch {
	case isTimeout(err):
		p.srv.metrics.Inc(metrics.IdleTimeout)
		p.log.Info("closing idle peer")
		p.closeWith(websocket.CloseNormalClosure, "idle timeout")
	case errors.Is(err, websocket.ErrReadLimit):
		// gorilla has already sent 1009.
		p.log.Warn("closing peer, message too large", "limit", p.srv.maxMessageBytes)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		p.log.Warn("peer connection error", "err", err)
	default:
		p.log.Debug("peer read ended", "err", err)
	}
}

// leave removes the peer from its room and tells whoever is left. It runs at
// most once per connection.
func (p *peerConn) leave(ctx context.Context) {
	p.leaveOnce.Do(func() {
		remaining := p.srv.registry.Leave(p.room, p)

		p.srv.metrics.Inc(metrics.PeerDisconnected)
		p.log.Info("peer disconnected", "remaining", len(remaining))
		p.srv.publish(ctx, events.New(events.TypePeerLeft, p.room, p.id, len(remaining)))

		if len(remaining) == 0 {
			return
		}
		msg := mustEncode(PeerDisconnected{Message: PeerDisconnectedMessage})
		for _, other := range remaining {
			if err := other.Send(msg); err != nil {
				p.srv.metrics.Inc(metrics.NotifyFailed)
				p.log.Warn("failed to notify peer", "to", other.ID(), "envelope", TypePeerDisconnected, "err", err)
			}
		}
	})
}

func (p *peerConn) startKeepalive() {
	if p.srv.idleTimeout <= 0 {
		return
	}
	p.extendReadDeadline()
	p.conn.SetPongHandler(func(string) error {
		p.extendReadDeadline()
		return nil
	})
	if p.srv.pingInterval > 0 {
		go p.pingLoop(p.srv.pingInterval)
	}
}

func (p *peerConn) extendReadDeadline() {
	if p.srv.idleTimeout <= 0 {
		return
	}
	_ = p.conn.SetReadDeadline(time.Now().Add(p.srv.idleTimeout))
}

func (p *peerConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.srv.writeTimeout))
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
