package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/room"
)

const (
	defaultWriteTimeout    = 5 * time.Second
	defaultMaxMessageBytes = 64 * 1024
)

// Config wires together the runtime dependencies for the signaling relay.
type Config struct {
	// Registry is the shared room membership table. If nil, the server creates
	// a private one.
	Registry *room.Registry

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Events  events.Publisher

	// CheckOrigin validates the Origin header of upgrade requests. If nil,
	// every origin is accepted.
	CheckOrigin func(r *http.Request) bool

	// IdleTimeout closes a connection that has delivered neither a message nor
	// a pong for this long. Zero disables the read deadline and server pings.
	IdleTimeout time.Duration
	// PingInterval is how often the server pings an admitted peer. It should
	// be well below IdleTimeout. Zero disables pings.
	PingInterval time.Duration
	// WriteTimeout bounds every write to a peer.
	WriteTimeout time.Duration

	MaxMessageBytes int64
	// MaxMessagesPerSecond limits inbound frames per connection. Frames over
	// the limit are dropped and the connection stays open. Zero or a negative
	// value disables the limit.
	MaxMessagesPerSecond int
}

// Server relays signaling messages between the two members of a room.
//
// Endpoints:
//   - GET /ws/{room_id} : WebSocket signaling, one connection per peer
type Server struct {
	registry *room.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	events   events.Publisher
	upgrader websocket.Upgrader

	idleTimeout          time.Duration
	pingInterval         time.Duration
	writeTimeout         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int

	mu     sync.Mutex
	conns  map[*peerConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	s := &Server{
		registry: cfg.Registry,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		events:   cfg.Events,

		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,
		writeTimeout:         cfg.WriteTimeout,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,

		conns: make(map[*peerConn]struct{}),
	}
	if s.registry == nil {
		s.registry = room.NewRegistry()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: checkOrigin,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{room_id}", s.handleRoom)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Registry returns the room table the server admits peers into.
func (s *Server) Registry() *room.Registry {
	return s.registry
}

// ActiveConnections returns the number of upgraded connections currently being
// served, including ones that are about to be rejected.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close sends a going-away close frame to every connection, closes them and
// waits for their cleanup to finish. Connections that arrive afterwards are
// refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*peerConn, 0, len(s.conns))
	for pc := range s.conns {
		conns = append(conns, pc)
	}
	s.mu.Unlock()

	for _, pc := range conns {
		pc.closeWith(websocket.CloseGoingAway, "server shutting down")
		pc.close()
	}
	s.wg.Wait()
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	if roomID == "" {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		s.log.Debug("websocket upgrade failed", "room", roomID, "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	pc := newPeerConn(s, conn, roomID, r.RemoteAddr)
	if !s.track(pc) {
		pc.closeWith(websocket.CloseGoingAway, "server shutting down")
		pc.close()
		return
	}
	defer s.untrack(pc)

	// Hijacked connections outlive the request context's usefulness; keep its
	// values but not its cancellation.
	pc.serve(context.WithoutCancel(r.Context()))
}

func (s *Server) track(pc *peerConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[pc] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(pc *peerConn) {
	s.mu.Lock()
	delete(s.conns, pc)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.metrics.Inc(metrics.EventPublishFailed)
		s.log.Warn("failed to publish event", "event", ev.Type, "room", ev.Room, "err", err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
