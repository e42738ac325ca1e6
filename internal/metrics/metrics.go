package metrics

import "sync"

// Event counter names.
const (
	PeerAdmitted         = "peer_admitted"
	PeerRejectedRoomFull = "peer_rejected_room_full"
	PeerDisconnected     = "peer_disconnected"

	RoomCreated = "room_created"
	RoomDeleted = "room_deleted"

	MessageRelayed       = "message_relayed"
	MessageRelayedBytes  = "message_relayed_bytes"
	MessageDroppedNoPeer = "message_dropped_no_peer"
	MessageForwardFailed = "message_forward_failed"

	NotifyFailed       = "notify_failed"
	RateLimited        = "rate_limited"
	IdleTimeout        = "idle_timeout"
	UnsupportedFrame   = "unsupported_frame"
	EventPublishFailed = "event_publish_failed"
)

// Gauge names.
const (
	RoomsActive       = "rooms_active"
	ConnectionsActive = "connections_active"
)

// Metrics is a minimal, concurrency-safe counter registry with optional gauge
// callbacks evaluated at scrape time. The zero value is ready to use. A nil
// *Metrics ignores updates and reads back empty.
type Metrics struct {
	mu     sync.Mutex
	m      map[string]uint64
	gauges map[string]func() int64
}

func New() *Metrics {
	return &Metrics{
		m:      make(map[string]uint64),
		gauges: make(map[string]func() int64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// SetGauge registers fn to be evaluated whenever gauges are read. A later call
// with the same name replaces the callback.
func (m *Metrics) SetGauge(name string, fn func() int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.gauges == nil {
		m.gauges = make(map[string]func() int64)
	}
	m.gauges[name] = fn
	m.mu.Unlock()
}

// Gauges evaluates every registered gauge. Callbacks run without the
// registry lock held.
func (m *Metrics) Gauges() map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	m.mu.Lock()
	fns := make(map[string]func() int64, len(m.gauges))
	for k, fn := range m.gauges {
		fns[k] = fn
	}
	m.mu.Unlock()

	out := make(map[string]int64, len(fns))
	for k, fn := range fns {
		out[k] = fn()
	}
	return out
}
