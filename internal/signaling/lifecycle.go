package signaling

import (
	"context"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/room"
)

// RoomObserver reports room creation and deletion to logs, metrics and the
// event publisher. Install it with room.WithObserver.
type RoomObserver struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	events  events.Publisher
}

var _ room.Observer = (*RoomObserver)(nil)

func NewRoomObserver(logger *slog.Logger, m *metrics.Metrics, pub events.Publisher) *RoomObserver {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &RoomObserver{log: logger, metrics: m, events: pub}
}

func (o *RoomObserver) RoomCreated(roomID string) {
	o.metrics.Inc(metrics.RoomCreated)
	o.log.Debug("room created", "room", roomID)
	o.publish(events.New(events.TypeRoomCreated, roomID, "", 1))
}

func (o *RoomObserver) RoomDeleted(roomID string) {
	o.metrics.Inc(metrics.RoomDeleted)
	o.log.Info("room deleted (empty)", "room", roomID)
	o.publish(events.New(events.TypeRoomDeleted, roomID, "", 0))
}

func (o *RoomObserver) publish(ev events.Event) {
	if err := o.events.Publish(context.Background(), ev); err != nil {
		o.metrics.Inc(metrics.EventPublishFailed)
		o.log.Warn("failed to publish event", "event", ev.Type, "room", ev.Room, "err", err)
	}
}
