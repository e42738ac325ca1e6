// Package events publishes room lifecycle notifications for consumers outside
// the relay process (dashboards, audit trails). Publishing is fire-and-forget:
// the relay never waits on, or changes behavior because of, a subscriber.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeRoomCreated  = "room.created"
	TypeRoomDeleted  = "room.deleted"
	TypePeerJoined   = "peer.joined"
	TypePeerRejected = "peer.rejected"
	TypePeerLeft     = "peer.left"
)

type Event struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Room   string    `json:"room"`
	PeerID string    `json:"peer_id,omitempty"`
	Peers  int       `json:"peers"`
	Time   time.Time `json:"time"`
}

// New stamps a fresh event with a random id and the current time.
func New(typ, room, peerID string, peers int) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Room:   room,
		PeerID: peerID,
		Peers:  peers,
		Time:   time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
