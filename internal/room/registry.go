// Package room tracks which peers are connected to which signaling room.
//
// A room holds at most Capacity peers. Rooms are created by the first Join for
// an unseen identifier and deleted as soon as the last member leaves; the
// registry never stores an empty room.
package room

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go4org/hashtriemap"
)

// Capacity is the maximum number of peers admitted to a single room.
const Capacity = 2

var (
	ErrRoomFull    = errors.New("room is full")
	ErrEmptyRoomID = errors.New("room id is empty")
)

// Peer is a room member's handle. The registry only stores and compares
// handles; it never calls Send.
type Peer interface {
	ID() string
	Send(msg []byte) error
}

// Observer receives room lifecycle notifications. Callbacks run after the
// room lock has been released.
type Observer interface {
	RoomCreated(roomID string)
	RoomDeleted(roomID string)
}

// Admission describes a successful Join.
type Admission struct {
	Room  string
	Peers int
	// Members is a snapshot of the room after the join, in join order. It
	// includes the joining peer.
	Members []Peer
}

type roomState struct {
	mu    sync.Mutex
	peers []Peer
	// dead is set when the room is removed from the map. A joiner that locked
	// a dead room must retry with a fresh entry.
	dead bool
}

// Registry is the process-wide room membership table.
//
// Join and Leave for the same room are serialized by that room's mutex;
// operations on different rooms do not contend.
type Registry struct {
	rooms    hashtriemap.HashTrieMap[string, *roomState]
	active   atomic.Int64
	observer Observer
}

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join admits p into roomID, creating the room if needed. It returns
// ErrRoomFull without mutating anything when the room already has Capacity
// members. Joining with a handle that is already a member is a no-op that
// reports the current membership.
func (r *Registry) Join(roomID string, p Peer) (Admission, error) {
	if roomID == "" {
		return Admission{}, ErrEmptyRoomID
	}

	for {
		rs, _ := r.rooms.LoadOrStore(roomID, &roomState{})

		rs.mu.Lock()
		if rs.dead {
			rs.mu.Unlock()
			continue
		}
		if slices.Contains(rs.peers, p) {
			adm := admission(roomID, rs.peers)
			rs.mu.Unlock()
			return adm, nil
		}
		if len(rs.peers) >= Capacity {
			n := len(rs.peers)
			rs.mu.Unlock()
			return Admission{Room: roomID, Peers: n}, ErrRoomFull
		}

		created := len(rs.peers) == 0
		rs.peers = append(rs.peers, p)
		adm := admission(roomID, rs.peers)
		rs.mu.Unlock()

		if created {
			r.active.Add(1)
			if r.observer != nil {
				r.observer.RoomCreated(roomID)
			}
		}
		return adm, nil
	}
}

// Leave removes p from roomID and returns the members still present. Removing
// a peer that is not a member is a no-op. When the room becomes empty it is
// deleted from the registry.
func (r *Registry) Leave(roomID string, p Peer) []Peer {
	rs, ok := r.rooms.Load(roomID)
	if !ok {
		return nil
	}

	rs.mu.Lock()
	if rs.dead {
		rs.mu.Unlock()
		return nil
	}

	idx := slices.Index(rs.peers, p)
	if idx < 0 {
		remaining := slices.Clone(rs.peers)
		rs.mu.Unlock()
		return remaining
	}
	rs.peers = slices.Delete(rs.peers, idx, idx+1)
	remaining := slices.Clone(rs.peers)

	deleted := false
	if len(rs.peers) == 0 {
		rs.dead = true
		r.rooms.CompareAndDelete(roomID, rs)
		deleted = true
	}
	rs.mu.Unlock()

	if deleted {
		r.active.Add(-1)
		if r.observer != nil {
			r.observer.RoomDeleted(roomID)
		}
	}
	return remaining
}

// OtherPeers returns every member of roomID except p.
func (r *Registry) OtherPeers(roomID string, p Peer) []Peer {
	rs, ok := r.rooms.Load(roomID)
	if !ok {
		return nil
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.dead {
		return nil
	}
	out := make([]Peer, 0, len(rs.peers))
	for _, member := range rs.peers {
		if member != p {
			out = append(out, member)
		}
	}
	return out
}

// Size returns the number of members in roomID, or 0 if the room does not
// exist.
func (r *Registry) Size(roomID string) int {
	rs, ok := r.rooms.Load(roomID)
	if !ok {
		return 0
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.dead {
		return 0
	}
	return len(rs.peers)
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	return int(r.active.Load())
}

func admission(roomID string, peers []Peer) Admission {
	return Admission{
		Room:    roomID,
		Peers:   len(peers),
		Members: slices.Clone(peers),
	}
}
