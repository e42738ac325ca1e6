package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope type discriminants for server-originated messages.
const (
	TypeJoined           = "joined"
	TypeReady            = "ready"
	TypeError            = "error"
	TypePeerDisconnected = "peer_disconnected"
)

const (
	ReadyMessage            = "Both peers connected. Ready to exchange offers."
	RoomFullMessage         = "Room is full. Only 2 peers allowed per room."
	PeerDisconnectedMessage = "Other peer disconnected"
)

// Envelope is a message originated by the relay. The set of implementations
// is closed: Joined, Ready, Error and PeerDisconnected.
type Envelope interface {
	envelopeType() string
}

type Joined struct {
	Room  string
	Peers int
}

type Ready struct {
	Message string
}

type Error struct {
	Message string
}

type PeerDisconnected struct {
	Message string
}

func (Joined) envelopeType() string           { return TypeJoined }
func (Ready) envelopeType() string            { return TypeReady }
func (Error) envelopeType() string            { return TypeError }
func (PeerDisconnected) envelopeType() string { return TypePeerDisconnected }

// RawMessage is a client-originated payload. The relay forwards it unchanged
// and never decodes it.
type RawMessage []byte

type joinedWire struct {
	Type  string `json:"type"`
	Room  string `json:"room"`
	Peers int    `json:"peers"`
}

type messageWire struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeEnvelope renders env as a single JSON object with "type" first.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	switch e := env.(type) {
	case Joined:
		return json.Marshal(joinedWire{Type: TypeJoined, Room: e.Room, Peers: e.Peers})
	case Ready:
		return json.Marshal(messageWire{Type: TypeReady, Message: e.Message})
	case Error:
		return json.Marshal(messageWire{Type: TypeError, Message: e.Message})
	case PeerDisconnected:
		return json.Marshal(messageWire{Type: TypePeerDisconnected, Message: e.Message})
	case nil:
		return nil, errors.New("nil envelope")
	default:
		return nil, fmt.Errorf("unknown envelope %T", env)
	}
}

var errNotEnvelope = errors.New("not a relay envelope")

// DecodeEnvelope parses a relay-originated message. It is meant for clients;
// the relay itself never decodes traffic. Messages whose type is not one of
// the relay's own return an error wrapping errNotEnvelope, which callers use
// to tell peer payloads apart from control messages.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var head struct {
		Type    string `json:"type"`
		Room    string `json:"room"`
		Peers   int    `json:"peers"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case TypeJoined:
		return Joined{Room: head.Room, Peers: head.Peers}, nil
	case TypeReady:
		return Ready{Message: head.Message}, nil
	case TypeError:
		return Error{Message: head.Message}, nil
	case TypePeerDisconnected:
		return PeerDisconnected{Message: head.Message}, nil
	default:
		return nil, fmt.Errorf("%w: type %q", errNotEnvelope, head.Type)
	}
}

// IsPeerPayload reports whether err from DecodeEnvelope means the message was
// valid JSON sent by the other peer rather than by the relay.
func IsPeerPayload(err error) bool {
	return errors.Is(err, errNotEnvelope)
}

func mustEncode(env Envelope) []byte {
	b, err := EncodeEnvelope(env)
	if err != nil {
		panic(err)
	}
	return b
}
