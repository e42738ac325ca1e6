package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/signaling"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 64 * 1024
)

var (
	// ErrRoomFull is returned by Dial when the relay rejects the join.
	ErrRoomFull = errors.New("room is full")
	// ErrPeerDisconnected reports that the relay announced the other peer left.
	ErrPeerDisconnected = errors.New("peer disconnected")
)

type DialOptions struct {
	// Header is sent with the websocket handshake, typically to set Origin.
	Header http.Header
	Dialer *websocket.Dialer
}

type inbound struct {
	data []byte
	err  error
}

// Conn is one peer's signaling connection to a room.
type Conn struct {
	Room  string
	Peers int

	ws       *websocket.Conn
	writeMu  sync.Mutex
	incoming chan inbound
	done     chan struct{}
	close    sync.Once
}

// SignalingURL maps an http(s) base URL to the websocket endpoint of room.
func SignalingURL(baseURL, room string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("invalid base url: missing host")
	}
	if room == "" {
		return "", errors.New("room id is required")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + url.PathEscape(room)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Dial joins room and waits for the relay's joined envelope.
func Dial(ctx context.Context, baseURL, room string, opts DialOptions) (*Conn, error) {
	wsURL, err := SignalingURL(baseURL, room)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, wsURL, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Conn{
		Room:     room,
		ws:       ws,
		incoming: make(chan inbound, 16),
		done:     make(chan struct{}),
	}
	go c.readPump()

	env, _, err := c.Next(ctx)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("wait for joined: %w", err)
	}
	switch e := env.(type) {
	case signaling.Joined:
		c.Peers = e.Peers
		return c, nil
	case signaling.Error:
		_ = c.Close()
		if e.Message == signaling.RoomFullMessage {
			return nil, ErrRoomFull
		}
		return nil, fmt.Errorf("relay error: %s", e.Message)
	default:
		_ = c.Close()
		return nil, fmt.Errorf("unexpected first message %T", env)
	}
}

func (c *Conn) readPump() {
	defer close(c.incoming)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err == nil && msgType != websocket.TextMessage {
			err = fmt.Errorf("unexpected websocket message type %d", msgType)
		}
		select {
		case c.incoming <- inbound{data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Next returns the next message. Relay envelopes are returned decoded; anything
// else is a payload sent by the other peer and is returned raw.
func (c *Conn) Next(ctx context.Context) (signaling.Envelope, signaling.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case in, ok := <-c.incoming:
		if !ok {
			return nil, nil, errors.New("connection closed")
		}
		if in.err != nil {
			return nil, nil, in.err
		}
		env, err := signaling.DecodeEnvelope(in.data)
		switch {
		case err == nil:
			return env, nil, nil
		case signaling.IsPeerPayload(err):
			return nil, signaling.RawMessage(in.data), nil
		default:
			return nil, nil, fmt.Errorf("decode message: %w", err)
		}
	}
}

// WaitReady blocks until the relay announces that both peers are present.
func (c *Conn) WaitReady(ctx context.Context) error {
	for {
		env, _, err := c.Next(ctx)
		if err != nil {
			return err
		}
		switch env.(type) {
		case signaling.Ready:
			return nil
		case signaling.PeerDisconnected:
			return ErrPeerDisconnected
		}
	}
}

// Send writes v as a JSON text frame. It is safe for concurrent use.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure and releases the connection.
func (c *Conn) Close() error {
	var err error
	c.close.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
