package signaling

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/room"
)

// readUntilError drains c in the background so control frames are processed.
func readUntilError(c *websocket.Conn) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				errCh <- err
				return
			}
		}
	}()
	return errCh
}

func TestWebSocketSignaling_IdleTimeoutClosesWithoutPong(t *testing.T) {
	idleTimeout := 500 * time.Millisecond
	pingInterval := 50 * time.Millisecond

	reg := room.NewRegistry()
	m := metrics.New()
	_, base := startRelay(t, Config{
		Registry:     reg,
		Metrics:      m,
		IdleTimeout:  idleTimeout,
		PingInterval: pingInterval,
	})

	c := dialRoom(t, base, "keepalive")
	expectText(t, c, `{"type":"joined","room":"keepalive","peers":1}`)
	_ = c.SetReadDeadline(time.Time{})

	pingSeen := make(chan struct{}, 1)
	c.SetPingHandler(func(string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// Intentionally do not respond with pong.
		return nil
	})

	errCh := readUntilError(c)

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before receiving ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server ping")
	}

	select {
	case err := <-errCh:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("expected close normal closure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server to close idle websocket")
	}

	waitFor(t, "idle peer cleanup", func() bool { return reg.Len() == 0 })
	if got := m.Get(metrics.IdleTimeout); got != 1 {
		t.Fatalf("idle_timeout=%d, want 1", got)
	}
}

func TestWebSocketSignaling_PongKeepsConnectionOpenBeyondIdleTimeout(t *testing.T) {
	idleTimeout := 500 * time.Millisecond
	pingInterval := 50 * time.Millisecond

	_, base := startRelay(t, Config{
		IdleTimeout:  idleTimeout,
		PingInterval: pingInterval,
	})

	c := dialRoom(t, base, "keepalive")
	expectText(t, c, `{"type":"joined","room":"keepalive","peers":1}`)
	_ = c.SetReadDeadline(time.Time{})

	pingSeen := make(chan struct{}, 1)
	c.SetPingHandler(func(appData string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// Respond with pong so the server extends the read deadline.
		return c.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(1*time.Second))
	})

	errCh := readUntilError(c)

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before receiving ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server ping")
	}

	// Wait longer than the idle timeout. The read goroutine will process ping
	// frames and respond with pong.
	time.Sleep(idleTimeout + 2*pingInterval)

	select {
	case err := <-errCh:
		t.Fatalf("unexpected close before idle timeout elapsed: %v", err)
	default:
	}

	_ = c.Close()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for read goroutine to exit")
	}
}

func TestWebSocketSignaling_MessagesKeepConnectionOpen(t *testing.T) {
	idleTimeout := 300 * time.Millisecond

	// No pings: only inbound messages extend the deadline.
	_, base := startRelay(t, Config{IdleTimeout: idleTimeout})
	p1, p2 := joinPair(t, base, "chatty")

	for i := 0; i < 6; i++ {
		time.Sleep(idleTimeout / 3)
		writeText(t, p1, `{"type":"candidate"}`)
		writeText(t, p2, `{"type":"candidate"}`)
		expectText(t, p2, `{"type":"candidate"}`)
		expectText(t, p1, `{"type":"candidate"}`)
	}
}
