package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
)

// FetchICEServers asks the relay for the ICE servers browsers would use.
// TURN entries without credentials are dropped since pion cannot use them.
func FetchICEServers(ctx context.Context, client *http.Client, baseURL string, header http.Header) ([]webrtc.ICEServer, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/webrtc/ice"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch ice servers: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}

	out := make([]webrtc.ICEServer, 0, len(payload.ICEServers))
	for _, server := range payload.ICEServers {
		if config.ICEServerHasTURNURL(server) {
			cred, _ := server.Credential.(string)
			if server.Username == "" || cred == "" {
				continue
			}
		}
		out = append(out, server)
	}
	return out, nil
}
