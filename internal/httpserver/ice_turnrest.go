package httpserver

import (
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
)

type iceResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
	// TTL is the lifetime in seconds of minted TURN credentials.
	TTL int64 `json:"ttl,omitempty"`
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	resp := iceResponse{ICEServers: s.cfg.ICEServers}
	if resp.ICEServers == nil {
		resp.ICEServers = []webrtc.ICEServer{}
	}
	if s.turn != nil {
		creds, err := s.turn.GenerateRandom()
		if err != nil {
			s.log.Error("failed to mint TURN credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to mint TURN credentials"})
			return
		}
		resp.ICEServers = withTURNRESTCredentials(resp.ICEServers, creds.Username, creds.Credential)
		resp.TTL = int64(s.turn.TTL().Seconds())
	}
	WriteJSON(w, http.StatusOK, resp)
}

func withTURNRESTCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	if len(servers) == 0 {
		// Preserve empty (non-nil) slices so JSON responses consistently encode as
		// `[]` rather than `null`.
		return servers
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		// Servers configured with their own credentials belong to another
		// TURN deployment and are passed through untouched.
		if config.ICEServerHasTURNURL(server) && !hasCredentials(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}

func hasCredentials(server webrtc.ICEServer) bool {
	if server.Username != "" {
		return true
	}
	cred, ok := server.Credential.(string)
	return (ok && cred != "") || (!ok && server.Credential != nil)
}
