package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchICEServers_DropsTURNWithoutCredentials(t *testing.T) {
	var gotOrigin string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webrtc/ice" {
			http.NotFound(w, r)
			return
		}
		gotOrigin = r.Header.Get("Origin")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[
			{"urls":["stun:stun.example.com:3478"]},
			{"urls":["turn:turn.example.com:3478"]},
			{"urls":["turns:turn.example.com:5349"],"username":"u","credential":"c"}
		]}`))
	}))
	t.Cleanup(ts.Close)

	header := http.Header{}
	header.Set("Origin", "https://app.example.com")
	servers, err := FetchICEServers(context.Background(), nil, ts.URL+"/", header)
	if err != nil {
		t.Fatalf("FetchICEServers: %v", err)
	}
	if gotOrigin != "https://app.example.com" {
		t.Fatalf("Origin=%q", gotOrigin)
	}
	if len(servers) != 2 {
		t.Fatalf("servers=%#v, want stun and credentialed turns", servers)
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" || servers[1].Username != "u" {
		t.Fatalf("servers=%#v", servers)
	}
}

func TestFetchICEServers_StatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(ts.Close)

	if _, err := FetchICEServers(context.Background(), nil, ts.URL, nil); err == nil {
		t.Fatalf("expected error")
	}
}
