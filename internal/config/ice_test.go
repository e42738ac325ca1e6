package config

import (
	"slices"
	"testing"

	"github.com/pion/webrtc/v4"
)

func iceCredential(s webrtc.ICEServer) string {
	cred, _ := s.Credential.(string)
	return cred
}

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		raw       string
		allowBare bool
		want      []webrtc.ICEServer
		wantErr   bool
	}{
		{
			name: "stun and credentialed turn",
			raw: `[{"urls":["stun:stun.l.google.com:19302"]},
				{"urls":["turn:turn.example.com:3478?transport=udp","turns:turn.example.com:5349"],"username":"aero","credential":"hunter2"}]`,
			want: []webrtc.ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
				{URLs: []string{"turn:turn.example.com:3478?transport=udp", "turns:turn.example.com:5349"}, Username: "aero", Credential: "hunter2"},
			},
		},
		{
			name: "urls as a single string",
			raw:  `[{"urls":"stun:stun.example.com:3478"}]`,
			want: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
		},
		{
			name:    "bare turn without minting",
			raw:     `[{"urls":"turn:turn.example.com:3478"}]`,
			wantErr: true,
		},
		{
			name:      "bare turn left for minting",
			raw:       `[{"urls":"turn:turn.example.com:3478"}]`,
			allowBare: true,
			want:      []webrtc.ICEServer{{URLs: []string{"turn:turn.example.com:3478"}}},
		},
		{
			name:      "minted and static providers side by side",
			raw:       `[{"urls":"turn:coturn.example.com:3478"},{"urls":"turn:openrelay.metered.ca:80","username":"openrelayproject","credential":"openrelayproject"}]`,
			allowBare: true,
			want: []webrtc.ICEServer{
				{URLs: []string{"turn:coturn.example.com:3478"}},
				{URLs: []string{"turn:openrelay.metered.ca:80"}, Username: "openrelayproject", Credential: "openrelayproject"},
			},
		},
		{name: "http scheme", raw: `[{"urls":["http://stun.example.com"]}]`, allowBare: true, wantErr: true},
		{name: "empty urls", raw: `[{"urls":[]}]`, allowBare: true, wantErr: true},
		{name: "object instead of list", raw: `{"urls":"stun:stun.example.com"}`, allowBare: true, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseICEServersJSON(tc.raw, tc.allowBare)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseICEServersJSON: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d servers, want %d: %#v", len(got), len(tc.want), got)
			}
			for i := range got {
				if !slices.Equal(got[i].URLs, tc.want[i].URLs) || got[i].Username != tc.want[i].Username || iceCredential(got[i]) != iceCredential(tc.want[i]) {
					t.Fatalf("server %d = %#v, want %#v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		" stun:a.example.com:3478 , stun:b.example.com:3478 ",
		"turn:turn.example.com:3478?transport=tcp",
		" aero ",
		" hunter2 ",
		false,
	)
	if err != nil {
		t.Fatalf("ParseICEServersFromConvenienceEnv: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	stun, turn := servers[0], servers[1]
	if !slices.Equal(stun.URLs, []string{"stun:a.example.com:3478", "stun:b.example.com:3478"}) || stun.Username != "" || stun.Credential != nil {
		t.Fatalf("stun server = %#v", stun)
	}
	if turn.Username != "aero" || iceCredential(turn) != "hunter2" {
		t.Fatalf("turn server = %#v", turn)
	}
}

func TestParseICEServersFromConvenienceEnv_TURNCredentials(t *testing.T) {
	t.Parallel()

	if _, err := ParseICEServersFromConvenienceEnv("", "turn:turn.example.com", "aero", "", false); err == nil {
		t.Fatalf("expected error for TURN URL with username only")
	}

	servers, err := ParseICEServersFromConvenienceEnv("", "turn:turn.example.com", "", "", true)
	if err != nil {
		t.Fatalf("bare TURN with minting enabled: %v", err)
	}
	if len(servers) != 1 || servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("servers = %#v", servers)
	}
}

func TestParseICEServersFromValues_JSONWins(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersFromValues(`[{"urls":"stun:json.example.com"}]`, "stun:env.example.com", "", "", "", false)
	if err != nil {
		t.Fatalf("parseICEServersFromValues: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example.com" {
		t.Fatalf("servers = %#v", servers)
	}

	if _, err := parseICEServersFromValues(`not json`, "stun:env.example.com", "", "", "", false); err == nil {
		t.Fatalf("expected invalid JSON to fail instead of falling back")
	}
}

func TestIsTURNURL(t *testing.T) {
	t.Parallel()

	for url, want := range map[string]bool{
		"turn:turn.example.com":          true,
		"TURNS:turn.example.com:5349":    true,
		" turn:turn.example.com ":        true,
		"stun:stun.example.com":          false,
		"https://turn.example.com/turn:": false,
	} {
		if got := IsTURNURL(url); got != want {
			t.Fatalf("IsTURNURL(%q)=%v, want %v", url, got, want)
		}
	}

	mixed := webrtc.ICEServer{URLs: []string{"stun:x.example.com", "turns:x.example.com:5349"}}
	if !ICEServerHasTURNURL(mixed) {
		t.Fatalf("expected server with a turns: URL to count as TURN")
	}
	if ICEServerHasTURNURL(webrtc.ICEServer{URLs: []string{"stun:x.example.com"}}) {
		t.Fatalf("STUN-only server reported as TURN")
	}
}
