package main

import (
	"errors"
	"flag"
	"testing"
	"time"
)

func TestParseOptions_Defaults(t *testing.T) {
	opts, err := parseOptions(nil)
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if opts.baseURL != "http://127.0.0.1:8000" || opts.pings != 5 || opts.timeout != 30*time.Second || !opts.iceFromRelay {
		t.Fatalf("opts=%+v", opts)
	}
}

func TestParseOptions_Flags(t *testing.T) {
	opts, err := parseOptions([]string{
		"--url", "https://signal.example.com",
		"--room", "r1",
		"--origin", "https://app.example.com",
		"--pings", "2",
		"--timeout", "5s",
		"--ice-from-relay=false",
	})
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	want := options{
		baseURL:      "https://signal.example.com",
		room:         "r1",
		origin:       "https://app.example.com",
		pings:        2,
		timeout:      5 * time.Second,
		iceFromRelay: false,
	}
	if opts != want {
		t.Fatalf("opts=%+v, want %+v", opts, want)
	}
}

func TestParseOptions_Invalid(t *testing.T) {
	for _, args := range [][]string{
		{"--pings", "0"},
		{"--timeout", "0s"},
		{"extra"},
	} {
		if _, err := parseOptions(args); err == nil {
			t.Fatalf("parseOptions(%v): expected error", args)
		}
	}
	if _, err := parseOptions([]string{"-h"}); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("-h err=%v, want flag.ErrHelp", err)
	}
}
