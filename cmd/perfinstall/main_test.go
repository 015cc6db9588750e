package main

import (
	"testing"
	"time"
)

func TestWSURLForEvents(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080":     "ws://127.0.0.1:8080/v1/events/ws",
		"https://prep.local/base/":  "wss://prep.local/base/v1/events/ws",
		"HTTP://127.0.0.1:9000/api": "ws://127.0.0.1:9000/api/v1/events/ws",
	}
	for in, want := range cases {
		got, err := wsURLForEvents(in)
		if err != nil {
			t.Fatalf("wsURLForEvents(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("wsURLForEvents(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"ftp://host", "http://", "::"} {
		if _, err := wsURLForEvents(bad); err == nil {
			t.Fatalf("wsURLForEvents(%q) error = nil, want error", bad)
		}
	}
}

func TestPercentile(t *testing.T) {
	values := []time.Duration{5, 1, 4, 2, 3, 10, 9, 8, 7, 6}
	if got := percentile(values, 50); got != 5 {
		t.Fatalf("p50 = %d, want 5", got)
	}
	if got := percentile(values, 95); got != 10 {
		t.Fatalf("p95 = %d, want 10", got)
	}
	if got := percentile(values, 100); got != 10 {
		t.Fatalf("max = %d, want 10", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty p50 = %d, want 0", got)
	}
	if values[0] != 5 {
		t.Fatalf("percentile sorted the caller's slice")
	}
}
