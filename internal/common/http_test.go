package common

import (
	"net/http"
	"testing"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remote     string
		forwarded  string
		realIP     string
		wantClient string
	}{
		{name: "forwarded chain picks first hop", remote: "10.0.0.1:4312", forwarded: "203.0.113.7, 10.0.0.1", wantClient: "203.0.113.7"},
		{name: "real ip header", remote: "10.0.0.1:4312", realIP: "203.0.113.9", wantClient: "203.0.113.9"},
		{name: "remote addr host", remote: "198.51.100.4:9912", wantClient: "198.51.100.4"},
		{name: "remote addr without port", remote: "198.51.100.4", wantClient: "198.51.100.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tc.remote, Header: http.Header{}}
			if tc.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				r.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(r); got != tc.wantClient {
				t.Fatalf("expected %q, got %q", tc.wantClient, got)
			}
		})
	}
}
