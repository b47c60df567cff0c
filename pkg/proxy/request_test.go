package proxy

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadConnect(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantHost   string
		wantPort   int
		wantReason string
	}{
		{
			name:     "minimal",
			input:    "CONNECT example.com:443 HTTP/1.1\r\n\r\n",
			wantHost: "example.com",
			wantPort: 443,
		},
		{
			name:     "headers and http/1.0",
			input:    "CONNECT Example.COM:8443 HTTP/1.0\r\nHost: example.com:8443\r\nUser-Agent: curl/8\r\n\r\n",
			wantHost: "example.com",
			wantPort: 8443,
		},
		{
			name:     "bare LF",
			input:    "CONNECT example.com:443 HTTP/1.1\n\n",
			wantHost: "example.com",
			wantPort: 443,
		},
		{
			name:     "ipv6",
			input:    "CONNECT [::1]:443 HTTP/1.1\r\n\r\n",
			wantHost: "::1",
			wantPort: 443,
		},
		{
			name:       "not connect",
			input:      "GET / HTTP/1.1\r\n\r\n",
			wantReason: ReasonBadRequestLine,
		},
		{
			name:       "missing port",
			input:      "CONNECT example.com HTTP/1.1\r\n\r\n",
			wantReason: ReasonBadRequestLine,
		},
		{
			name:       "http/2 version",
			input:      "CONNECT example.com:443 HTTP/2.0\r\n\r\n",
			wantReason: ReasonBadRequestLine,
		},
		{
			name:       "lowercase method",
			input:      "connect example.com:443 HTTP/1.1\r\n\r\n",
			wantReason: ReasonBadRequestLine,
		},
		{
			name:       "port out of range",
			input:      "CONNECT example.com:70000 HTTP/1.1\r\n\r\n",
			wantReason: ReasonBadPort,
		},
		{
			name:       "port zero",
			input:      "CONNECT example.com:0 HTTP/1.1\r\n\r\n",
			wantReason: ReasonBadPort,
		},
		{
			name:       "bad host",
			input:      "CONNECT exa$mple.com:443 HTTP/1.1\r\n\r\n",
			wantReason: ReasonBadHost,
		},
		{
			name:       "malformed header",
			input:      "CONNECT example.com:443 HTTP/1.1\r\nno colon here\r\n\r\n",
			wantReason: ReasonBadHeader,
		},
		{
			name:       "truncated head",
			input:      "CONNECT example.com:443 HTTP/1.1\r\nHost: x",
			wantReason: ReasonIncompleteHead,
		},
		{
			name:       "head too large",
			input:      "CONNECT example.com:443 HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 300) + "\r\n\r\n",
			wantReason: ReasonHeadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ReadConnect(bufio.NewReader(strings.NewReader(tt.input)), 256)
			if tt.wantReason != "" {
				var protoErr *ProtocolError
				if !errors.As(err, &protoErr) {
					t.Fatalf("ReadConnect() error = %v, want *ProtocolError", err)
				}
				if protoErr.Reason != tt.wantReason {
					t.Errorf("Reason = %q, want %q", protoErr.Reason, tt.wantReason)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadConnect() error = %v", err)
			}
			if req.Host != tt.wantHost || req.Port != tt.wantPort {
				t.Errorf("got %s:%d, want %s:%d", req.Host, req.Port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

// TestReadConnect_PreservesPayload tests that bytes after the head stay buffered.
func TestReadConnect_PreservesPayload(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("CONNECT example.com:443 HTTP/1.1\r\nUser-Agent: t\r\n\r\n\x16\x03\x01payload"))

	req, err := ReadConnect(br, 8192)
	if err != nil {
		t.Fatalf("ReadConnect() error = %v", err)
	}
	if req.Header.Get("User-Agent") != "t" {
		t.Errorf("User-Agent = %q, want t", req.Header.Get("User-Agent"))
	}

	rest, _ := io.ReadAll(br)
	if string(rest) != "\x16\x03\x01payload" {
		t.Errorf("remaining bytes = %q, want TLS record prefix and payload", rest)
	}
}

func TestStatusFor(t *testing.T) {
	if got := StatusFor(&ProtocolError{Reason: ReasonBadRequestLine}); got != 400 {
		t.Errorf("StatusFor(ProtocolError) = %d, want 400", got)
	}
	if got := StatusFor(&UpstreamError{Op: "dial", Target: "x:1", Err: errors.New("refused")}); got != 502 {
		t.Errorf("StatusFor(UpstreamError) = %d, want 502", got)
	}
	if got := StatusFor(&ProtocolError{Reason: ReasonHeaderTimeout}); got != 408 {
		t.Errorf("StatusFor(header timeout) = %d, want 408", got)
	}
	if statusResponse(408) != "HTTP/1.1 408 Request Timeout\r\n\r\n" {
		t.Error("unexpected 408 response bytes")
	}
	if statusResponse(400) != "HTTP/1.1 400 Bad Request\r\n\r\n" {
		t.Error("unexpected 400 response bytes")
	}
	if statusResponse(502) != "HTTP/1.1 502 Bad Gateway\r\n\r\n" {
		t.Error("unexpected 502 response bytes")
	}
}

func TestBypassList(t *testing.T) {
	b := NewBypassList([]string{"bank.example", "*.pinned.example", " ", "Upper.Example."})

	tests := []struct {
		domain string
		want   bool
	}{
		{"bank.example", true},
		{"www.bank.example", false},
		{"pinned.example", false},
		{"api.pinned.example", true},
		{"a.b.pinned.example", true},
		{"upper.example", true},
		{"notpinned.example", false},
	}
	for _, tt := range tests {
		if got := b.Match(tt.domain); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.domain, got, tt.want)
		}
	}
	if b.Len() != 3 {
		t.Errorf("Len() = %d, want 3", b.Len())
	}

	var nilList *BypassList
	if nilList.Match("anything") {
		t.Error("nil list matched")
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"mitm", "bypass"} {
		if m, err := ParseMode(s); err != nil || string(m) != s {
			t.Errorf("ParseMode(%q) = %q, %v", s, m, err)
		}
	}
	if _, err := ParseMode("transparent"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
