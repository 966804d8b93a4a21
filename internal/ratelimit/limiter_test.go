package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinWindow(t *testing.T) {
	l := New(Config{Window: time.Minute, Max: 2})
	if !l.Allow("caller-1") {
		t.Fatal("first request should be allowed")
	}
	if !l.Allow("caller-1") {
		t.Fatal("second request should be allowed")
	}
	if l.Allow("caller-1") {
		t.Fatal("third request within the window should be rate-limited")
	}
}

func TestAllowPerCallerIsolated(t *testing.T) {
	l := New(Config{Window: time.Minute, Max: 1})
	if !l.Allow("caller-a") {
		t.Fatal("caller-a first request should be allowed")
	}
	if !l.Allow("caller-b") {
		t.Fatal("caller-b should not be affected by caller-a's limit")
	}
	if l.Allow("caller-a") {
		t.Fatal("caller-a second request should be rate-limited")
	}
}

func TestAllowDisabledWhenUnconfigured(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 10; i++ {
		if !l.Allow("caller-1") {
			t.Fatal("unconfigured limiter should never block")
		}
	}
}

func TestSkipPaths(t *testing.T) {
	l := New(Config{SkipPaths: []string{"/healthz", "/.well-known/*"}})
	if !l.Skip("/healthz") {
		t.Error("expected exact-match skip for /healthz")
	}
	if !l.Skip("/.well-known/jwks.json") {
		t.Error("expected prefix-match skip for /.well-known/*")
	}
	if l.Skip("/api/sessions") {
		t.Error("did not expect /api/sessions to be skipped")
	}
}
