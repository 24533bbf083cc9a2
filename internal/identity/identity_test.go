package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewSessionIDIsValidAndUnique(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if !IsValidSessionID(a) {
		t.Fatalf("generated id %q should be valid", a)
	}
}

func TestIsValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"3f2b6c0e-8d7a-4a7e-9a51-0c9e0b7d2f11", true},
		{"tab-1", true},
		{"", false},
		{"../etc", false},
		{"a/b", false},
		{".hidden", false},
		{"has space", false},
	}
	for _, tt := range tests {
		if got := IsValidSessionID(tt.id); got != tt.want {
			t.Errorf("IsValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestMiddlewareTagsContext(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/chat?session_id=abc", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Fatalf("expected abc from query, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/?session_id=abc", nil)
	req.Header.Set(SessionHeaderName, "from-header")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "from-header" {
		t.Fatalf("expected header to win, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/?session_id=../x", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "" {
		t.Fatalf("expected invalid id to be ignored, got %q", seen)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := IPFromRequest(req); got != "10.0.0.7" {
		t.Fatalf("expected 10.0.0.7, got %q", got)
	}
}
