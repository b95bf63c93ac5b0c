package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsServer(origins ...string) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return CORS(origins)(next)
}

func TestCORSAllowlistedOrigin(t *testing.T) {
	h := corsServer("https://app.example")

	req := httptest.NewRequest(http.MethodGet, "/api/personas", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow-origin = %q", got)
	}
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	h := corsServer("https://app.example")

	req := httptest.NewRequest(http.MethodGet, "/api/personas", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin = %q, want empty", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    int
	}{
		{"allowed", []string{"https://app.example"}, "https://app.example", http.StatusNoContent},
		{"wildcard", []string{"*"}, "https://any.example", http.StatusNoContent},
		{"denied", []string{"https://app.example"}, "https://evil.example", http.StatusForbidden},
		{"no origin", []string{"*"}, "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/personas", nil)
			req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			corsServer(tt.origins...).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && rec.Header().Get("Access-Control-Allow-Methods") == "" {
				t.Fatalf("missing allow-methods header")
			}
		})
	}
}
