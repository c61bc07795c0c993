package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		xff        string
		hops       int
		want       string
		wantXFFSet bool
	}{
		{"public peer ignores xff", "203.0.113.9:5000", "1.2.3.4", 1, "203.0.113.9", false},
		{"private peer without hops", "10.0.0.5:5000", "1.2.3.4", 0, "10.0.0.5", false},
		{"single trusted hop", "10.0.0.5:5000", "9.9.9.9, 1.2.3.4", 1, "1.2.3.4", true},
		{"two trusted hops", "10.0.0.5:5000", "9.9.9.9, 1.2.3.4, 10.0.0.7", 2, "1.2.3.4", true},
		{"too few entries", "10.0.0.5:5000", "1.2.3.4", 3, "10.0.0.5", false},
		{"garbage entry", "10.0.0.5:5000", "not-an-ip", 1, "10.0.0.5", false},
		{"loopback peer trusted", "127.0.0.1:5000", "1.2.3.4", 1, "1.2.3.4", true},
		{"no port", "10.0.0.5", "", 0, "10.0.0.5", false},
		{"empty remote", "", "", 0, "0.0.0.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			var xffSeen bool
			h := ClientIPWithOptions(ClientIPOptions{TrustedHops: tt.hops})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIPFromContext(r.Context())
				xffSeen = r.Header.Get("X-Forwarded-For") != ""
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
			if xffSeen != tt.wantXFFSet {
				t.Fatalf("X-Forwarded-For present downstream = %v, want %v", xffSeen, tt.wantXFFSet)
			}
		})
	}
}

func TestClientIP_DefaultStripsForwardedProto(t *testing.T) {
	var proto string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proto = r.Header.Get("X-Forwarded-Proto")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:1"
	req.Header.Set("X-Forwarded-Proto", "https")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if proto != "" {
		t.Fatalf("X-Forwarded-Proto = %q, want stripped", proto)
	}
}
