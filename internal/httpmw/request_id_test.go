package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func captureRequestID(t *testing.T, header, inbound string) (ctxID, respID string) {
	t.Helper()
	h := RequestID(header)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	name := header
	if name == "" {
		name = "X-Request-Id"
	}
	if inbound != "" {
		req.Header.Set(name, inbound)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get(name)
}

func TestRequestID_Generates(t *testing.T) {
	ctxID, respID := captureRequestID(t, "", "")
	if len(ctxID) != 32 {
		t.Fatalf("generated id %q, want 32 hex chars", ctxID)
	}
	if respID != ctxID {
		t.Fatalf("response id %q != context id %q", respID, ctxID)
	}
}

func TestRequestID_PropagatesValidInbound(t *testing.T) {
	ctxID, respID := captureRequestID(t, "X-Correlation-Id", "abc-123_x.y")
	if ctxID != "abc-123_x.y" || respID != ctxID {
		t.Fatalf("ctx=%q resp=%q, want inbound id", ctxID, respID)
	}
}

func TestRequestID_ReplacesUnsafeInbound(t *testing.T) {
	for _, bad := range []string{"has space", "new\nline", "quote\"", strings.Repeat("a", maxInboundRequestID+1)} {
		ctxID, _ := captureRequestID(t, "", bad)
		if ctxID == bad || len(ctxID) != 32 {
			t.Fatalf("inbound %q kept as %q", bad, ctxID)
		}
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
	if ctx := WithRequestID(context.Background(), ""); RequestIDFromContext(ctx) != "" {
		t.Fatal("empty id should not be stored")
	}
}
