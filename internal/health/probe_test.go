package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestFixed(t *testing.T) {
	if err := Fixed(true, "").Check(context.Background()); err != nil {
		t.Fatalf("Fixed(true) = %v", err)
	}
	err := Fixed(false, "").Check(context.Background())
	if err == nil || err.Error() != "unhealthy" {
		t.Fatalf("Fixed(false, \"\") = %v, want unhealthy", err)
	}
	if err := Fixed(false, "store missing").Check(context.Background()); err.Error() != "store missing" {
		t.Fatalf("reason = %q", err.Error())
	}
}

func TestAll(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	ctx := context.Background()

	if err := All().Check(ctx); err != nil {
		t.Fatalf("All() = %v, want nil", err)
	}
	if err := All(Fixed(true, ""), nil, Fixed(true, "")).Check(ctx); err != nil {
		t.Fatalf("all passing = %v", err)
	}
	err := All(Fixed(true, ""), CheckFunc(func(context.Context) error { return first }), CheckFunc(func(context.Context) error { return second })).Check(ctx)
	if !errors.Is(err, first) {
		t.Fatalf("err = %v, want first failure", err)
	}
}

func TestAny(t *testing.T) {
	ctx := context.Background()
	last := errors.New("last")

	if err := Any(Fixed(false, "a"), Fixed(true, "")).Check(ctx); err != nil {
		t.Fatalf("one passing = %v", err)
	}
	err := Any(Fixed(false, "a"), CheckFunc(func(context.Context) error { return last })).Check(ctx)
	if !errors.Is(err, last) {
		t.Fatalf("err = %v, want last failure", err)
	}
	if err := Any(nil).Check(ctx); err == nil {
		t.Fatal("Any with no probes should fail")
	}
}

func TestStoreDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/srv/games", 0o755)
	_ = afero.WriteFile(fs, "/srv/file", []byte("x"), 0o644)
	ctx := context.Background()

	if err := StoreDir(fs, "/srv/games").Check(ctx); err != nil {
		t.Fatalf("existing dir = %v", err)
	}
	if err := StoreDir(fs, "/srv/missing").Check(ctx); err == nil {
		t.Fatal("missing dir should fail")
	}
	if err := StoreDir(fs, "/srv/file").Check(ctx); err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Fatalf("file = %v, want not a directory", err)
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	ctx := context.Background()

	if err := p.Check(ctx); err != nil {
		t.Fatalf("open gate = %v", err)
	}
	g.Set("")
	if err := p.Check(ctx); err == nil || err.Error() != "draining" {
		t.Fatalf("set gate = %v, want draining", err)
	}
	g.Set("shutting down")
	if err := p.Check(ctx); err.Error() != "shutting down" {
		t.Fatalf("reason = %q", err.Error())
	}
	g.Clear()
	if err := p.Check(ctx); err != nil {
		t.Fatalf("cleared gate = %v", err)
	}
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name     string
		h        http.HandlerFunc
		wantCode int
		wantBody string
	}{
		{"healthz nil probe", HealthzHandler(nil), http.StatusOK, "ok\n"},
		{"readyz passing", ReadyzHandler(Fixed(true, "")), http.StatusOK, "ready\n"},
		{"readyz failing", ReadyzHandler(Fixed(false, "draining")), http.StatusServiceUnavailable, "draining\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.h(rec, httptest.NewRequest(http.MethodGet, "/-/ready", nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Body.String() != tt.wantBody {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Fatal("probe responses must not be cached")
			}
		})
	}
}
