package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Tener/ggp-aps/internal/health"
	"github.com/Tener/ggp-aps/internal/httpmw"
	"github.com/Tener/ggp-aps/internal/log"
	"github.com/Tener/ggp-aps/internal/xerrors"
)

const (
	DefaultPort         = 9140
	DefaultPortAttempts = 1024
)

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

// NewHandler builds the resource handler: chi routes wrapped in middleware.
// main() owns the listener so the bound port is known before routes exist.
func NewHandler(opts *Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	r := chi.NewRouter()

	// rename the span and tag the logger with the matched route pattern
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())

	// every resource is a GET; a body is never read
	r.Use(httpmw.MaxBody(1024))

	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	if opts.Routes != nil {
		opts.Routes(r)
	}

	// Middleware, innermost first.
	var h http.Handler = r

	h = httpmw.WithLogger(L)(h)

	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}

	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = httpmw.StoreHeaders(opts.StoreInfo)(h)

	h = otelhttp.NewHandler(
		h,
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return shouldTrace(r.URL.Path) }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateHTTPRoute renames this once the route is matched
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)

	// after client IP so limits key on the resolved address
	if opts.RateLimitMW != nil {
		h = opts.RateLimitMW(h)
	}

	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)
	h = httpmw.RequestID("X-Request-Id")(h)

	if opts.UseRecoverMW {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}

	// outermost so they land on every response, including 429 and 500
	return httpmw.SecurityHeaders(h)
}

// shouldTrace skips probes and image fetches, which dominate request volume
// during a match and carry nothing interesting.
func shouldTrace(p string) bool {
	if p == "/-/healthy" || p == "/-/ready" || p == "/favicon.ico" {
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".ico", ".webp", ".bmp":
		return false
	}
	return true
}

func NewServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Listen binds the first free port in [port, port+attempts). Only
// address-in-use moves on to the next port; any other error is returned.
func Listen(ctx context.Context, port, attempts int) (net.Listener, error) {
	if port <= 0 {
		port = DefaultPort
	}
	if attempts <= 0 {
		attempts = 1
	}

	var lc net.ListenConfig
	var lastErr error
	for p := port; p < port+attempts && p <= 65535; p++ {
		ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", p))
		if err == nil {
			return ln, nil
		}
		if !isAddrInUse(err) {
			return nil, xerrors.Wrapf(err, "listen on port %d", p)
		}
		lastErr = err
	}
	return nil, xerrors.Wrapf(lastErr, "no free port in [%d, %d)", port, port+attempts)
}

// Port returns the TCP port ln is bound to, or 0.
func Port(ln net.Listener) int {
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Serve runs the public server on ln. Returns stop(ctx) for graceful shutdown.
func Serve(ctx context.Context, ln net.Listener, opts *Options) func(context.Context) error {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	srv := NewServer(NewHandler(opts))

	go func() {
		L.Info(ctx, "http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	return func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
