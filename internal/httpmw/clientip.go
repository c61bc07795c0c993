package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client IP extraction.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies in front of the server.
	// 0 ignores X-Forwarded-For, 1 takes its rightmost entry, 2 the one
	// before that, and so on.
	TrustedHops int
}

// ClientIP resolves the client address with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions stores the resolved client address in the request
// context. Forwarded headers are only honoured from private peers and are
// stripped whenever they are not trusted.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func clientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	peerIP := net.ParseIP(peer)
	if peerIP == nil {
		return "0.0.0.0"
	}

	if trustedHops > 0 && (peerIP.IsPrivate() || peerIP.IsLoopback()) {
		if fwd, ok := forwardedFor(r.Header.Get("X-Forwarded-For"), trustedHops); ok {
			return fwd
		}
	}

	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
	return peer
}

// forwardedFor picks the entry hops positions from the right of an
// X-Forwarded-For list. Short lists and non-IP entries are rejected.
func forwardedFor(xff string, hops int) (string, bool) {
	if xff == "" {
		return "", false
	}
	parts := strings.Split(xff, ",")
	idx := len(parts) - hops
	if idx < 0 {
		return "", false
	}
	candidate := strings.TrimSpace(parts[idx])
	if net.ParseIP(candidate) == nil {
		return "", false
	}
	return candidate, true
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
