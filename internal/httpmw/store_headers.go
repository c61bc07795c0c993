package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StoreInfo describes the resource store being served.
type StoreInfo interface {
	// StoreHash is the sha256 of the synced bundle, or "" for a local tree.
	StoreHash() string
}

// StoreHeaders adds X-Store-Hash (first 12 hex chars) to every response and
// tags the request span with the full hash.
func StoreHeaders(info StoreInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				if hash := info.StoreHash(); hash != "" {
					short := hash
					if len(short) > 12 {
						short = short[:12]
					}
					w.Header().Set("X-Store-Hash", short)
					if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
						span.SetAttributes(attribute.String("gamestore.hash", hash))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
