package httpmw

import "net/http"

// SecurityHeaders sets response headers for a public, read-only resource
// server. Game pages on other origins load scripts, stylesheets and
// metadata from here, so cross-origin reads are allowed while framing,
// sniffing and active content in our own documents are not.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("Cross-Origin-Resource-Policy", "cross-origin")
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Expose-Headers", "X-Resource-Version, X-Store-Hash, X-Request-Id")

		next.ServeHTTP(w, r)
	})
}
