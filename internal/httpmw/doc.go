// Package httpmw provides HTTP middleware for the public repository server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP, rate limiting, OTel tracing, trace
// response headers, store headers, metrics, request-scoped logging, route
// annotation, access log and finally the chi router.
//
// Request bodies and query strings never reach the logs.
package httpmw
