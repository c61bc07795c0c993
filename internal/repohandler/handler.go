package repohandler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Tener/ggp-aps/internal/gamerepo"
	"github.com/Tener/ggp-aps/internal/log"
)

// Resolution outcomes reported to the OutcomeRecorder.
const (
	OutcomeFound       = "found"
	OutcomeNotFound    = "not_found"
	OutcomeMalformed   = "malformed"
	OutcomeBadMetadata = "bad_metadata"
	OutcomeError       = "error"
)

// htmlCSP replaces the server-wide "default-src 'none'" on HTML pages so
// viewers kept in the store can load their own scripts, styles and images.
const htmlCSP = "default-src 'self' 'unsafe-inline' data:; frame-ancestors 'none'"

// Handler serves every request from the repository. The only statuses it
// writes are 200 with the resolved body and 404 with an empty body.
type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContextOr(ctx, h.opts.Logger)

	// query string is never part of the lookup
	res, err := h.opts.Repo.Resolve(ctx, r.URL.Path)
	if err != nil {
		outcome := classify(err)
		switch outcome {
		case OutcomeNotFound:
			L.Debug(ctx, "resource not found", "path", r.URL.Path, "err", err)
		default:
			L.Error(ctx, err, "resource resolution failed", "path", r.URL.Path, "outcome", outcome)
		}
		h.observe(outcome)
		serveNotFound(w)
		return
	}

	hdr := w.Header()
	ct := contentTypeFor(r.URL.Path, res.Kind)
	hdr.Set("Content-Type", ct)
	if strings.HasPrefix(ct, "text/html") {
		hdr.Set("Content-Security-Policy", htmlCSP)
	}
	hdr.Set("Content-Length", strconv.Itoa(len(res.Body)))
	if res.Versioned {
		hdr.Set(h.opts.VersionHeader, strconv.Itoa(res.Version))
	}
	h.observe(OutcomeFound)

	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(res.Body); err != nil {
		L.Debug(ctx, "response write failed", "path", r.URL.Path, "err", err)
	}
}

func (h *Handler) observe(outcome string) {
	if h.opts.Outcomes != nil {
		h.opts.Outcomes.ObserveResolve(outcome)
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, gamerepo.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, gamerepo.ErrMalformedPath):
		return OutcomeMalformed
	case errors.Is(err, gamerepo.ErrBadMetadata):
		return OutcomeBadMetadata
	default:
		return OutcomeError
	}
}

func serveNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusNotFound)
}
