package repohttp

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type Routes struct {
	Repo      http.Handler
	Namespace string
}

func New(repo http.Handler, namespace string) *Routes {
	return &Routes{Repo: repo, Namespace: namespace}
}

// RegisterRoutes should be passed LAST so it becomes the final fallback.
//
// The namespace gets explicit patterns so metrics and access logs carry a
// bounded route label; everything else (direct resources) arrives through
// NotFound, which keeps health routes registered elsewhere intact.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	if ns := strings.TrimSuffix(rt.Namespace, "/"); ns != "" {
		r.Handle(ns+"/metadata", rt.Repo)
		r.Handle(ns+"/*", rt.Repo)
	}
	r.NotFound(rt.Repo.ServeHTTP)
	r.MethodNotAllowed(rt.Repo.ServeHTTP)
}
