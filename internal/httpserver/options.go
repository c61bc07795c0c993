package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Tener/ggp-aps/internal/health"
	"github.com/Tener/ggp-aps/internal/httpmw"
	"github.com/Tener/ggp-aps/internal/log"
)

type Options struct {
	Logger log.Logger

	// Routes registers the resource routes. It runs after the health routes
	// so it may install the NotFound fallback.
	Routes func(chi.Router)

	Health    health.Probe
	Readiness health.Probe

	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	StoreInfo httpmw.StoreInfo // for X-Store-Hash

	UseRecoverMW bool
	OnPanic      func()
}
