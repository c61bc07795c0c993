package opshttp

import (
	"net/http"

	"github.com/Tener/ggp-aps/internal/health"
)

// DefaultPort is the admin listener port when none is configured.
const DefaultPort = 9100

type Options struct {
	Port         int
	Metrics      http.Handler
	EnablePprof  bool
	Health       health.Probe
	Readiness    health.Probe
	UseRecoverMW bool
	OnPanic      func() // called after a recovered panic, e.g. to bump a counter
}
