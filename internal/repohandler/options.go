package repohandler

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tener/ggp-aps/internal/gamerepo"
	"github.com/Tener/ggp-aps/internal/log"
)

var ErrInvalidOptions = errors.New("repohandler: invalid options")

// Resolver is satisfied by *gamerepo.Repository.
type Resolver interface {
	Resolve(ctx context.Context, path string) (*gamerepo.Response, error)
}

// OutcomeRecorder counts resolution outcomes (found, not_found, ...).
type OutcomeRecorder interface {
	ObserveResolve(outcome string)
}

type Options struct {
	// Logger is used when the request context carries none.
	Logger log.Logger
	Repo   Resolver

	// Outcomes is optional.
	Outcomes OutcomeRecorder

	VersionHeader string // default: "X-Resource-Version"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.VersionHeader == "" {
		o.VersionHeader = "X-Resource-Version"
	}
}

func (o *Options) validate() error {
	if o.Repo == nil {
		return fmt.Errorf("%w: Repo is nil", ErrInvalidOptions)
	}
	return nil
}
