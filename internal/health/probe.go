package health

import (
	"context"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/Tener/ggp-aps/internal/xerrors"
)

// Probe is evaluated at request time: nil is OK, an error is the reason it
// failed.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every non-nil probe passes, and reports the first
// failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes as soon as one non-nil probe passes. With no probes at all it
// fails; otherwise it reports the last failure seen.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		err := xerrors.New("no healthy probes")
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err = p.Check(ctx); err == nil {
				return nil
			}
		}
		return err
	}
}

// StoreDir fails unless dir exists in fsys and is a directory. The resource
// store is re-read on every request, so this is checked live too.
func StoreDir(fsys afero.Fs, dir string) CheckFunc {
	return func(context.Context) error {
		fi, err := fsys.Stat(dir)
		if err != nil {
			return xerrors.Wrapf(err, "resource store %s", dir)
		}
		if !fi.IsDir() {
			return xerrors.Newf("resource store %s is not a directory", dir)
		}
		return nil
	}
}

// ShutdownGate fails readiness once Set is called, so load balancers stop
// routing here while in-flight requests finish. The zero value is open.
type ShutdownGate struct {
	closed atomic.Pointer[string]
}

// Set closes the gate. An empty reason reports as "draining".
func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.closed.Store(&reason)
}

// Clear reopens the gate.
func (g *ShutdownGate) Clear() { g.closed.Store(nil) }

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if r := g.closed.Load(); r != nil {
			return xerrors.New(*r)
		}
		return nil
	}
}
