package gamerepo

import (
	"context"
	"fmt"
	"strings"

	"github.com/Tener/ggp-aps/internal/log"
	"github.com/Tener/ggp-aps/internal/pathutil"
	"github.com/Tener/ggp-aps/internal/xerrors"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultNamespace = "/games/"

type Options struct {
	Logger log.Logger

	// Store is rooted at the repository directory; request paths are
	// looked up in it as-is.
	Store afero.Fs

	// BaseURL is the externally visible root, injected into stylesheets.
	BaseURL string

	// Namespace is the versioned subtree, with leading and trailing slash.
	Namespace string // default: "/games/"

	// FragmentFS holds the board interface fragment. Defaults to the OS
	// filesystem so the path is resolved against the working directory.
	FragmentFS         afero.Fs
	BoardInterfacePath string // default: "games/resources/scripts/BoardInterface.js"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.FragmentFS == nil {
		o.FragmentFS = afero.NewOsFs()
	}
	if o.BoardInterfacePath == "" {
		o.BoardInterfacePath = "games/resources/scripts/BoardInterface.js"
	}
}

func (o *Options) validate() error {
	if o.Store == nil {
		return fmt.Errorf("%w: Store is nil", ErrInvalidOptions)
	}
	if o.BaseURL == "" {
		return fmt.Errorf("%w: BaseURL is empty", ErrInvalidOptions)
	}
	if !strings.HasPrefix(o.Namespace, "/") || !strings.HasSuffix(o.Namespace, "/") || len(o.Namespace) < 3 {
		return fmt.Errorf("%w: Namespace %q must look like /name/", ErrInvalidOptions, o.Namespace)
	}
	return nil
}

// Response is a resolved resource.
type Response struct {
	Body []byte
	Kind Kind

	// Version is the version directory the body was read from. Only
	// meaningful when Versioned is set.
	Version   int
	Versioned bool
}

// Repository answers request paths from a versioned store.
type Repository struct {
	logger             log.Logger
	tracer             trace.Tracer
	store              afero.Fs
	fragmentFS         afero.Fs
	baseURL            string
	namespace          string
	boardInterfacePath string
}

func New(opts Options) (*Repository, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Repository{
		logger:             opts.Logger,
		tracer:             otel.Tracer("ggp-aps/gamerepo"),
		store:              opts.Store,
		fragmentFS:         opts.FragmentFS,
		baseURL:            opts.BaseURL,
		namespace:          opts.Namespace,
		boardInterfacePath: opts.BoardInterfacePath,
	}, nil
}

// Namespace returns the configured versioned subtree.
func (r *Repository) Namespace() string { return r.namespace }

// Resolve maps a request path (no query string) to a response.
//
// Paths outside the namespace are served directly and are never not-found:
// a missing file yields "{}". Paths inside it go through version resolution
// and fallback. Errors wrap ErrNotFound, ErrMalformedPath or ErrBadMetadata.
func (r *Repository) Resolve(ctx context.Context, reqPath string) (*Response, error) {
	ctx, span := r.tracer.Start(ctx, "gamerepo.Resolve",
		trace.WithAttributes(attribute.String("gamerepo.path", reqPath)))
	defer span.End()

	res, err := r.resolve(ctx, reqPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("gamerepo.kind", res.Kind.String()))
	if res.Versioned {
		span.SetAttributes(attribute.Int("gamerepo.version", res.Version))
	}
	return res, nil
}

func (r *Repository) resolve(ctx context.Context, reqPath string) (*Response, error) {
	if !pathutil.IsSafeRequestPath(reqPath) {
		return nil, fmt.Errorf("%w: unsafe path %q", ErrNotFound, reqPath)
	}

	if !strings.HasPrefix(reqPath, r.namespace) {
		m := r.Materialize(reqPath)
		return &Response{Body: m.Body, Kind: m.Kind}, nil
	}

	if reqPath == r.namespace+aggregateLeaf {
		body, err := r.Aggregate(ctx)
		if err != nil {
			return nil, err
		}
		return &Response{Body: body, Kind: KindAggregate}, nil
	}

	if strings.HasSuffix(reqPath, "/") && len(reqPath) > len(r.namespace) {
		reqPath += MetadataLeaf
	}

	d, err := ParsePath(reqPath)
	if err != nil {
		return nil, err
	}
	return r.resolveVersioned(d)
}

func (r *Repository) resolveVersioned(d PathDescriptor) (*Response, error) {
	highest := r.MaxVersion(d.Prefix)
	target := highest
	if d.Explicit {
		target = d.Version
	}
	if target < 0 || target > highest {
		return nil, fmt.Errorf("%w: version %d of %s outside [0, %d]", ErrNotFound, target, d.Prefix, highest)
	}

	for v := target; v >= 0; v-- {
		m := r.Materialize(versionedName(d.Prefix, v, d.Leaf))
		if m.Absent() {
			continue
		}
		res := &Response{Body: m.Body, Kind: m.Kind, Version: v, Versioned: true}
		if d.Leaf == MetadataLeaf {
			body, err := AdjustMetadata(m.Body, d.ExplicitVersion(), highest)
			if err != nil {
				return nil, xerrors.Wrapf(err, "adjust %s at version %d", d.Prefix, v)
			}
			res.Body = body
			res.Kind = KindMetadata
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s absent at versions %d..0", ErrNotFound, d.String(), target)
}
