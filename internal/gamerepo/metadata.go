package gamerepo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MetadataLeaf is the file name that carries a game's metadata object.
const MetadataLeaf = "METADATA"

// aggregateLeaf is the namespace child that returns every game's metadata.
const aggregateLeaf = "metadata"

var sortedJSON = &ojg.Options{Sort: true}

// AdjustMetadata parses raw as a JSON object and sets its "version" field
// to explicit when non-nil, otherwise to max. Output keys are sorted.
func AdjustMetadata(raw []byte, explicit *int, max int) ([]byte, error) {
	v, err := oj.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, not an object", ErrBadMetadata, v)
	}
	// numbers beyond float64 range parse as ±Inf and would not re-serialize
	// as JSON
	if err := checkFinite(obj); err != nil {
		return nil, err
	}

	version := max
	if explicit != nil {
		version = *explicit
	}
	obj["version"] = int64(version)

	return []byte(oj.JSON(obj, sortedJSON)), nil
}

func checkFinite(v any) error {
	switch x := v.(type) {
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return fmt.Errorf("%w: number out of range", ErrBadMetadata)
		}
	case map[string]any:
		for k, e := range x {
			if err := checkFinite(e); err != nil {
				return fmt.Errorf("%w (field %q)", err, k)
			}
		}
	case []any:
		for _, e := range x {
			if err := checkFinite(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Aggregate returns one JSON object mapping each game under the namespace to
// its resolved METADATA. Games whose metadata cannot be resolved or parsed
// are logged and left out.
func (r *Repository) Aggregate(ctx context.Context) ([]byte, error) {
	ctx, span := r.tracer.Start(ctx, "gamerepo.Aggregate")
	defer span.End()

	dir := strings.TrimSuffix(r.namespace, "/")
	entries, err := readDir(r.store, dir)
	if err != nil {
		r.logger.Warn(ctx, "namespace directory unreadable", "dir", dir, "err", err)
		return []byte("{}"), nil
	}

	out := make(map[string]any, len(entries))
	for _, e := range entries {
		name := e.Name()
		res, err := r.Resolve(ctx, r.namespace+name+"/")
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				r.logger.Debug(ctx, "game has no metadata", "game", name)
			} else {
				r.logger.Warn(ctx, "skipping game metadata", "game", name, "err", err)
			}
			continue
		}
		v, err := oj.Parse(res.Body)
		if err != nil {
			r.logger.Warn(ctx, "skipping unparseable game metadata", "game", name, "err", err)
			continue
		}
		out[name] = v
	}

	span.AddEvent("aggregated", trace.WithAttributes(attribute.Int("gamerepo.games", len(out))))
	return []byte(oj.JSON(out, sortedJSON)), nil
}
