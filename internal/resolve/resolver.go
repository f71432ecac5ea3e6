// Package resolve maps CCI codes and raw findings to the controls they
// implicate, using the links built by the catalog importer.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"stigflux/backend/compliance-api/internal/model"
	"stigflux/backend/compliance-api/internal/normalize"
	"stigflux/backend/compliance-api/internal/store"
)

// DefaultCacheSize bounds the CCI lookup cache. Scanner imports hit the same
// CCIs thousands of times per checklist, so even a small cache absorbs most
// of the read load.
const DefaultCacheSize = 4096

// MetricsUpdater receives resolution counters.
type MetricsUpdater interface {
	IncResolved()
	IncUnmapped()
}

// Resolver resolves CCIs and findings to controls.
type Resolver struct {
	store   store.Store
	cache   *lru.Cache[string, []model.Control]
	logger  *slog.Logger
	metrics MetricsUpdater
}

// NewResolver creates a resolver with the default cache size.
func NewResolver(st store.Store, logger *slog.Logger) (*Resolver, error) {
	cache, err := lru.New[string, []model.Control](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cci cache: %w", err)
	}
	return &Resolver{
		store:  st,
		cache:  cache,
		logger: logger,
	}, nil
}

// WithMetrics attaches a resolution metrics sink.
func (r *Resolver) WithMetrics(m MetricsUpdater) *Resolver {
	r.metrics = m
	return r
}

// PurgeCache empties the CCI cache. Called after a catalog reseed so stale
// links from the previous generation cannot be served.
func (r *Resolver) PurgeCache() {
	r.cache.Purge()
	r.logger.Debug("CCI cache purged")
}

// ResolveCCI returns the controls implementing a CCI code. CCI codes carry
// no control-style spacing variance, so the lookup is exact. Unknown CCIs
// return an empty set and no error: scanner plugin coverage routinely
// exceeds catalog coverage.
func (r *Resolver) ResolveCCI(ctx context.Context, cci string) ([]model.Control, error) {
	code := strings.TrimSpace(cci)
	if code == "" {
		return nil, nil
	}
	if controls, ok := r.cache.Get(code); ok {
		return controls, nil
	}
	controls, err := r.store.ControlsForCCI(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cci %s: %w", code, err)
	}
	r.cache.Add(code, controls)
	return controls, nil
}

// ResolveFinding determines which controls a finding speaks to. An explicit
// control id is authoritative and short-circuits CCI resolution; only when
// it is absent or unknown does the CCI fallback run. A CCI mapping to
// several controls fans the finding out to all of them. A finding that
// resolves to nothing is counted as unmapped, not treated as an error.
func (r *Resolver) ResolveFinding(ctx context.Context, f model.Finding) ([]model.Control, error) {
	if f.ControlID != "" {
		id := normalize.ControlID(strings.TrimSpace(f.ControlID))
		ctrl, err := r.store.GetControl(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve control %s: %w", id, err)
		}
		if ctrl != nil {
			if r.metrics != nil {
				r.metrics.IncResolved()
			}
			return []model.Control{*ctrl}, nil
		}
	}

	controls, err := r.ResolveCCI(ctx, f.CCI)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		if len(controls) > 0 {
			r.metrics.IncResolved()
		} else {
			r.metrics.IncUnmapped()
		}
	}
	return controls, nil
}
