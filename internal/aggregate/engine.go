// Package aggregate computes compliance determinations for (package,
// control) pairs by reducing resolved findings across every system in the
// package's scope.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stigflux/backend/compliance-api/internal/model"
	"stigflux/backend/compliance-api/internal/normalize"
	"stigflux/backend/compliance-api/internal/resolve"
	"stigflux/backend/compliance-api/internal/store"
)

// Publisher receives determination results after they are computed.
type Publisher interface {
	PublishDetermination(res *model.DeterminationResult)
}

// MetricsUpdater receives aggregation counters.
type MetricsUpdater interface {
	IncDeterminations()
}

// Engine is the compliance aggregator. Aggregation is a pure function of the
// package's scope, its findings, and the control/CCI links: identical inputs
// produce identical output.
type Engine struct {
	store     store.Store
	resolver  *resolve.Resolver
	logger    *slog.Logger
	publisher Publisher
	metrics   MetricsUpdater
}

// NewEngine creates a compliance aggregation engine.
func NewEngine(st store.Store, resolver *resolve.Resolver, logger *slog.Logger) *Engine {
	return &Engine{
		store:    st,
		resolver: resolver,
		logger:   logger,
	}
}

// WithPublisher attaches a determination event publisher.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.publisher = p
	return e
}

// WithMetrics attaches an aggregation metrics sink.
func (e *Engine) WithMetrics(m MetricsUpdater) *Engine {
	e.metrics = m
	return e
}

// ComputeControlCompliance computes the determination for one (package,
// control) pair. The control and package must exist; a previously recorded
// official override takes precedence over the automatic inference.
func (e *Engine) ComputeControlCompliance(ctx context.Context, packageID, controlID string) (*model.DeterminationResult, error) {
	id := normalize.ControlID(strings.TrimSpace(controlID))

	ctrl, err := e.store.GetControl(ctx, id)
	if err != nil {
		return nil, err
	}
	if ctrl == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrControlNotFound, controlID)
	}

	exists, err := e.store.PackageExists(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrPackageNotFound, packageID)
	}

	results, _, err := e.ComputePackageCompliance(ctx, packageID, []string{id})
	if err != nil {
		return nil, err
	}
	res := results[id]

	if e.publisher != nil {
		e.publisher.PublishDetermination(res)
	}
	return res, nil
}

// ComputePackageCompliance computes determinations for a set of controls in
// one pass: the package's findings are fetched with a single joined query
// and each finding is resolved exactly once, so the cost does not scale with
// the number of requested controls. Control ids are assumed normalized. The
// second return is the number of findings that resolved to no control, so
// callers reporting it do not have to resolve the findings again.
//
// A caller-side deadline applies to the whole computation; on cancellation
// an error is returned rather than a result computed from a partial join.
func (e *Engine) ComputePackageCompliance(ctx context.Context, packageID string, controlIDs []string) (map[string]*model.DeterminationResult, int, error) {
	now := time.Now().UTC()
	results := make(map[string]*model.DeterminationResult, len(controlIDs))
	for _, id := range controlIDs {
		results[id] = &model.DeterminationResult{
			PackageID:     packageID,
			ControlID:     id,
			Determination: model.DeterminationNotAssessed,
			ComputedAt:    now,
		}
	}

	findings, err := e.store.FindingsForPackage(ctx, packageID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load package findings: %w", err)
	}

	var unmapped int
	for _, f := range findings {
		if err := ctx.Err(); err != nil {
			return nil, 0, fmt.Errorf("aggregation incomplete: %w", err)
		}

		controls, err := e.resolver.ResolveFinding(ctx, f)
		if err != nil {
			return nil, 0, err
		}
		if len(controls) == 0 {
			unmapped++
			continue
		}

		status, statusOK := model.ClassifyStatus(f.Status)
		severity := model.ClassifySeverity(f.Severity)
		valid := statusOK && severity != model.SeverityUnknown

		// Intentional fan-out: the finding counts toward every resolved
		// control independently.
		for _, ctrl := range controls {
			res, wanted := results[ctrl.ID]
			if !wanted {
				continue
			}
			if !valid {
				res.Invalid++
				continue
			}
			res.Total++
			switch status {
			case model.StatusOpen:
				res.Open++
				if severity == model.SeverityHigh {
					res.OpenHigh++
				}
			case model.StatusNotReviewed:
				res.NotReviewed++
			default:
				res.Satisfied++
			}
		}
	}

	overrides, err := e.store.OverridesForPackage(ctx, packageID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load overrides: %w", err)
	}
	official := make(map[string]model.Override, len(overrides))
	for _, ov := range overrides {
		official[ov.ControlID] = ov
	}

	for id, res := range results {
		res.Determination = reduce(res)
		if ov, ok := official[id]; ok {
			res.Determination = ov.Determination
			res.Official = true
		}
		if e.metrics != nil {
			e.metrics.IncDeterminations()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("aggregation incomplete: %w", err)
	}
	return results, unmapped, nil
}

// reduce applies the status precedence: open high beats open beats
// satisfied; silence is not-assessed, never a passing grade.
func reduce(res *model.DeterminationResult) model.Determination {
	switch {
	case res.Open > 0:
		return model.DeterminationNonCompliant
	case res.Total > 0 && res.Satisfied == res.Total:
		return model.DeterminationCompliant
	default:
		return model.DeterminationNotAssessed
	}
}
