// Package rollup aggregates per-control determinations and per-system
// severity counts into package- and group-level summaries.
package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"stigflux/backend/compliance-api/internal/aggregate"
	"stigflux/backend/compliance-api/internal/model"
	"stigflux/backend/compliance-api/internal/normalize"
	"stigflux/backend/compliance-api/internal/store"
)

// SeveritySummary is a severity histogram over a set of findings. Unknown
// severities land in their own bucket rather than being silently miscounted.
type SeveritySummary struct {
	Total   int `json:"total"`
	High    int `json:"high"`
	Medium  int `json:"medium"`
	Low     int `json:"low"`
	Unknown int `json:"unknown"`
}

func (s *SeveritySummary) add(raw string) {
	s.Total++
	switch model.ClassifySeverity(raw) {
	case model.SeverityHigh:
		s.High++
	case model.SeverityMedium:
		s.Medium++
	case model.SeverityLow:
		s.Low++
	default:
		s.Unknown++
	}
}

// SystemRollup is the severity histogram for one system.
type SystemRollup struct {
	SystemID string `json:"system_id"`
	SeveritySummary
}

// GroupRollup is the severity histogram plus compliance score for one group.
type GroupRollup struct {
	GroupID string `json:"group_id"`
	SeveritySummary
	ComplianceScore int `json:"compliance_score"`
}

// PackageRollup is the package-level summary: per-control determinations for
// the baseline, the severity histogram across every system, the count of
// findings that resolved to no control, and the compliance score.
type PackageRollup struct {
	PackageID string                       `json:"package_id"`
	Controls  []*model.DeterminationResult `json:"controls"`
	Histogram SeveritySummary              `json:"histogram"`
	Unmapped  int                          `json:"unmapped"`

	ComplianceScore int `json:"compliance_score"`
}

// Score converts a finding count to a compliance score with a linear
// penalty: max(0, 100 - min(100, total*2)). Deliberately crude placeholder
// weighting, not a risk-calibrated model; callers must not treat it as
// audit-grade.
func Score(totalFindings int) int {
	penalty := totalFindings * 2
	if penalty > 100 {
		penalty = 100
	}
	return 100 - penalty
}

// Engine computes rollups. Reads are side-effect-free and safe to retry.
type Engine struct {
	store      store.Store
	aggregator *aggregate.Engine
	logger     *slog.Logger
}

// NewEngine creates a rollup engine.
func NewEngine(st store.Store, aggregator *aggregate.Engine, logger *slog.Logger) *Engine {
	return &Engine{
		store:      st,
		aggregator: aggregator,
		logger:     logger,
	}
}

// RollupSystem buckets one system's findings by severity.
func (e *Engine) RollupSystem(ctx context.Context, systemID string) (*SystemRollup, error) {
	findings, err := e.store.FindingsForSystem(ctx, systemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load system findings: %w", err)
	}
	out := &SystemRollup{SystemID: systemID}
	for _, f := range findings {
		out.add(f.Severity)
	}
	return out, nil
}

// RollupGroup buckets a group's findings by severity and scores the group.
func (e *Engine) RollupGroup(ctx context.Context, groupID string) (*GroupRollup, error) {
	findings, err := e.store.FindingsForGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group findings: %w", err)
	}
	out := &GroupRollup{GroupID: groupID}
	for _, f := range findings {
		out.add(f.Severity)
	}
	out.ComplianceScore = Score(out.Total)
	return out, nil
}

// RollupPackage computes per-control determinations for the package's
// baseline plus the package-wide severity histogram and unmapped-finding
// count. Baseline entries flagged not applicable get a not-applicable
// determination directly; an official override still wins.
func (e *Engine) RollupPackage(ctx context.Context, packageID string) (*PackageRollup, error) {
	exists, err := e.store.PackageExists(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrPackageNotFound, packageID)
	}

	baseline, err := e.store.BaselineForPackage(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}

	applicable := make(map[string]bool, len(baseline))
	controlIDs := make([]string, 0, len(baseline))
	for _, entry := range baseline {
		id := normalize.ControlID(strings.TrimSpace(entry.ControlID))
		applicable[id] = entry.Applicable
		controlIDs = append(controlIDs, id)
	}

	results, unmapped, err := e.aggregator.ComputePackageCompliance(ctx, packageID, controlIDs)
	if err != nil {
		return nil, err
	}

	out := &PackageRollup{PackageID: packageID, Unmapped: unmapped}
	for id, res := range results {
		if !applicable[id] && !res.Official {
			res.Determination = model.DeterminationNotApplicable
		}
		out.Controls = append(out.Controls, res)
	}
	sort.Slice(out.Controls, func(i, j int) bool {
		return out.Controls[i].ControlID < out.Controls[j].ControlID
	})

	// Histogram only; the aggregation above already resolved every finding
	// exactly once.
	findings, err := e.store.FindingsForPackage(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load package findings: %w", err)
	}
	for _, f := range findings {
		out.Histogram.add(f.Severity)
	}
	out.ComplianceScore = Score(out.Histogram.Total)
	return out, nil
}
