package rollup

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stigflux/backend/compliance-api/internal/aggregate"
	"stigflux/backend/compliance-api/internal/model"
	"stigflux/backend/compliance-api/internal/resolve"
	"stigflux/backend/compliance-api/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newEngine(t *testing.T, st *store.MemoryStore) *Engine {
	t.Helper()
	resolver, err := resolve.NewResolver(st, testLogger())
	require.NoError(t, err)
	aggregator := aggregate.NewEngine(st, resolver, testLogger())
	return NewEngine(st, aggregator, testLogger())
}

func TestScore(t *testing.T) {
	assert.Equal(t, 100, Score(0))
	assert.Equal(t, 94, Score(3))
	assert.Equal(t, 2, Score(49))
	assert.Equal(t, 0, Score(50))
	assert.Equal(t, 0, Score(1000))
}

func TestRollupGroup_MixedVocabularies(t *testing.T) {
	st := store.NewMemoryStore()
	st.AddSystem(model.System{ID: "sys-1", PackageID: "P", GroupID: "g-1"})
	st.AddSystem(model.System{ID: "sys-2", PackageID: "P", GroupID: "g-1"})
	st.AddFinding(model.Finding{ID: "f-1", SystemID: "sys-1", Severity: "high", Status: "open"})
	st.AddFinding(model.Finding{ID: "f-2", SystemID: "sys-1", Severity: "CAT I", Status: "open"})
	st.AddFinding(model.Finding{ID: "f-3", SystemID: "sys-2", Severity: "medium", Status: "open"})

	engine := newEngine(t, st)
	res, err := engine.RollupGroup(context.Background(), "g-1")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.High)
	assert.Equal(t, 1, res.Medium)
	assert.Zero(t, res.Low)
	assert.Equal(t, 94, res.ComplianceScore)
}

func TestRollupSystem_UnknownSeverityIsVisible(t *testing.T) {
	st := store.NewMemoryStore()
	st.AddSystem(model.System{ID: "sys-1", PackageID: "P"})
	st.AddFinding(model.Finding{ID: "f-1", SystemID: "sys-1", Severity: "CAT III", Status: "open"})
	st.AddFinding(model.Finding{ID: "f-2", SystemID: "sys-1", Severity: "whatever", Status: "open"})

	engine := newEngine(t, st)
	res, err := engine.RollupSystem(context.Background(), "sys-1")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Low)
	assert.Equal(t, 1, res.Unknown, "unrecognized severity lands in its own bucket")
}

func TestRollupSystem_Empty(t *testing.T) {
	st := store.NewMemoryStore()
	st.AddSystem(model.System{ID: "sys-1", PackageID: "P"})

	engine := newEngine(t, st)
	res, err := engine.RollupSystem(context.Background(), "sys-1")
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestRollupPackage(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.InsertControls(ctx, []model.Control{
		{ID: "AC-2(1)", Name: "X", ControlText: "Y"},
		{ID: "AU-3", Name: "Audit Content", ControlText: "Z"},
	}))
	require.NoError(t, st.InsertControlCCIs(ctx, []model.ControlCCI{
		{ControlID: "AC-2(1)", CCI: "CCI-000123"},
	}))
	st.AddSystem(model.System{ID: "sys-1", PackageID: "P", GroupID: "g-1"})
	st.AddBaselineEntry(model.BaselineEntry{PackageID: "P", ControlID: "AC-2 (1)", Applicable: true})
	st.AddBaselineEntry(model.BaselineEntry{PackageID: "P", ControlID: "AU-3", Applicable: false})

	st.AddFinding(model.Finding{ID: "f-1", SystemID: "sys-1", CCI: "CCI-000123", Severity: "high", Status: "open"})
	// Resolves to nothing: surfaced as unmapped, not dropped.
	st.AddFinding(model.Finding{ID: "f-2", SystemID: "sys-1", CCI: "CCI-999999", Severity: "medium", Status: "open"})

	engine := newEngine(t, st)
	res, err := engine.RollupPackage(ctx, "P")
	require.NoError(t, err)

	require.Len(t, res.Controls, 2)
	assert.Equal(t, "AC-2(1)", res.Controls[0].ControlID)
	assert.Equal(t, model.DeterminationNonCompliant, res.Controls[0].Determination)
	assert.Equal(t, "AU-3", res.Controls[1].ControlID)
	assert.Equal(t, model.DeterminationNotApplicable, res.Controls[1].Determination,
		"baseline entries flagged not applicable report not_applicable")

	assert.Equal(t, 2, res.Histogram.Total)
	assert.Equal(t, 1, res.Histogram.High)
	assert.Equal(t, 1, res.Histogram.Medium)
	assert.Equal(t, 1, res.Unmapped)
	assert.Equal(t, 96, res.ComplianceScore)
}

type countingMetrics struct {
	resolved int
	unmapped int
}

func (m *countingMetrics) IncResolved() { m.resolved++ }
func (m *countingMetrics) IncUnmapped() { m.unmapped++ }

func TestRollupPackage_ResolvesEachFindingOnce(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.InsertControls(ctx, []model.Control{
		{ID: "AC-2(1)", Name: "X", ControlText: "Y"},
	}))
	require.NoError(t, st.InsertControlCCIs(ctx, []model.ControlCCI{
		{ControlID: "AC-2(1)", CCI: "CCI-000123"},
	}))
	st.AddSystem(model.System{ID: "sys-1", PackageID: "P"})
	st.AddBaselineEntry(model.BaselineEntry{PackageID: "P", ControlID: "AC-2(1)", Applicable: true})
	st.AddFinding(model.Finding{ID: "f-1", SystemID: "sys-1", CCI: "CCI-000123", Severity: "high", Status: "open"})
	st.AddFinding(model.Finding{ID: "f-2", SystemID: "sys-1", CCI: "CCI-999999", Severity: "medium", Status: "open"})

	m := &countingMetrics{}
	resolver, err := resolve.NewResolver(st, testLogger())
	require.NoError(t, err)
	resolver = resolver.WithMetrics(m)
	aggregator := aggregate.NewEngine(st, resolver, testLogger())
	engine := NewEngine(st, aggregator, testLogger())

	res, err := engine.RollupPackage(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unmapped)

	// One resolution per finding: the counters track findings, not internal
	// passes over them.
	assert.Equal(t, 1, m.resolved)
	assert.Equal(t, 1, m.unmapped)
}

func TestRollupPackage_UnknownPackage(t *testing.T) {
	engine := newEngine(t, store.NewMemoryStore())
	_, err := engine.RollupPackage(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrPackageNotFound)
}
