package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stigflux/backend/compliance-api/internal/model"
)

func TestMemoryStore_InsertControlsBatchIsAtomic(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.InsertControls(ctx, []model.Control{
		{ID: "AC-2", Name: "A", ControlText: "a"},
	}))

	// A batch containing a duplicate is rejected wholesale, like a rolled
	// back transaction.
	err := st.InsertControls(ctx, []model.Control{
		{ID: "AU-3", Name: "B", ControlText: "b"},
		{ID: "AC-2", Name: "dup", ControlText: "dup"},
	})
	require.Error(t, err)

	missing, err := st.GetControl(ctx, "AU-3")
	require.NoError(t, err)
	assert.Nil(t, missing, "no partial batch may survive a failed insert")
}

func TestMemoryStore_ClearCatalogCascades(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.InsertControls(ctx, []model.Control{
		{ID: "AC-2", Name: "A", ControlText: "a"},
		{ID: "AU-3", Name: "B", ControlText: "b"},
	}))
	require.NoError(t, st.InsertControlCCIs(ctx, []model.ControlCCI{
		{ControlID: "AC-2", CCI: "CCI-000012"},
	}))
	require.NoError(t, st.InsertControlRelation(ctx, model.ControlRelation{
		ControlID: "AC-2", RelatedControlID: "AU-3",
	}))

	require.NoError(t, st.ClearCatalog(ctx))
	controls, ccis, relations, err := st.CatalogCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, controls)
	assert.Zero(t, ccis)
	assert.Zero(t, relations)
}

func TestMemoryStore_DuplicateRelationRejected(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.InsertControls(ctx, []model.Control{
		{ID: "AC-2", Name: "A", ControlText: "a"},
	}))
	rel := model.ControlRelation{ControlID: "AC-2", RelatedControlID: "AC-6"}
	require.NoError(t, st.InsertControlRelation(ctx, rel))
	assert.Error(t, st.InsertControlRelation(ctx, rel))
}

func TestMemoryStore_RelationsResolveLazily(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.InsertControls(ctx, []model.Control{
		{ID: "AC-2", Name: "A", ControlText: "a"},
		{ID: "AC-6", Name: "B", ControlText: "b"},
	}))
	require.NoError(t, st.InsertControlRelation(ctx, model.ControlRelation{ControlID: "AC-2", RelatedControlID: "AC-6"}))
	require.NoError(t, st.InsertControlRelation(ctx, model.ControlRelation{ControlID: "AC-2", RelatedControlID: "ZZ-1"}))

	rels, err := st.RelationsForControl(ctx, "AC-2")
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.True(t, rels[0].Resolved())
	assert.Equal(t, "B", rels[0].Target.Name)
	assert.False(t, rels[1].Resolved(), "dangling edges are first-class, not errors")
}

func TestMemoryStore_OverrideUpsertAndClear(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.SetOverride(ctx, model.Override{
		PackageID: "P", ControlID: "AC-2",
		Determination: model.DeterminationCompliant, SetBy: "a", SetAt: now,
	}))
	require.NoError(t, st.SetOverride(ctx, model.Override{
		PackageID: "P", ControlID: "AC-2",
		Determination: model.DeterminationNotApplicable, SetBy: "b", SetAt: now,
	}))

	ov, err := st.GetOverride(ctx, "P", "AC-2")
	require.NoError(t, err)
	require.NotNil(t, ov)
	assert.Equal(t, model.DeterminationNotApplicable, ov.Determination)
	assert.Equal(t, "b", ov.SetBy)

	require.NoError(t, st.ClearOverride(ctx, "P", "AC-2"))
	ov, err = st.GetOverride(ctx, "P", "AC-2")
	require.NoError(t, err)
	assert.Nil(t, ov)
}

func TestMemoryStore_InsertHonorsContextCancellation(t *testing.T) {
	st := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := st.InsertControls(ctx, []model.Control{{ID: "AC-2", Name: "A", ControlText: "a"}})
	assert.Error(t, err)
}
