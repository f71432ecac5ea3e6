package catalog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stigflux/backend/compliance-api/internal/model"
	"stigflux/backend/compliance-api/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleSource() Source {
	return Source{
		"AC-2": {
			Name:        "Account Management",
			ControlText: "Define and document the types of accounts allowed.",
			CCIs: []CCIEntry{
				{CCI: "CCI-000012", Definition: "Manage accounts."},
			},
		},
		// Raw key carries the spaced form; the importer must store the
		// normalized id.
		"AC-2 (1)": {
			Name:            "Automated System Account Management",
			ControlText:     "Support account management using automated mechanisms.",
			RelatedControls: []string{"AC-2", "AC-99"},
			CCIs: []CCIEntry{
				{CCI: "CCI-000015", Definition: "Employ automated mechanisms."},
				{CCI: "CCI-000016", Definition: "Automate temporary account removal."},
			},
		},
		"AU-3": {
			Name:            "Content of Audit Records",
			ControlText:     "Ensure audit records contain required content.",
			RelatedControls: []string{"AC-2 (1)"},
		},
	}
}

func TestImporter_ImportNormalizesIDs(t *testing.T) {
	st := store.NewMemoryStore()
	imp := NewImporter(st, testLogger())

	report, err := imp.Import(context.Background(), sampleSource())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 3, report.CCICount)
	assert.NotEmpty(t, report.ImportRunID)

	ctrl, err := st.GetControl(context.Background(), "AC-2(1)")
	require.NoError(t, err)
	require.NotNil(t, ctrl)
	assert.Equal(t, "Automated System Account Management", ctrl.Name)
	assert.Equal(t, report.ImportRunID, ctrl.ImportRun)

	// The spaced form was never stored.
	spaced, err := st.GetControl(context.Background(), "AC-2 (1)")
	require.NoError(t, err)
	assert.Nil(t, spaced)
}

func TestImporter_DanglingRelationSkippedNotFatal(t *testing.T) {
	st := store.NewMemoryStore()
	imp := NewImporter(st, testLogger())

	report, err := imp.Import(context.Background(), sampleSource())
	require.NoError(t, err)

	// AC-99 is not in the catalog: the edge is skipped, the entry's control
	// and CCIs import fully.
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 3, report.CCICount)
	assert.Equal(t, 2, report.RelationCount)

	require.Len(t, report.Errors, 1)
	assert.Equal(t, PhaseRelations, report.Errors[0].Phase)
	assert.Equal(t, "AC-99", report.Errors[0].RelatedControlID)

	ccis, err := st.CCIsForControl(context.Background(), "AC-2(1)")
	require.NoError(t, err)
	assert.Len(t, ccis, 2)

	// Relation normalization applies to targets too: "AC-2 (1)" in AU-3's
	// related list resolves to the imported control.
	rels, err := st.RelationsForControl(context.Background(), "AU-3")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "AC-2(1)", rels[0].RelatedControlID)
	assert.True(t, rels[0].Resolved())
}

func TestImporter_ReseedIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	imp := NewImporter(st, testLogger())

	first, err := imp.Import(context.Background(), sampleSource())
	require.NoError(t, err)
	second, err := imp.Import(context.Background(), sampleSource())
	require.NoError(t, err)

	assert.Equal(t, first.Imported, second.Imported)
	assert.Equal(t, first.CCICount, second.CCICount)
	assert.Equal(t, first.RelationCount, second.RelationCount)
	assert.Len(t, second.Errors, len(first.Errors))

	controls, ccis, relations, err := st.CatalogCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, controls)
	assert.Equal(t, 3, ccis)
	assert.Equal(t, 2, relations)
}

// flakyStore injects a failure into the control batch containing failID.
type flakyStore struct {
	*store.MemoryStore
	failID string
}

func (f *flakyStore) InsertControls(ctx context.Context, controls []model.Control) error {
	for _, c := range controls {
		if c.ID == f.failID {
			return errors.New("injected batch failure")
		}
	}
	return f.MemoryStore.InsertControls(ctx, controls)
}

func TestImporter_BatchFailureDoesNotAbortImport(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore(), failID: "AC-2"}
	imp := NewImporter(st, testLogger()).WithBatching(1, time.Second)

	report, err := imp.Import(context.Background(), sampleSource())
	require.NoError(t, err)

	// The failed batch is reported; the other batches stay committed.
	assert.Equal(t, 2, report.Imported)

	var batchErrors []ImportError
	for _, ie := range report.Errors {
		if ie.Phase == PhaseControls {
			batchErrors = append(batchErrors, ie)
		}
	}
	require.Len(t, batchErrors, 1)
	assert.Contains(t, batchErrors[0].Reason, "injected batch failure")

	// AC-2's control never committed, so its CCIs were skipped with a
	// recorded error rather than aborting the CCI phase.
	ctrl, err := st.GetControl(context.Background(), "AC-2")
	require.NoError(t, err)
	assert.Nil(t, ctrl)

	other, err := st.GetControl(context.Background(), "AU-3")
	require.NoError(t, err)
	assert.NotNil(t, other)
}

// stallingStore blocks inside the control batch containing stallID until the
// batch context expires.
type stallingStore struct {
	*store.MemoryStore
	stallID string
}

func (s *stallingStore) InsertControls(ctx context.Context, controls []model.Control) error {
	for _, c := range controls {
		if c.ID == s.stallID {
			<-ctx.Done()
			return ctx.Err()
		}
	}
	return s.MemoryStore.InsertControls(ctx, controls)
}

func TestImporter_BatchTimeoutDoesNotStallImport(t *testing.T) {
	st := &stallingStore{MemoryStore: store.NewMemoryStore(), stallID: "AC-2"}
	imp := NewImporter(st, testLogger()).WithBatching(1, 10*time.Millisecond)

	report, err := imp.Import(context.Background(), sampleSource())
	require.NoError(t, err)

	// The stalled batch hits its own deadline; the import moves on and the
	// remaining batches commit.
	assert.Equal(t, 2, report.Imported)

	var timedOut bool
	for _, ie := range report.Errors {
		if ie.Phase == PhaseControls && ie.Reason == context.DeadlineExceeded.Error() {
			timedOut = true
		}
	}
	assert.True(t, timedOut, "deadline failure recorded in the report: %+v", report.Errors)

	other, err := st.GetControl(context.Background(), "AU-3")
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestImporter_EmptySourceIsFatal(t *testing.T) {
	st := store.NewMemoryStore()
	imp := NewImporter(st, testLogger())

	_, err := imp.Import(context.Background(), Source{})
	require.Error(t, err)
}

func TestImporter_DuplicateAfterNormalizationReported(t *testing.T) {
	st := store.NewMemoryStore()
	imp := NewImporter(st, testLogger())

	src := Source{
		"AC-2(1)":  {Name: "A", ControlText: "a"},
		"AC-2 (1)": {Name: "B", ControlText: "b"},
	}
	report, err := imp.Import(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Reason, "duplicate control identifier")
}

func TestImporter_CountsComeFromStore(t *testing.T) {
	st := store.NewMemoryStore()
	imp := NewImporter(st, testLogger())

	report, err := imp.Import(context.Background(), sampleSource())
	require.NoError(t, err)

	controls, ccis, relations, err := st.CatalogCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, controls, report.Imported)
	assert.Equal(t, ccis, report.CCICount)
	assert.Equal(t, relations, report.RelationCount)
}
