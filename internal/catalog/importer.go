package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"stigflux/backend/compliance-api/internal/model"
	"stigflux/backend/compliance-api/internal/normalize"
	"stigflux/backend/compliance-api/internal/store"
)

const (
	// DefaultBatchSize is the number of catalog entries committed per
	// transaction.
	DefaultBatchSize = 50
	// DefaultBatchTimeout bounds each batch transaction so one oversized
	// batch cannot stall the whole import.
	DefaultBatchTimeout = 30 * time.Second
)

// Import phases, in execution order.
const (
	PhaseClear     = "clear"
	PhaseControls  = "controls"
	PhaseCCIs      = "ccis"
	PhaseRelations = "relations"
)

// ImportError records one non-fatal failure during an import run.
type ImportError struct {
	Phase            string `json:"phase"`
	Batch            int    `json:"batch,omitempty"`
	ControlID        string `json:"control_id,omitempty"`
	RelatedControlID string `json:"related_control_id,omitempty"`
	Reason           string `json:"reason"`
}

// ImportReport is the result of one import run. Counts are queried fresh
// from the store after commit so the report matches durable state.
type ImportReport struct {
	ImportRunID   string        `json:"import_run_id"`
	Imported      int           `json:"imported"`
	CCICount      int           `json:"cci_count"`
	RelationCount int           `json:"relation_count"`
	Errors        []ImportError `json:"errors"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// MetricsUpdater receives import counters.
type MetricsUpdater interface {
	IncImports()
	AddImportErrors(n int)
}

// Importer bulk-loads a catalog source into the store. The import is a full
// reseed: re-running it against stale data always converges to the new
// catalog's exact content.
type Importer struct {
	store        store.Store
	logger       *slog.Logger
	metrics      MetricsUpdater
	batchSize    int
	batchTimeout time.Duration
}

// NewImporter creates an importer with default batch settings.
func NewImporter(st store.Store, logger *slog.Logger) *Importer {
	return &Importer{
		store:        st,
		logger:       logger,
		batchSize:    DefaultBatchSize,
		batchTimeout: DefaultBatchTimeout,
	}
}

// WithMetrics attaches an import metrics sink.
func (imp *Importer) WithMetrics(m MetricsUpdater) *Importer {
	imp.metrics = m
	return imp
}

// WithBatching overrides batch size and per-batch timeout. Used by tests.
func (imp *Importer) WithBatching(size int, timeout time.Duration) *Importer {
	if size > 0 {
		imp.batchSize = size
	}
	if timeout > 0 {
		imp.batchTimeout = timeout
	}
	return imp
}

// Import runs the four-phase reseed. A clear failure is fatal: nothing was
// destroyed or the store is unusable either way. After the clear, batch and
// per-edge failures are recorded in the report and the import continues
// best-effort.
func (imp *Importer) Import(ctx context.Context, src Source) (*ImportReport, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("catalog source is empty")
	}

	report := &ImportReport{
		ImportRunID: uuid.New().String(),
		StartedAt:   time.Now().UTC(),
	}

	// Deterministic entry order: normalized id, so batch boundaries are
	// reproducible across runs of the same source.
	ids := make([]string, 0, len(src))
	byID := make(map[string]Entry, len(src))
	for raw, entry := range src {
		id := normalize.ControlID(strings.TrimSpace(raw))
		if id == "" {
			report.Errors = append(report.Errors, ImportError{
				Phase:  PhaseControls,
				Reason: "empty control identifier",
			})
			continue
		}
		if _, dup := byID[id]; dup {
			report.Errors = append(report.Errors, ImportError{
				Phase:     PhaseControls,
				ControlID: id,
				Reason:    "duplicate control identifier after normalization",
			})
			continue
		}
		byID[id] = entry
		ids = append(ids, id)
	}
	sort.Strings(ids)

	imp.logger.Info("Starting catalog import",
		"import_run_id", report.ImportRunID,
		"entries", len(ids),
		"batch_size", imp.batchSize)

	if err := imp.store.ClearCatalog(ctx); err != nil {
		return nil, fmt.Errorf("catalog clear failed: %w", err)
	}

	imp.importControls(ctx, report, ids, byID)
	imp.importCCIs(ctx, report, ids, byID)
	imp.importRelations(ctx, report, ids, byID)

	controls, ccis, relations, err := imp.store.CatalogCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final catalog counts: %w", err)
	}
	report.Imported = controls
	report.CCICount = ccis
	report.RelationCount = relations
	report.FinishedAt = time.Now().UTC()

	if imp.metrics != nil {
		imp.metrics.IncImports()
		imp.metrics.AddImportErrors(len(report.Errors))
	}

	imp.logger.Info("Catalog import finished",
		"import_run_id", report.ImportRunID,
		"imported", report.Imported,
		"cci_count", report.CCICount,
		"relation_count", report.RelationCount,
		"errors", len(report.Errors))
	return report, nil
}

func (imp *Importer) importControls(ctx context.Context, report *ImportReport, ids []string, byID map[string]Entry) {
	for batchNum, batch := range imp.batches(ids) {
		controls := make([]model.Control, 0, len(batch))
		for _, id := range batch {
			entry := byID[id]
			controls = append(controls, model.Control{
				ID:          id,
				Name:        entry.Name,
				ControlText: entry.ControlText,
				Discussion:  entry.Discussion,
				ImportRun:   report.ImportRunID,
			})
		}
		if err := imp.runBatch(ctx, func(bctx context.Context) error {
			return imp.store.InsertControls(bctx, controls)
		}); err != nil {
			// Earlier batches stay committed; this one is reported and
			// skipped.
			imp.logger.Warn("Control batch failed", "batch", batchNum, "error", err)
			report.Errors = append(report.Errors, ImportError{
				Phase:  PhaseControls,
				Batch:  batchNum,
				Reason: err.Error(),
			})
		}
	}
}

func (imp *Importer) importCCIs(ctx context.Context, report *ImportReport, ids []string, byID map[string]Entry) {
	for batchNum, batch := range imp.batches(ids) {
		var links []model.ControlCCI
		for _, id := range batch {
			entry := byID[id]
			if len(entry.CCIs) == 0 {
				continue
			}
			ctrl, err := imp.store.GetControl(ctx, id)
			if err != nil || ctrl == nil {
				// Entry's control batch did not commit; skip without
				// aborting the batch.
				report.Errors = append(report.Errors, ImportError{
					Phase:     PhaseCCIs,
					ControlID: id,
					Reason:    "control not imported, ccis skipped",
				})
				continue
			}
			seen := make(map[string]bool, len(entry.CCIs))
			for _, cci := range entry.CCIs {
				code := strings.TrimSpace(cci.CCI)
				if code == "" || seen[code] {
					continue
				}
				seen[code] = true
				links = append(links, model.ControlCCI{
					ControlID:  ctrl.ID,
					CCI:        code,
					Definition: cci.Definition,
				})
			}
		}
		if len(links) == 0 {
			continue
		}
		if err := imp.runBatch(ctx, func(bctx context.Context) error {
			return imp.store.InsertControlCCIs(bctx, links)
		}); err != nil {
			imp.logger.Warn("CCI batch failed", "batch", batchNum, "error", err)
			report.Errors = append(report.Errors, ImportError{
				Phase:  PhaseCCIs,
				Batch:  batchNum,
				Reason: err.Error(),
			})
		}
	}
}

// importRelations is per-edge best effort: catalogs legitimately reference
// controls outside the loaded set, so partial completion is an expected
// outcome, not a failure.
func (imp *Importer) importRelations(ctx context.Context, report *ImportReport, ids []string, byID map[string]Entry) {
	for _, id := range ids {
		entry := byID[id]
		if len(entry.RelatedControls) == 0 {
			continue
		}
		source, err := imp.store.GetControl(ctx, id)
		if err != nil || source == nil {
			report.Errors = append(report.Errors, ImportError{
				Phase:     PhaseRelations,
				ControlID: id,
				Reason:    "source control not imported, relations skipped",
			})
			continue
		}
		for _, raw := range entry.RelatedControls {
			related := normalize.ControlID(strings.TrimSpace(raw))
			if related == "" {
				continue
			}
			target, err := imp.store.GetControl(ctx, related)
			if err != nil {
				report.Errors = append(report.Errors, ImportError{
					Phase:            PhaseRelations,
					ControlID:        id,
					RelatedControlID: related,
					Reason:           err.Error(),
				})
				continue
			}
			if target == nil {
				report.Errors = append(report.Errors, ImportError{
					Phase:            PhaseRelations,
					ControlID:        id,
					RelatedControlID: related,
					Reason:           "relation target not in catalog",
				})
				continue
			}
			rel := model.ControlRelation{ControlID: source.ID, RelatedControlID: related}
			if err := imp.store.InsertControlRelation(ctx, rel); err != nil {
				imp.logger.Debug("Relation edge skipped",
					"control_id", id, "related_control_id", related, "error", err)
				report.Errors = append(report.Errors, ImportError{
					Phase:            PhaseRelations,
					ControlID:        id,
					RelatedControlID: related,
					Reason:           err.Error(),
				})
			}
		}
	}
}

func (imp *Importer) batches(ids []string) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += imp.batchSize {
		end := start + imp.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func (imp *Importer) runBatch(ctx context.Context, fn func(context.Context) error) error {
	bctx, cancel := context.WithTimeout(ctx, imp.batchTimeout)
	defer cancel()
	return fn(bctx)
}
