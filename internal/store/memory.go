package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stigflux/backend/compliance-api/internal/model"
)

// MemoryStore implements Store with in-process maps. It mirrors the Postgres
// schema's constraints (child rows cascade on clear, unique (control, cci)
// pairs, unique relation edges) so importer behavior is identical under test.
type MemoryStore struct {
	mu        sync.RWMutex
	controls  map[string]model.Control
	ccis      []model.ControlCCI
	relations []model.ControlRelation
	packages  map[string]bool
	systems   map[string]model.System
	findings  []model.Finding
	baselines []model.BaselineEntry
	overrides map[string]model.Override
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		controls:  make(map[string]model.Control),
		packages:  make(map[string]bool),
		systems:   make(map[string]model.System),
		overrides: make(map[string]model.Override),
	}
}

func overrideKey(packageID, controlID string) string {
	return packageID + "\x00" + controlID
}

// ClearCatalog deletes CCIs, relations, then controls.
func (s *MemoryStore) ClearCatalog(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ccis = nil
	s.relations = nil
	s.controls = make(map[string]model.Control)
	return nil
}

// InsertControls inserts one batch atomically: on any duplicate the whole
// batch is rejected, matching transaction rollback semantics.
func (s *MemoryStore) InsertControls(ctx context.Context, controls []model.Control) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range controls {
		if _, exists := s.controls[c.ID]; exists {
			return fmt.Errorf("failed to insert control %s: duplicate id", c.ID)
		}
	}
	for _, c := range controls {
		s.controls[c.ID] = c
	}
	return nil
}

// InsertControlCCIs inserts one batch atomically.
func (s *MemoryStore) InsertControlCCIs(ctx context.Context, ccis []model.ControlCCI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range ccis {
		if _, exists := s.controls[c.ControlID]; !exists {
			return fmt.Errorf("failed to insert cci %s: control %s not found", c.CCI, c.ControlID)
		}
		for _, existing := range s.ccis {
			if existing.ControlID == c.ControlID && existing.CCI == c.CCI {
				return fmt.Errorf("failed to insert cci %s for control %s: duplicate", c.CCI, c.ControlID)
			}
		}
	}
	s.ccis = append(s.ccis, ccis...)
	return nil
}

// InsertControlRelation inserts one edge; duplicates are rejected.
func (s *MemoryStore) InsertControlRelation(ctx context.Context, rel model.ControlRelation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.controls[rel.ControlID]; !exists {
		return fmt.Errorf("failed to insert relation %s -> %s: source control not found", rel.ControlID, rel.RelatedControlID)
	}
	for _, existing := range s.relations {
		if existing.ControlID == rel.ControlID && existing.RelatedControlID == rel.RelatedControlID {
			return fmt.Errorf("failed to insert relation %s -> %s: duplicate edge", rel.ControlID, rel.RelatedControlID)
		}
	}
	rel.Target = nil
	s.relations = append(s.relations, rel)
	return nil
}

// CatalogCounts returns the current row counts.
func (s *MemoryStore) CatalogCounts(ctx context.Context) (int, int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.controls), len(s.ccis), len(s.relations), nil
}

// GetControl returns (nil, nil) for an unknown id.
func (s *MemoryStore) GetControl(ctx context.Context, id string) (*model.Control, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.controls[id]; ok {
		copied := c
		return &copied, nil
	}
	return nil, nil
}

// CCIsForControl returns the CCI links owned by one control.
func (s *MemoryStore) CCIsForControl(ctx context.Context, controlID string) ([]model.ControlCCI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ControlCCI
	for _, c := range s.ccis {
		if c.ControlID == controlID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CCI < out[j].CCI })
	return out, nil
}

// RelationsForControl resolves targets lazily; unresolved edges keep a nil
// Target.
func (s *MemoryStore) RelationsForControl(ctx context.Context, controlID string) ([]model.ControlRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ControlRelation
	for _, rel := range s.relations {
		if rel.ControlID != controlID {
			continue
		}
		if target, ok := s.controls[rel.RelatedControlID]; ok {
			copied := target
			rel.Target = &copied
		}
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelatedControlID < out[j].RelatedControlID })
	return out, nil
}

// ControlsForCCI returns every control the CCI maps to, sorted by id for
// deterministic fan-out.
func (s *MemoryStore) ControlsForCCI(ctx context.Context, cci string) ([]model.Control, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Control
	for _, link := range s.ccis {
		if link.CCI != cci {
			continue
		}
		if c, ok := s.controls[link.ControlID]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PackageExists reports whether the package has been seeded.
func (s *MemoryStore) PackageExists(ctx context.Context, packageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packages[packageID], nil
}

// SystemsForPackage returns the package's systems.
func (s *MemoryStore) SystemsForPackage(ctx context.Context, packageID string) ([]model.System, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.System
	for _, sys := range s.systems {
		if sys.PackageID == packageID {
			out = append(out, sys)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindingsForSystem returns the findings attached to one system.
func (s *MemoryStore) FindingsForSystem(ctx context.Context, systemID string) ([]model.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Finding
	for _, f := range s.findings {
		if f.SystemID == systemID {
			out = append(out, f)
		}
	}
	return out, nil
}

// FindingsForGroup joins systems to findings under one read lock.
func (s *MemoryStore) FindingsForGroup(ctx context.Context, groupID string) ([]model.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Finding
	for _, f := range s.findings {
		if sys, ok := s.systems[f.SystemID]; ok && sys.GroupID == groupID {
			out = append(out, f)
		}
	}
	return out, nil
}

// FindingsForPackage joins systems to findings under one read lock, matching
// the single-query consistency the Postgres store provides.
func (s *MemoryStore) FindingsForPackage(ctx context.Context, packageID string) ([]model.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Finding
	for _, f := range s.findings {
		if sys, ok := s.systems[f.SystemID]; ok && sys.PackageID == packageID {
			out = append(out, f)
		}
	}
	return out, nil
}

// BaselineForPackage returns the package's baseline entries.
func (s *MemoryStore) BaselineForPackage(ctx context.Context, packageID string) ([]model.BaselineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.BaselineEntry
	for _, e := range s.baselines {
		if e.PackageID == packageID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ControlID < out[j].ControlID })
	return out, nil
}

// GetOverride returns (nil, nil) when no override is recorded.
func (s *MemoryStore) GetOverride(ctx context.Context, packageID, controlID string) (*model.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ov, ok := s.overrides[overrideKey(packageID, controlID)]; ok {
		copied := ov
		return &copied, nil
	}
	return nil, nil
}

// OverridesForPackage returns every override recorded for the package.
func (s *MemoryStore) OverridesForPackage(ctx context.Context, packageID string) ([]model.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Override
	for _, ov := range s.overrides {
		if ov.PackageID == packageID {
			out = append(out, ov)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ControlID < out[j].ControlID })
	return out, nil
}

// SetOverride upserts the override for a pair.
func (s *MemoryStore) SetOverride(ctx context.Context, ov model.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[overrideKey(ov.PackageID, ov.ControlID)] = ov
	return nil
}

// ClearOverride removes the override for a pair.
func (s *MemoryStore) ClearOverride(ctx context.Context, packageID, controlID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, overrideKey(packageID, controlID))
	return nil
}

// Health always succeeds for the in-memory store.
func (s *MemoryStore) Health() error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Seed helpers for tests and local runs. The corresponding tables are owned
// by the external pipeline in production.

// AddPackage registers a package id so PackageExists reports it.
func (s *MemoryStore) AddPackage(packageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[packageID] = true
}

// AddSystem seeds one system and registers its package.
func (s *MemoryStore) AddSystem(sys model.System) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systems[sys.ID] = sys
	s.packages[sys.PackageID] = true
}

// AddFinding seeds one finding.
func (s *MemoryStore) AddFinding(f model.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, f)
}

// AddBaselineEntry seeds one baseline row and registers its package.
func (s *MemoryStore) AddBaselineEntry(e model.BaselineEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines = append(s.baselines, e)
	s.packages[e.PackageID] = true
}
