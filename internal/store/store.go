package store

import (
	"context"
	"errors"

	"stigflux/backend/compliance-api/internal/model"
)

// Sentinel errors surfaced to callers. Per-entry import failures are recorded
// in reports instead of being returned.
var (
	ErrControlNotFound = errors.New("control not found")
	ErrPackageNotFound = errors.New("package not found")
)

// Store is the persistence contract for the compliance engine. A Postgres
// implementation backs the service; an in-memory implementation backs tests.
type Store interface {
	// Catalog bulk load. ClearCatalog deletes CCIs and relations before
	// controls so no foreign-key violation occurs. Each Insert* call runs as
	// one atomic transaction and honors the context deadline.
	ClearCatalog(ctx context.Context) error
	InsertControls(ctx context.Context, controls []model.Control) error
	InsertControlCCIs(ctx context.Context, ccis []model.ControlCCI) error
	InsertControlRelation(ctx context.Context, rel model.ControlRelation) error
	CatalogCounts(ctx context.Context) (controls, ccis, relations int, err error)

	// Catalog reads. GetControl returns (nil, nil) for an unknown id.
	GetControl(ctx context.Context, id string) (*model.Control, error)
	CCIsForControl(ctx context.Context, controlID string) ([]model.ControlCCI, error)
	RelationsForControl(ctx context.Context, controlID string) ([]model.ControlRelation, error)
	ControlsForCCI(ctx context.Context, cci string) ([]model.Control, error)

	// Scope reads, owned by external collaborators. FindingsForPackage and
	// FindingsForGroup are single joined queries so a concurrent finding
	// import can make them stale but never inconsistent.
	PackageExists(ctx context.Context, packageID string) (bool, error)
	SystemsForPackage(ctx context.Context, packageID string) ([]model.System, error)
	FindingsForSystem(ctx context.Context, systemID string) ([]model.Finding, error)
	FindingsForGroup(ctx context.Context, groupID string) ([]model.Finding, error)
	FindingsForPackage(ctx context.Context, packageID string) ([]model.Finding, error)
	BaselineForPackage(ctx context.Context, packageID string) ([]model.BaselineEntry, error)

	// Official override persistence. GetOverride returns (nil, nil) when no
	// override is recorded for the pair.
	GetOverride(ctx context.Context, packageID, controlID string) (*model.Override, error)
	OverridesForPackage(ctx context.Context, packageID string) ([]model.Override, error)
	SetOverride(ctx context.Context, ov model.Override) error
	ClearOverride(ctx context.Context, packageID, controlID string) error

	Health() error
	Close() error
}
