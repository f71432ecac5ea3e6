package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"stigflux/backend/compliance-api/internal/model"
	"stigflux/backend/compliance-api/internal/normalize"
	"stigflux/backend/compliance-api/internal/store"
)

// OverrideManager records and clears official human determinations. An
// official determination exists because automated scan coverage is
// necessarily incomplete: a reviewer can assert "verified compliant" and the
// engine will not silently revert it on the next scan import.
type OverrideManager struct {
	store  store.Store
	logger *slog.Logger
}

// NewOverrideManager creates an override manager backed by the store.
func NewOverrideManager(st store.Store, logger *slog.Logger) *OverrideManager {
	return &OverrideManager{
		store:  st,
		logger: logger,
	}
}

// SetOverride validates and records an official determination for a pair.
// It replaces any prior override for the same pair.
func (om *OverrideManager) SetOverride(ctx context.Context, packageID, controlID string, det model.Determination, setBy string) (*model.Override, error) {
	if !model.ValidDetermination(det) {
		return nil, fmt.Errorf("invalid determination: %s", det)
	}

	id := normalize.ControlID(strings.TrimSpace(controlID))
	ctrl, err := om.store.GetControl(ctx, id)
	if err != nil {
		return nil, err
	}
	if ctrl == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrControlNotFound, controlID)
	}

	exists, err := om.store.PackageExists(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrPackageNotFound, packageID)
	}

	ov := model.Override{
		ID:            uuid.New().String(),
		PackageID:     packageID,
		ControlID:     id,
		Determination: det,
		SetBy:         setBy,
		SetAt:         time.Now().UTC(),
	}
	if err := om.store.SetOverride(ctx, ov); err != nil {
		return nil, err
	}

	om.logger.Info("Official determination recorded",
		"package_id", packageID,
		"control_id", id,
		"determination", det,
		"set_by", setBy)
	return &ov, nil
}

// ClearOverride removes the official determination for a pair, returning it
// to automatic inference on the next aggregation.
func (om *OverrideManager) ClearOverride(ctx context.Context, packageID, controlID string) error {
	id := normalize.ControlID(strings.TrimSpace(controlID))
	if err := om.store.ClearOverride(ctx, packageID, id); err != nil {
		return err
	}
	om.logger.Info("Official determination cleared",
		"package_id", packageID,
		"control_id", id)
	return nil
}

// ListOverrides returns every official determination recorded for a package.
func (om *OverrideManager) ListOverrides(ctx context.Context, packageID string) ([]model.Override, error) {
	return om.store.OverridesForPackage(ctx, packageID)
}
