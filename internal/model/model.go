package model

import (
	"time"
)

// Control represents one security control from the loaded catalog.
// The ID is stored in normalized form and is unique across the catalog.
type Control struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ControlText string `json:"control_text"`
	Discussion  string `json:"discussion,omitempty"`
	ImportRun   string `json:"import_run,omitempty"`
}

// ControlCCI links a CCI code to the control that implements it.
// Many CCIs map to one control; a CCI code may appear under more than
// one control.
type ControlCCI struct {
	ControlID  string `json:"control_id"`
	CCI        string `json:"cci"`
	Definition string `json:"definition"`
}

// ControlRelation is a directed edge from a control to a related control
// identifier. The related side is a raw string, not a foreign key: catalogs
// legitimately reference controls outside the loaded set, so Target may be
// nil even for a stored edge.
type ControlRelation struct {
	ControlID        string   `json:"control_id"`
	RelatedControlID string   `json:"related_control_id"`
	Target           *Control `json:"target,omitempty"`
}

// Resolved reports whether the related side of the edge points at an
// imported control.
func (r ControlRelation) Resolved() bool {
	return r.Target != nil
}

// Finding is a single scan/checklist observation about one system. Findings
// are produced by the external import pipeline and are read-only inputs here.
type Finding struct {
	ID        string `json:"id"`
	SystemID  string `json:"system_id"`
	ControlID string `json:"control_id,omitempty"`
	CCI       string `json:"cci,omitempty"`
	Severity  string `json:"severity"`
	Status    string `json:"status"`
}

// System belongs to exactly one package and optionally one group within it.
type System struct {
	ID        string `json:"id"`
	PackageID string `json:"package_id"`
	GroupID   string `json:"group_id,omitempty"`
}

// BaselineEntry marks one control as selected for a package, with its
// applicability flag.
type BaselineEntry struct {
	PackageID  string `json:"package_id"`
	ControlID  string `json:"control_id"`
	Applicable bool   `json:"applicable"`
}

// Override is a human-entered official determination for a package/control
// pair. While present it takes precedence over automatic inference.
type Override struct {
	ID            string        `json:"id"`
	PackageID     string        `json:"package_id"`
	ControlID     string        `json:"control_id"`
	Determination Determination `json:"determination"`
	SetBy         string        `json:"set_by"`
	SetAt         time.Time     `json:"set_at"`
}
