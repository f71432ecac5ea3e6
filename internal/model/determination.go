package model

import "time"

// Determination is the compliance verdict for a (package, control) pair.
type Determination string

const (
	DeterminationNotAssessed   Determination = "not_assessed"
	DeterminationCompliant     Determination = "compliant"
	DeterminationNonCompliant  Determination = "non_compliant"
	DeterminationNotApplicable Determination = "not_applicable"
)

// ValidDetermination reports whether d is one of the four verdicts. Used when
// accepting human overrides.
func ValidDetermination(d Determination) bool {
	switch d {
	case DeterminationNotAssessed, DeterminationCompliant,
		DeterminationNonCompliant, DeterminationNotApplicable:
		return true
	}
	return false
}

// DeterminationResult is the aggregator's output for one (package, control)
// pair. Official is true only when a human override is in effect; automatic
// inference always produces unofficial results.
type DeterminationResult struct {
	PackageID     string        `json:"package_id"`
	ControlID     string        `json:"control_id"`
	Determination Determination `json:"determination"`
	Official      bool          `json:"official"`

	// Counts over findings that resolved to this control.
	Total       int `json:"total"`
	Open        int `json:"open"`
	OpenHigh    int `json:"open_high"`
	Satisfied   int `json:"satisfied"`
	NotReviewed int `json:"not_reviewed"`
	Invalid     int `json:"invalid"`

	ComputedAt time.Time `json:"computed_at"`
}
