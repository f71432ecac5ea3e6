package model

import "strings"

// FindingStatus is the canonical status vocabulary for findings.
type FindingStatus string

const (
	StatusOpen          FindingStatus = "open"
	StatusNotAFinding   FindingStatus = "not_a_finding"
	StatusNotReviewed   FindingStatus = "not_reviewed"
	StatusNotApplicable FindingStatus = "not_applicable"
)

// Satisfied reports whether the status counts as evidence of compliance.
func (s FindingStatus) Satisfied() bool {
	return s == StatusNotAFinding || s == StatusNotApplicable
}

// ClassifyStatus maps raw checklist status strings to FindingStatus. STIG
// checklist exports spell these several ways ("NotAFinding", "Not_Reviewed",
// "not a finding"); comparison ignores case, spaces, underscores and hyphens.
// The second return is false for unrecognized statuses, which callers reject
// individually without aborting the surrounding aggregation.
func ClassifyStatus(raw string) (FindingStatus, bool) {
	v := strings.ToLower(raw)
	v = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, v)
	switch v {
	case "open":
		return StatusOpen, true
	case "notafinding", "naf":
		return StatusNotAFinding, true
	case "notreviewed":
		return StatusNotReviewed, true
	case "notapplicable", "na":
		return StatusNotApplicable, true
	}
	return "", false
}
