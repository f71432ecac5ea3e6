package model

import "strings"

// Severity is the canonical severity vocabulary for findings.
type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
	SeverityUnknown Severity = "unknown"
)

// Weight returns a numeric weight for ordering (higher = more severe).
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func (s Severity) String() string {
	return string(s)
}

// ClassifySeverity maps raw scanner severity strings to Severity. Both the
// canonical low/medium/high vocabulary and the legacy CAT I/II/III aliases
// are accepted, case-insensitively and tolerant of spacing ("CAT I", "cat1",
// "CAT_II"). Anything else lands in the unknown bucket, which rollups report
// rather than miscount.
func ClassifySeverity(raw string) Severity {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return SeverityUnknown
	}
	if strings.Contains(v, "cat") {
		// Check III before II before I: "cat iii" contains "ii" and "i".
		switch {
		case strings.Contains(v, "iii"), strings.Contains(v, "3"):
			return SeverityLow
		case strings.Contains(v, "ii"), strings.Contains(v, "2"):
			return SeverityMedium
		case strings.Contains(v, "i"), strings.Contains(v, "1"):
			return SeverityHigh
		}
		return SeverityUnknown
	}
	switch v {
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	}
	return SeverityUnknown
}
