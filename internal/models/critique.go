package models

import "strings"

// Severity is the HCSP critique category.
type Severity string

// Severities, highest first
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
	SeverityPedantic Severity = "PEDANTIC"
)

// ParseSeverity maps free-form category text to a Severity. Unknown text
// reports false.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical, true
	case SeverityMajor:
		return SeverityMajor, true
	case SeverityMinor:
		return SeverityMinor, true
	case SeverityPedantic:
		return SeverityPedantic, true
	}
	return "", false
}

// Blocking reports whether the severity can fail a verdict.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityMajor
}

// CategorizedCritique is one critique emitted by a voter.
type CategorizedCritique struct {
	Category Severity `json:"category"`
	Section  string   `json:"section"`
	Issue    string   `json:"issue"`
}

// SufficiencyVerdict is the aggregated result of one voting round.
type SufficiencyVerdict struct {
	Sufficient           bool                             `json:"sufficient"`
	CriticalGaps         []string                         `json:"criticalGaps"`
	StylisticPreferences []string                         `json:"stylisticPreferences"`
	FailingSections      []string                         `json:"failingSections"`
	Details              map[string][]CategorizedCritique `json:"details"`
	MedianMajor          int                              `json:"medianMajor"`
	CriticalCount        int                              `json:"criticalCount"`
	// ShortCircuited is set when the challenger found no gaps and no vote ran.
	ShortCircuited bool `json:"shortCircuited,omitempty"`
}

// Global reports whether the verdict requests a full re-synthesis.
func (v SufficiencyVerdict) Global() bool {
	for _, s := range v.FailingSections {
		if s == SectionGlobal {
			return true
		}
	}
	return false
}

// ChallengeResult is the challenger's flat critique of a synthesis.
type ChallengeResult struct {
	Critiques          []string `json:"critiques"`
	HasSignificantGaps bool     `json:"hasSignificantGaps"`
}

// Contradiction severities
const (
	ContradictionLow    = "low"
	ContradictionMedium = "medium"
	ContradictionHigh   = "high"
)

// SeverityRank orders contradiction severities; unknown text ranks lowest.
func SeverityRank(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ContradictionHigh:
		return 3
	case ContradictionMedium:
		return 2
	case ContradictionLow:
		return 1
	}
	return 0
}

// Contradiction is a pair of conflicting claims found by the PVR check.
type Contradiction struct {
	ClaimA   string `json:"claimA"`
	ClaimB   string `json:"claimB"`
	Severity string `json:"severity"`
	Section  string `json:"section,omitempty"`
}

// PVRResult is the outcome of a consistency check.
type PVRResult struct {
	IsConsistent     bool            `json:"isConsistent"`
	EntailmentScore  float64         `json:"entailmentScore"`
	Contradictions   []Contradiction `json:"contradictions"`
	SectionsToReroll []string        `json:"sectionsToReroll"`
	// Rerolled lists sections regenerated by reconciliation.
	Rerolled []string `json:"rerolled,omitempty"`
	// Skipped is set when the check could not run (no sub-questions or a
	// failed verification call).
	Skipped bool `json:"skipped,omitempty"`
}
