package review

import "strings"

// Category identifies which expert produced a finding.
type Category string

const (
	CategoryCriticalBug     Category = "CRITICAL_BUG"
	CategoryStyleSuggestion Category = "STYLE_SUGGESTION"
)

// Confidence values assigned per category. They are never taken from the
// model's output.
const (
	CriticalBugConfidence     = 0.95
	StyleSuggestionConfidence = 0.70
)

// ConfidenceFor returns the fixed confidence for a category.
func ConfidenceFor(c Category) float64 {
	switch c {
	case CategoryCriticalBug:
		return CriticalBugConfidence
	case CategoryStyleSuggestion:
		return StyleSuggestionConfidence
	default:
		return 0
	}
}

// Severity is the label an expert assigns to a finding.
type Severity string

const (
	SeverityRuleViolation Severity = "RULE_VIOLATION"
	SeverityHigh          Severity = "HIGH"
	SeverityMedium        Severity = "MEDIUM"
	SeverityLow           Severity = "LOW"
)

// Label returns the human-readable label shown in reports.
func (s Severity) Label() string {
	switch s {
	case SeverityRuleViolation:
		return "Kural İhlali"
	case SeverityHigh:
		return "Yüksek"
	case SeverityMedium:
		return "Orta"
	case SeverityLow:
		return "Düşük"
	default:
		return string(s)
	}
}

// ParseSeverity maps the labels the experts are instructed to emit, as well
// as the enum names themselves, onto a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kural ihlali", "rule_violation", "rule violation":
		return SeverityRuleViolation, true
	case "yüksek", "yuksek", "high":
		return SeverityHigh, true
	case "orta", "medium":
		return SeverityMedium, true
	case "düşük", "dusuk", "low":
		return SeverityLow, true
	default:
		return "", false
	}
}

// RawFinding is one validated entry of an expert's output.
type RawFinding struct {
	Line     int      `json:"line"`
	Comment  string   `json:"comment"`
	Severity Severity `json:"severity"`
}

// Finding is one analysis result after merging. Findings are not modified
// once created.
type Finding struct {
	Line       int      `json:"line"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
}

// Classification holds both experts' outputs for one diff.
type Classification struct {
	CriticalBugs     []RawFinding `json:"criticalBugs"`
	StyleSuggestions []RawFinding `json:"styleSuggestions"`
}

// SeverityCounts holds counts by severity label.
type SeverityCounts struct {
	RuleViolation int `json:"ruleViolation"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
}

// Summary provides an overview of merged findings.
type Summary struct {
	Total            int            `json:"total"`
	CriticalBugs     int            `json:"criticalBugs"`
	StyleSuggestions int            `json:"styleSuggestions"`
	Counts           SeverityCounts `json:"counts"`
}

// ComputeSummary calculates the summary from findings.
func ComputeSummary(findings []Finding) Summary {
	s := Summary{Total: len(findings)}
	for _, f := range findings {
		switch f.Category {
		case CategoryCriticalBug:
			s.CriticalBugs++
		case CategoryStyleSuggestion:
			s.StyleSuggestions++
		}
		switch f.Severity {
		case SeverityRuleViolation:
			s.Counts.RuleViolation++
		case SeverityHigh:
			s.Counts.High++
		case SeverityMedium:
			s.Counts.Medium++
		case SeverityLow:
			s.Counts.Low++
		}
	}
	return s
}

// SeverityRank returns a numeric rank for threshold checks (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityRuleViolation:
		return 4
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

// MeetsThreshold returns true if severity is at or above the threshold.
// The threshold accepts anything ParseSeverity understands; "none" or an
// empty threshold never matches.
func MeetsThreshold(s Severity, threshold string) bool {
	if threshold == "none" || threshold == "" {
		return false
	}
	t, ok := ParseSeverity(threshold)
	if !ok {
		return false
	}
	return SeverityRank(s) >= SeverityRank(t)
}
