package review

import "sort"

// Merge turns both experts' raw output into the unified finding list.
//
// Confidence comes from the category alone. Critical bugs are placed before
// style suggestions and the result is stable-sorted by line, so findings on
// the same line keep bug-before-style and emission order.
func Merge(bugs, styles []RawFinding) []Finding {
	findings := make([]Finding, 0, len(bugs)+len(styles))
	findings = appendCategory(findings, bugs, CategoryCriticalBug)
	findings = appendCategory(findings, styles, CategoryStyleSuggestion)

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Line < findings[j].Line
	})
	return findings
}

func appendCategory(dst []Finding, raw []RawFinding, cat Category) []Finding {
	confidence := ConfidenceFor(cat)
	for _, r := range raw {
		dst = append(dst, Finding{
			Line:       r.Line,
			Category:   cat,
			Message:    r.Comment,
			Severity:   r.Severity,
			Confidence: confidence,
		})
	}
	return dst
}
