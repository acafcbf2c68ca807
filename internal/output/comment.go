package output

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/prreview/internal/review"
)

const (
	suggestionFoldLen = 200
	testFoldLen       = 300
)

type typedIssue struct {
	kind  string
	issue review.Issue
}

// FormatReview renders a detailed review as a PR comment.
func FormatReview(r review.ReviewResult) string {
	var b strings.Builder

	b.WriteString("## 🤖 AI Review Summary\n\n")
	fmt.Fprintf(&b, "%s\n\n", r.Summary)

	var all []typedIssue
	for _, i := range r.SecurityIssues {
		all = append(all, typedIssue{"Security", i})
	}
	for _, i := range r.CodeQuality {
		all = append(all, typedIssue{"Code Quality", i})
	}
	for _, i := range r.PerformanceIssues {
		all = append(all, typedIssue{"Performance", i})
	}

	if len(all) > 0 {
		b.WriteString("## 🔍 Key Issues\n\n")
		sorted := make([]typedIssue, len(all))
		copy(sorted, all)
		sort.SliceStable(sorted, func(i, j int) bool {
			return severityRank(sorted[i].issue.Severity) < severityRank(sorted[j].issue.Severity)
		})
		for _, ti := range sorted {
			fmt.Fprintf(&b, "### %s %s: %s\n", severityEmoji(ti.issue.Severity), ti.kind, ti.issue.Description)
			fmt.Fprintf(&b, "**Dosya:** %s\n", fileInfo(ti.issue.File, ti.issue.LineStart, ti.issue.LineEnd))
			if ti.issue.Impact != "" {
				fmt.Fprintf(&b, "**Etki:** %s\n", ti.issue.Impact)
			}
			b.WriteString("\n")
		}

		b.WriteString("## 🔧 Suggested Fixes\n\n")
		n := 0
		for _, ti := range all {
			if ti.issue.Suggestion == "" {
				continue
			}
			n++
			i := ti.issue
			fmt.Fprintf(&b, "### %d. %s\n", n, i.Description)
			fmt.Fprintf(&b, "**Dosya:** %s\n\n", fileInfo(i.File, i.LineStart, i.LineEnd))
			lang := fenceLang(i.File)
			if len([]rune(i.Suggestion)) > suggestionFoldLen {
				b.WriteString("<details>\n<summary>Önerilen Çözüm</summary>\n\n")
				fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, i.Suggestion)
				b.WriteString("</details>\n\n")
			} else {
				b.WriteString("**Önerilen Çözüm:**\n")
				fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, i.Suggestion)
			}
		}
	}

	if len(r.TestsToAdd) > 0 {
		b.WriteString("## 🧪 Tests to Add\n\n")
		for idx, t := range r.TestsToAdd {
			fmt.Fprintf(&b, "### %d. %s\n", idx+1, t.Description)
			fmt.Fprintf(&b, "**Test Türü:** %s\n", t.Type)
			fmt.Fprintf(&b, "**Dosya:** %s\n", fileInfo(t.File, t.LineStart, t.LineEnd))
			switch {
			case t.TestCase == "":
				b.WriteString("\n")
			case len([]rune(t.TestCase)) > testFoldLen:
				b.WriteString("\n<details>\n<summary>Örnek Test Kodu</summary>\n\n")
				fmt.Fprintf(&b, "```%s\n%s\n```\n\n", fenceLang(t.File), t.TestCase)
				b.WriteString("</details>\n\n")
			default:
				b.WriteString("\n**Örnek Test:**\n")
				fmt.Fprintf(&b, "```%s\n%s\n```\n\n", fenceLang(t.File), t.TestCase)
			}
		}
	}

	if r.ConfidenceLevel > 0 {
		b.WriteString("---\n")
		fmt.Fprintf(&b, "*Güven Seviyesi: %d%% | AI tarafından oluşturuldu*\n", r.ConfidenceLevel)
	}

	return b.String()
}

// severityRank orders critical < high < medium < low < anything else. An
// empty severity counts as medium.
func severityRank(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return 0
	case "high":
		return 1
	case "medium", "":
		return 2
	case "low":
		return 3
	default:
		return 4
	}
}

func severityEmoji(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return "🚨"
	case "high":
		return "⚠️"
	case "medium":
		return "⚡"
	case "low":
		return "💡"
	default:
		return "📝"
	}
}

func fileInfo(file string, start, end int) string {
	switch {
	case file == "":
		return "Bilinmeyen dosya"
	case start > 0 && end > 0 && start != end:
		return fmt.Sprintf("`%s` (satır %d-%d)", file, start, end)
	case start > 0:
		return fmt.Sprintf("`%s` (yaklaşık satır %d)", file, start)
	default:
		return fmt.Sprintf("`%s`", file)
	}
}

var fenceLangs = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".tsx":  "tsx",
	".jsx":  "jsx",
	".rs":   "rust",
	".java": "java",
	".rb":   "ruby",
	".cpp":  "cpp",
	".c":    "c",
	".cs":   "csharp",
	".php":  "php",
	".sh":   "bash",
	".sql":  "sql",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
	".tf":   "hcl",
}

// fenceLang picks a code fence language from a file name; unknown files
// get a plain fence.
func fenceLang(path string) string {
	return fenceLangs[strings.ToLower(filepath.Ext(path))]
}
