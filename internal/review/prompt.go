package review

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultCommentLanguage is the language experts write their comments in
// unless configured otherwise.
const DefaultCommentLanguage = "Turkish"

// Expert is one specialised reviewer persona.
type Expert struct {
	Name         string
	Category     Category
	SystemPrompt string
}

// Expert names, also used in cache keys and logs.
const (
	ExpertCriticalBugs     = "critical_bugs"
	ExpertStyleSuggestions = "style_suggestions"
)

const expertPreamble = `YOUR TASK: You are a meticulous, detail-oriented code review assistant that works ONLY from evidence. You analyse code changes given in git diff format against the PROJECT RULE SET listed below.

ZERO HALLUCINATION:
- Never invent rules. Base every comment only on the rules listed below. Do not give general advice that is not on the list.
- Never invent code. Comment only on lines the diff adds (lines starting with "+"). Do not comment on unchanged or removed code.
- Show evidence. Every comment must say which rule is violated and on which line of the diff.
- If you cannot verify a rule from the diff alone, stay silent about it.

`

const expertInstructions = `
ANALYSIS INSTRUCTIONS:
Scan the diff line by line. Look for violations ONLY on lines starting with "+".
When you find one, write the comment as a mentoring teammate would:
- Problem: which rule is violated.
- Why: why the rule matters, explained as to a junior developer.
- Suggestion: how the code should be fixed.

OUTPUT FORMAT: return your findings as a JSON array. If you find nothing, return an empty array [].
[
  {
    "line": <integer: line number in the diff of the offending "+" line>,
    "comment": <string: problem, reason and suggestion>,
    "severity": <"RULE_VIOLATION" | "HIGH" | "MEDIUM" | "LOW">
  }
]
`

// CriticalBugExpert returns the expert that reports high-confidence defects.
func CriticalBugExpert(rules *Rules, language string) Expert {
	if rules == nil {
		rules = DefaultRules()
	}
	var b strings.Builder
	b.WriteString(expertPreamble)
	b.WriteString(BuildRulesPromptSection(rules))
	b.WriteString(expertInstructions)
	if len(rules.CriticalFocus) > 0 {
		b.WriteString("\nFocus ONLY on critical defects:\n")
		for i, f := range rules.CriticalFocus {
			fmt.Fprintf(&b, "%d. %s\n", i+1, f)
		}
	}
	b.WriteString("\nIf you find NO critical defect, return an empty array [].\n")
	writeOutputRules(&b, language)
	return Expert{Name: ExpertCriticalBugs, Category: CategoryCriticalBug, SystemPrompt: b.String()}
}

// StyleSuggestionExpert returns the expert that reports style, architecture
// and best-practice suggestions.
func StyleSuggestionExpert(rules *Rules, language string) Expert {
	if rules == nil {
		rules = DefaultRules()
	}
	var b strings.Builder
	b.WriteString(expertPreamble)
	b.WriteString(BuildRulesPromptSection(rules))
	b.WriteString(expertInstructions)
	b.WriteString("\nReport style, architecture and best-practice suggestions only. If you find NO suggestion, return an empty array [].\n")
	writeOutputRules(&b, language)
	return Expert{Name: ExpertStyleSuggestions, Category: CategoryStyleSuggestion, SystemPrompt: b.String()}
}

func writeOutputRules(b *strings.Builder, language string) {
	if language == "" {
		language = DefaultCommentLanguage
	}
	fmt.Fprintf(b, "Write the comment text in %s.\n", language)
	b.WriteString("Do not add any commentary or preamble. Respond with ONLY the JSON array.\n")
}

// BuildUserPrompt wraps the diff for an expert call.
func BuildUserPrompt(diff string, files []string) string {
	var b strings.Builder

	b.WriteString("Here is the diff to analyse.\n")
	if langs := detectLanguages(files); len(langs) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(langs, ", "))
	}

	b.WriteString("\n--- BEGIN DIFF ---\n")
	b.WriteString(diff)
	b.WriteString("\n--- END DIFF ---\n")

	return b.String()
}

func detectLanguages(files []string) []string {
	langMap := map[string]string{
		".go":    "Go",
		".py":    "Python",
		".js":    "JavaScript",
		".ts":    "TypeScript",
		".tsx":   "TypeScript/React",
		".jsx":   "JavaScript/React",
		".rs":    "Rust",
		".java":  "Java",
		".rb":    "Ruby",
		".cpp":   "C++",
		".c":     "C",
		".h":     "C/C++",
		".cs":    "C#",
		".php":   "PHP",
		".swift": "Swift",
		".kt":    "Kotlin",
		".sql":   "SQL",
		".sh":    "Shell",
		".yaml":  "YAML",
		".yml":   "YAML",
		".json":  "JSON",
		".tf":    "Terraform",
	}

	seen := make(map[string]bool)
	var langs []string
	for _, f := range files {
		lang, ok := langMap[strings.ToLower(filepath.Ext(f))]
		if ok && !seen[lang] {
			seen[lang] = true
			langs = append(langs, lang)
		}
	}
	return langs
}
