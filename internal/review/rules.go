package review

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules is the closed rule set both experts check added lines against.
type Rules struct {
	Required      []RequiredCheck `yaml:"required,omitempty"`
	CriticalFocus []string        `yaml:"criticalFocus,omitempty"`
	Checkable     []string        `yaml:"checkable,omitempty"`
	Unverifiable  []string        `yaml:"unverifiable,omitempty"`
}

// RequiredCheck is a project rule that must always be evaluated.
type RequiredCheck struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

// DefaultRules returns the built-in project rule set.
func DefaultRules() *Rules {
	return &Rules{
		Required: []RequiredCheck{
			{ID: "repository-layer", Text: "All database operations go through the repository layer; DatabaseManager is never called directly."},
			{ID: "input-validation", Text: "API endpoints always validate their input."},
			{ID: "custom-errors", Text: "Error handling uses the project's custom exception/error types."},
			{ID: "central-logger", Text: "Logging goes through the central logger service."},
			{ID: "async-errors", Text: "Every asynchronous operation handles its errors."},
			{ID: "sanitization", Text: "Security-critical code sanitizes its inputs."},
			{ID: "env-config", Text: "Configuration is read from .env, not hard-coded."},
			{ID: "external-timeouts", Text: "Every external API call has a timeout and a retry mechanism."},
		},
		CriticalFocus: []string{
			"Null pointer / null reference risks",
			"Resource leaks",
			"Security vulnerabilities (SQL injection, XSS, command injection)",
			"Off-by-one loop errors",
			"Infinite loop risks",
			"Synchronization / thread-safety problems",
		},
		Checkable: []string{
			"magic numbers",
			"function length",
			"naming",
			"try/catch and error handling",
			"unnecessary comments",
		},
		Unverifiable: []string{
			"code duplication",
			"test coverage",
		},
	}
}

// LoadRules loads a YAML rules file. Returns nil Rules and nil error if path
// is empty. Sections left empty in the file fall back to the defaults.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	for i, req := range rules.Required {
		if strings.TrimSpace(req.Text) == "" {
			return nil, fmt.Errorf("rules file: required check %d has no text", i+1)
		}
	}
	def := DefaultRules()
	if len(rules.Required) == 0 {
		rules.Required = def.Required
	}
	if len(rules.CriticalFocus) == 0 {
		rules.CriticalFocus = def.CriticalFocus
	}
	if len(rules.Checkable) == 0 {
		rules.Checkable = def.Checkable
	}
	if len(rules.Unverifiable) == 0 {
		rules.Unverifiable = def.Unverifiable
	}
	return &rules, nil
}

// BuildRulesPromptSection renders the rule set as prompt instructions. A nil
// rules value renders the defaults.
func BuildRulesPromptSection(rules *Rules) string {
	if rules == nil {
		rules = DefaultRules()
	}
	var b strings.Builder

	b.WriteString("PROJECT RULE SET (check ONLY these):\n")
	for i, req := range rules.Required {
		fmt.Fprintf(&b, "%d. %s\n", i+1, req.Text)
	}

	if len(rules.Checkable) > 0 {
		fmt.Fprintf(&b, "\nIn scope: rules that can be checked statically from the diff, such as %s.\n",
			strings.Join(rules.Checkable, ", "))
	}
	if len(rules.Unverifiable) > 0 {
		fmt.Fprintf(&b, "Out of scope: %s need the whole project or external tools. Do not try to check them and do not comment on them.\n",
			strings.Join(rules.Unverifiable, " and "))
	}
	return b.String()
}
