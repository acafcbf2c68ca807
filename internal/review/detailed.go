package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/providers"
	"github.com/dshills/prreview/internal/redact"
)

// FallbackSummary is the summary of a ReviewResult produced when the
// detailed review could not be obtained.
const FallbackSummary = "Analysis failed due to technical error"

// Issue is one code quality, security or performance problem.
type Issue struct {
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	File        string `json:"file,omitempty"`
	LineStart   int    `json:"line_start,omitempty"`
	LineEnd     int    `json:"line_end,omitempty"`
	Impact      string `json:"impact,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// TestSuggestion is a test the reviewer recommends adding.
type TestSuggestion struct {
	Description string `json:"description"`
	Type        string `json:"type,omitempty"`
	File        string `json:"file,omitempty"`
	LineStart   int    `json:"line_start,omitempty"`
	LineEnd     int    `json:"line_end,omitempty"`
	TestCase    string `json:"test_case,omitempty"`
}

// ReviewResult is the structured, whole-PR review.
type ReviewResult struct {
	Summary           string           `json:"summary"`
	CodeQuality       []Issue          `json:"code_quality"`
	SecurityIssues    []Issue          `json:"security_issues"`
	PerformanceIssues []Issue          `json:"performance_issues"`
	TestsToAdd        []TestSuggestion `json:"tests_to_add"`
	ConfidenceLevel   int              `json:"confidence_level"`
}

// FallbackResult is returned when the detailed review fails.
func FallbackResult() ReviewResult {
	return ReviewResult{
		Summary:           FallbackSummary,
		CodeQuality:       []Issue{},
		SecurityIssues:    []Issue{},
		PerformanceIssues: []Issue{},
		TestsToAdd:        []TestSuggestion{},
	}
}

// FileChange is one changed file of a pull request.
type FileChange struct {
	Filename string `json:"filename"`
	Patch    string `json:"patch,omitempty"`
	Raw      string `json:"raw,omitempty"`
}

// PRInput is what the detailed reviewer sees of a pull request.
type PRInput struct {
	Owner  string       `json:"owner"`
	Repo   string       `json:"repo"`
	Number int          `json:"pr"`
	Files  []FileChange `json:"files"`
}

const detailedSystemPrompt = `You are a meticulous senior code reviewer assistant. When given one or multiple file diffs/contents you must produce a single JSON object with these fields:
- summary: short PR summary (3 sentences max)
- code_quality: [ {file, line_start, line_end, description, severity, impact, suggestion} ]
- security_issues: [ {file, line_start, line_end, description, severity, impact, suggestion} ]
- performance_issues: [ {file, line_start, line_end, description, severity, impact, suggestion} ]
- tests_to_add: [ {file, line_start, line_end, description, type, test_case} ]
- confidence_level: integer 0-100

Rules:
- severity is one of critical, high, medium, low.
- suggestion is the corrected code where possible.
- If uncertain, lower confidence_level and prefix the description with "possible".
- Do not hallucinate. If you are not sure something is a security bug, label it "possible security issue" and explain why.
- Return ONLY JSON, no extra text.`

// DetailedOptions tune the detailed review call.
type DetailedOptions struct {
	MaxTokens     int
	Temperature   float64
	CallTimeout   time.Duration
	RedactSecrets bool
	RedactPaths   []string
	Logger        *zap.Logger
}

// DetailedReviewer produces a ReviewResult for a whole pull request.
type DetailedReviewer struct {
	reviewer providers.Reviewer
	opts     DetailedOptions
	log      *zap.Logger
}

// NewDetailedReviewer builds a detailed reviewer over reviewer.
func NewDetailedReviewer(reviewer providers.Reviewer, opts DetailedOptions) *DetailedReviewer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultExpertMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &DetailedReviewer{reviewer: reviewer, opts: opts, log: log.Named("detailed")}
}

// Review asks for a structured review of in. On any failure it returns
// FallbackResult together with the cause.
func (d *DetailedReviewer) Review(ctx context.Context, in PRInput) (ReviewResult, error) {
	if d.opts.RedactSecrets || len(d.opts.RedactPaths) > 0 {
		files := make([]FileChange, len(in.Files))
		for i, f := range in.Files {
			files[i] = FileChange{
				Filename: f.Filename,
				Patch:    redactField(f.Patch, f.Filename, d.opts.RedactPaths),
				Raw:      redactField(f.Raw, f.Filename, d.opts.RedactPaths),
			}
		}
		in.Files = files
	}

	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return FallbackResult(), fmt.Errorf("encoding PR data: %w", err)
	}
	userPrompt := "Analyze the following PR data (JSON with files array). Files can contain patch or raw content. " +
		"If a file is large, analyze the changed hunks in its patch. Output JSON as described.\n\n" + string(data)

	callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()
	resp, err := d.reviewer.Review(callCtx, providers.ReviewRequest{
		SystemPrompt: detailedSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    d.opts.MaxTokens,
		Temperature:  d.opts.Temperature,
	})
	if err != nil {
		d.log.Warn("detailed review call failed", zap.Error(err))
		return FallbackResult(), fmt.Errorf("detailed review: %w", err)
	}

	result, err := ParseReviewResult(resp.Content)
	if err != nil {
		d.log.Warn("detailed review unusable", zap.Error(err))
		return FallbackResult(), err
	}
	return result, nil
}

func redactField(content, path string, redactPaths []string) string {
	if content == "" {
		return ""
	}
	return redact.Content(content, path, redactPaths)
}

// ParseReviewResult extracts a ReviewResult object from a model response,
// preferring a ```json fenced block.
func ParseReviewResult(content string) (ReviewResult, error) {
	candidates := []string{}
	if m := jsonFence.FindStringSubmatch(content); m != nil {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, content)

	var lastErr error
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if !strings.HasPrefix(c, "{") {
			lastErr = errors.New("detailed review response is not a JSON object")
			continue
		}
		var r ReviewResult
		if err := json.Unmarshal([]byte(c), &r); err != nil {
			lastErr = fmt.Errorf("invalid JSON: %w", err)
			continue
		}
		if r.CodeQuality == nil {
			r.CodeQuality = []Issue{}
		}
		if r.SecurityIssues == nil {
			r.SecurityIssues = []Issue{}
		}
		if r.PerformanceIssues == nil {
			r.PerformanceIssues = []Issue{}
		}
		if r.TestsToAdd == nil {
			r.TestsToAdd = []TestSuggestion{}
		}
		return r, nil
	}
	return ReviewResult{}, lastErr
}
