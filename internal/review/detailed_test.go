package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReviewResult(t *testing.T) {
	content := "Sure:\n```json\n" + `{
		"summary": "Adds a login endpoint.",
		"security_issues": [{"description": "SQL injection", "severity": "critical", "file": "db.ts", "line_start": 4, "line_end": 6}],
		"confidence_level": 80
	}` + "\n```"

	r, err := ParseReviewResult(content)
	require.NoError(t, err)
	assert.Equal(t, "Adds a login endpoint.", r.Summary)
	require.Len(t, r.SecurityIssues, 1)
	assert.Equal(t, 4, r.SecurityIssues[0].LineStart)
	assert.Equal(t, 80, r.ConfidenceLevel)
	assert.NotNil(t, r.CodeQuality)
	assert.NotNil(t, r.TestsToAdd)
}

func TestParseReviewResult_RejectsArrays(t *testing.T) {
	_, err := ParseReviewResult(`[{"summary": "x"}]`)
	assert.Error(t, err)
}

func TestDetailedReviewer_Success(t *testing.T) {
	r := &fakeReviewer{answers: map[string]func(context.Context) (string, error){
		ExpertStyleSuggestions: reply(`{"summary": "ok", "confidence_level": 90}`),
	}}
	d := NewDetailedReviewer(r, DetailedOptions{RedactSecrets: true, RedactPaths: []string{"**/.env"}})

	got, err := d.Review(context.Background(), PRInput{
		Owner: "acme", Repo: "api", Number: 7,
		Files: []FileChange{
			{Filename: "main.go", Patch: "+key := \"sk-ant-REDACTED\""},
			{Filename: ".env", Patch: "+SECRET=1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Summary)

	require.Len(t, r.prompts, 1)
	prompt := r.prompts[0].UserPrompt
	assert.Contains(t, prompt, `"pr": 7`)
	assert.NotContains(t, prompt, "sk-ant-abcdef")
	assert.NotContains(t, prompt, "SECRET=1")
	assert.InDelta(t, 0.1, r.prompts[0].Temperature, 1e-9)
}

func TestDetailedReviewer_Fallback(t *testing.T) {
	tests := []struct {
		name   string
		answer func(context.Context) (string, error)
	}{
		{"call error", func(context.Context) (string, error) { return "", errors.New("boom") }},
		{"not json", reply("no idea")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReviewer{answers: map[string]func(context.Context) (string, error){
				ExpertStyleSuggestions: tt.answer,
			}}
			got, err := NewDetailedReviewer(r, DetailedOptions{}).Review(context.Background(), PRInput{})
			assert.Error(t, err)
			assert.Equal(t, FallbackResult(), got)
			assert.Equal(t, FallbackSummary, got.Summary)
		})
	}
}
