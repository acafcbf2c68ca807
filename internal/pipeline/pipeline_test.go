package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/prreview/internal/broadcast"
	"github.com/dshills/prreview/internal/output"
	"github.com/dshills/prreview/internal/review"
)

const sampleDiff = "diff --git a/app.ts b/app.ts\n--- a/app.ts\n+++ b/app.ts\n@@ -1,1 +1,2 @@\n+const x = 1;\n"

type fakeSource struct {
	diff  string
	err   error
	block bool
}

func (f *fakeSource) GetDiff(ctx context.Context, diffURL string) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.diff, f.err
}

func (f *fakeSource) PRDiffURL(owner, repo string, number int) string {
	return "https://api.example/repos/" + owner + "/" + repo + "/pulls/1"
}

type fakeClassifier struct {
	result  review.Classification
	panicV  any
	release chan struct{}
	waitCtx bool
}

func (f *fakeClassifier) Classify(ctx context.Context, diff string) review.Classification {
	if f.panicV != nil {
		panic(f.panicV)
	}
	if f.waitCtx {
		<-ctx.Done()
		return review.Classification{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.result
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Broadcast(channel string, payload any) broadcast.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if channel == broadcast.ChannelAnalysis {
		r.events = append(r.events, payload.(Event))
	}
	return broadcast.Message{Channel: channel, Payload: payload}
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

var prRequest = Request{
	PR:      PRRef{Owner: "acme", Repo: "api", Number: 7},
	DiffURL: "https://api.example/repos/acme/api/pulls/7",
}

func TestRun_CompleteLifecycle(t *testing.T) {
	cls := &fakeClassifier{result: review.Classification{
		CriticalBugs:     []review.RawFinding{{Line: 9, Comment: "nil deref", Severity: review.SeverityHigh}},
		StyleSuggestions: []review.RawFinding{{Line: 2, Comment: "magic number", Severity: review.SeverityLow}},
	}}
	rec := &recorder{}
	p := New(&fakeSource{diff: sampleDiff}, cls, rec, Options{})

	res := p.Run(context.Background(), prRequest)

	assert.Equal(t, []Status{StatusStarted, StatusRunning, StatusProcessing, StatusComplete}, rec.statuses())
	require.Equal(t, StatusComplete, res.Status)
	require.Len(t, res.Findings, 2)
	assert.Equal(t, 2, res.Findings[0].Line)
	assert.Equal(t, review.CategoryStyleSuggestion, res.Findings[0].Category)
	assert.Equal(t, 0.95, res.Findings[1].Confidence)
	assert.Equal(t, output.FormatFindings(res.Findings), res.Report)

	final := rec.last()
	assert.Equal(t, res.Report, final.Report)
	assert.Equal(t, res.Findings, final.Findings)
	assert.Equal(t, res.RunID, final.RunID)

	stored, ok := p.Result(prRequest.PR)
	require.True(t, ok)
	assert.Equal(t, res.RunID, stored.RunID)
	assert.Equal(t, "completed", p.AnalysisStatus(prRequest.PR))
}

func TestRun_EmptyClassificationReportsNoIssues(t *testing.T) {
	rec := &recorder{}
	p := New(&fakeSource{diff: sampleDiff}, &fakeClassifier{}, rec, Options{})

	res := p.Run(context.Background(), prRequest)

	require.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, output.NoIssuesMessage, res.Report)

	raw, err := json.Marshal(rec.last())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"findings":[]`)
	assert.Contains(t, string(raw), `"status":"ANALYSIS_COMPLETE"`)
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		source  *fakeSource
		cls     *fakeClassifier
		wantErr string
		running bool
	}{
		{
			name:    "missing diff url",
			req:     Request{PR: prRequest.PR},
			source:  &fakeSource{diff: sampleDiff},
			cls:     &fakeClassifier{},
			wantErr: "PR verisi diff_url içermiyor",
		},
		{
			name:    "empty diff",
			req:     prRequest,
			source:  &fakeSource{diff: "  \n"},
			cls:     &fakeClassifier{},
			wantErr: "empty diff: GitHub'dan diff içeriği alınamadı veya içerik boş",
		},
		{
			name:    "fetch error",
			req:     prRequest,
			source:  &fakeSource{err: errors.New("status 404")},
			cls:     &fakeClassifier{},
			wantErr: "fetching diff: status 404",
		},
		{
			name:    "classifier panics with value",
			req:     prRequest,
			source:  &fakeSource{diff: sampleDiff},
			cls:     &fakeClassifier{panicV: 42},
			wantErr: FallbackError,
			running: true,
		},
		{
			name:    "classifier panics with error",
			req:     prRequest,
			source:  &fakeSource{diff: sampleDiff},
			cls:     &fakeClassifier{panicV: errors.New("model exploded")},
			wantErr: "model exploded",
			running: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := New(tt.source, tt.cls, rec, Options{})

			res := p.Run(context.Background(), tt.req)

			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, tt.wantErr, res.Error)
			assert.NotNil(t, res.Findings)

			want := []Status{StatusStarted, StatusFailed}
			if tt.running {
				want = []Status{StatusStarted, StatusRunning, StatusFailed}
			}
			assert.Equal(t, want, rec.statuses())
			assert.Equal(t, tt.wantErr, rec.last().Error)
		})
	}
}

func TestRun_RunTimeout(t *testing.T) {
	rec := &recorder{}
	p := New(&fakeSource{diff: sampleDiff}, &fakeClassifier{waitCtx: true}, rec, Options{RunTimeout: 50 * time.Millisecond})

	res := p.Run(context.Background(), prRequest)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "analysis timed out", res.Error)
	assert.Equal(t, []Status{StatusStarted, StatusRunning, StatusFailed}, rec.statuses())
}

func TestRun_DiffTimeout(t *testing.T) {
	rec := &recorder{}
	p := New(&fakeSource{block: true}, &fakeClassifier{}, rec, Options{DiffTimeout: 20 * time.Millisecond})

	res := p.Run(context.Background(), prRequest)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "fetching diff")
	assert.Equal(t, []Status{StatusStarted, StatusFailed}, rec.statuses())
}

func TestAnalyze_BuildsDiffURL(t *testing.T) {
	rec := &recorder{}
	p := New(&fakeSource{diff: sampleDiff}, &fakeClassifier{}, rec, Options{})

	res := p.Analyze(context.Background(), "acme", "web", 3)

	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, PRRef{Owner: "acme", Repo: "web", Number: 3}, res.PR)
	assert.Equal(t, "https://api.example/repos/acme/web/pulls/1", res.DiffURL)
}

func TestSubmit_DedupeAndShutdown(t *testing.T) {
	release := make(chan struct{})
	rec := &recorder{}
	p := New(&fakeSource{diff: sampleDiff}, &fakeClassifier{release: release}, rec, Options{DedupeInFlight: true})

	require.NoError(t, p.Submit(prRequest))
	assert.ErrorIs(t, p.Submit(prRequest), ErrRunInProgress)

	other := prRequest
	other.PR.Number = 8
	require.NoError(t, p.Submit(other))

	require.Eventually(t, func() bool { return p.AnalysisStatus(prRequest.PR) == "in_progress" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, p.Stats().InFlight)

	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	assert.ErrorIs(t, p.Submit(prRequest), ErrShuttingDown)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, "completed", p.AnalysisStatus(prRequest.PR))
}

func TestSubmit_WithoutDedupe(t *testing.T) {
	release := make(chan struct{})
	p := New(&fakeSource{diff: sampleDiff}, &fakeClassifier{release: release}, &recorder{}, Options{})

	require.NoError(t, p.Submit(prRequest))
	require.NoError(t, p.Submit(prRequest))
	close(release)

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 2, p.Stats().Runs)
}

func TestShutdown_CancelsOnDeadline(t *testing.T) {
	rec := &recorder{}
	p := New(&fakeSource{diff: sampleDiff}, &fakeClassifier{waitCtx: true}, rec, Options{})

	require.NoError(t, p.Submit(prRequest))
	require.Eventually(t, func() bool { return len(rec.statuses()) >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	assert.Equal(t, StatusFailed, rec.last().Status)
	assert.Equal(t, 1, p.Stats().Failed)
}

type fakeCommenter struct {
	mu    sync.Mutex
	calls int
	body  string
	err   error
}

func (f *fakeCommenter) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.body = body
	return f.err
}

func TestRun_PostsCommentAfterComplete(t *testing.T) {
	c := &fakeCommenter{err: errors.New("forbidden")}
	rec := &recorder{}
	p := New(&fakeSource{diff: sampleDiff}, &fakeClassifier{}, rec, Options{Commenter: c})

	res := p.Run(context.Background(), prRequest)

	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 1, c.calls)
	assert.Equal(t, res.Report, c.body)
	assert.Equal(t, StatusComplete, rec.last().Status)

	p.Run(context.Background(), Request{PR: prRequest.PR})
	assert.Equal(t, 1, c.calls)
}

func TestEvent_MarshalJSON(t *testing.T) {
	raw, err := json.Marshal(Event{Status: StatusFailed, PR: prRequest.PR})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "ANALYSIS_FAILED", got["status"])
	assert.Equal(t, FallbackError, got["error"])
	assert.Equal(t, "acme/api", got["repository"])
	assert.Equal(t, float64(7), got["pr"])
	assert.NotContains(t, got, "findings")

	raw, err = json.Marshal(Event{Status: StatusStarted, Message: MessageStarted})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ANALYSIS_STARTED","message":"GitHub'dan PR verileri alınıyor..."}`, string(raw))
}

func TestEvent_Activity(t *testing.T) {
	a, ok := Event{Status: StatusStarted, PR: prRequest.PR}.Activity()
	require.True(t, ok)
	assert.Equal(t, "analysis_started", a.Type)
	assert.Equal(t, "acme/api", a.Repository)

	_, ok = Event{Status: StatusRunning}.Activity()
	assert.False(t, ok)

	a, ok = Event{Status: StatusFailed, Error: "boom"}.Activity()
	require.True(t, ok)
	assert.Equal(t, "error", a.Type)
}

func TestParsePRRef(t *testing.T) {
	ref, err := ParsePRRef("acme/api#12")
	require.NoError(t, err)
	assert.Equal(t, PRRef{Owner: "acme", Repo: "api", Number: 12}, ref)
	assert.Equal(t, "acme/api#12", ref.String())

	for _, bad := range []string{"acme/api", "acme#1", "acme/api#x", "acme/api#0", "a/b/c#1"} {
		_, err := ParsePRRef(bad)
		assert.Error(t, err, bad)
	}
}
