package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/prreview/internal/activity"
	"github.com/dshills/prreview/internal/broadcast"
	"github.com/dshills/prreview/internal/github"
	"github.com/dshills/prreview/internal/pipeline"
	"github.com/dshills/prreview/internal/pulls"
	"github.com/dshills/prreview/internal/settings"
)

type fakeAnalyzer struct {
	mu        sync.Mutex
	submitted []pipeline.Request
	err       error
	results   map[string]pipeline.Result
	stats     pipeline.Stats
}

func (f *fakeAnalyzer) RequestFor(owner, repo string, number int) pipeline.Request {
	return pipeline.Request{PR: pipeline.PRRef{Owner: owner, Repo: repo, Number: number}}
}

func (f *fakeAnalyzer) Submit(req pipeline.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, req)
	return nil
}

func (f *fakeAnalyzer) Result(ref pipeline.PRRef) (pipeline.Result, bool) {
	r, ok := f.results[ref.String()]
	return r, ok
}

func (f *fakeAnalyzer) Stats() pipeline.Stats { return f.stats }

type fakePulls struct {
	prs   []pulls.PullRequest
	err   error
	syncs []bool
	lastQ pulls.Query
}

func (f *fakePulls) Sync(ctx context.Context, force bool) ([]pulls.PullRequest, error) {
	f.syncs = append(f.syncs, force)
	return f.prs, f.err
}

func (f *fakePulls) List(ctx context.Context, q pulls.Query) (pulls.Page, error) {
	f.lastQ = q
	if f.err != nil {
		return pulls.Page{}, f.err
	}
	return pulls.Page{Data: f.prs, Pagination: pulls.Pagination{Page: q.Page, Limit: q.Limit, Total: len(f.prs), TotalPages: 1}}, nil
}

func (f *fakePulls) Find(ctx context.Context, id int64) (pulls.PullRequest, bool, error) {
	if f.err != nil {
		return pulls.PullRequest{}, false, f.err
	}
	for _, p := range f.prs {
		if p.ID == id {
			return p, true, nil
		}
	}
	return pulls.PullRequest{}, false, nil
}

func (f *fakePulls) Counts(ctx context.Context) (pulls.Counts, error) {
	if f.err != nil {
		return pulls.Counts{}, f.err
	}
	c := pulls.Counts{Total: len(f.prs)}
	for _, p := range f.prs {
		if p.Status == "open" {
			c.Open++
		}
	}
	return c, nil
}

type fakeAccount struct {
	token string
	repos []github.Repository
	err   error
}

func (f *fakeAccount) SetToken(token string) { f.token = token }

func (f *fakeAccount) ListRepositories(ctx context.Context) ([]github.Repository, error) {
	return f.repos, f.err
}

type testEnv struct {
	analyzer *fakeAnalyzer
	pulls    *fakePulls
	events   *activity.Log
	settings *settings.Store
	account  *fakeAccount
	handler  http.Handler
}

func newEnv(opts Options) *testEnv {
	env := &testEnv{
		analyzer: &fakeAnalyzer{results: map[string]pipeline.Result{}},
		pulls: &fakePulls{prs: []pulls.PullRequest{
			{ID: 101, Number: 7, Title: "Add login", Status: "open", Repository: "acme/api"},
			{ID: 102, Number: 8, Title: "Fix typo", Status: "merged", Repository: "acme/api"},
		}},
		events:   activity.NewLog(0, nil),
		settings: settings.NewStore(settings.Settings{AutoAnalysis: true}),
		account:  &fakeAccount{},
	}
	srv := New(Deps{
		Pipeline: env.analyzer,
		Pulls:    env.pulls,
		Events:   env.events,
		Settings: env.settings,
		GitHub:   env.account,
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}),
		BroadcastStats: func() broadcast.Stats { return broadcast.Stats{Subscribers: 2} },
	}, opts)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, []byte) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr, rr.Body.Bytes()
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	return m
}

func TestHealth(t *testing.T) {
	env := newEnv(Options{})
	rr, body := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	m := decode(t, body)
	assert.Equal(t, "OK", m["status"])
	_, err := time.Parse(time.RFC3339Nano, m["timestamp"].(string))
	assert.NoError(t, err)
}

func TestIndex(t *testing.T) {
	env := newEnv(Options{})
	for _, path := range []string{"/api", "/api/"} {
		rr, body := env.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rr.Code, path)
		m := decode(t, body)
		assert.Len(t, m["endpoints"], len(Endpoints))
	}
}

func TestWebhookRoute(t *testing.T) {
	env := newEnv(Options{})
	rr, _ := env.do(t, http.MethodPost, "/webhook", `{}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr, _ = env.do(t, http.MethodGet, "/webhook", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestListPulls(t *testing.T) {
	env := newEnv(Options{})
	rr, body := env.do(t, http.MethodGet, "/api/prs?status=open&author=Al&search=login&page=2&limit=5&refresh=true", "")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, pulls.Query{Status: "open", Author: "Al", Search: "login", Page: 2, Limit: 5, Refresh: true}, env.pulls.lastQ)
	var page pulls.Page
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Len(t, page.Data, 2)

	env.do(t, http.MethodGet, "/api/prs?page=x&limit=-3", "")
	assert.Equal(t, 1, env.pulls.lastQ.Page)
	assert.Equal(t, 20, env.pulls.lastQ.Limit)
	assert.False(t, env.pulls.lastQ.Refresh)

	env.pulls.err = errors.New("github down")
	rr, body = env.do(t, http.MethodGet, "/api/prs", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Failed to load pull requests", decode(t, body)["error"])
}

func TestGetPull(t *testing.T) {
	env := newEnv(Options{})
	rr, body := env.do(t, http.MethodGet, "/api/prs/102", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Fix typo", decode(t, body)["title"])

	for _, path := range []string{"/api/prs/999", "/api/prs/abc"} {
		rr, body = env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, "Pull request not found", decode(t, body)["error"])
	}
}

func TestAnalyze(t *testing.T) {
	env := newEnv(Options{})

	rr, body := env.do(t, http.MethodPost, "/api/prs/analyze", `{"owner":"acme","repo":"api","pr":7}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	m := decode(t, body)
	assert.Equal(t, "PR review started", m["message"])
	assert.Equal(t, "acme/api", m["repo"])
	assert.Equal(t, float64(7), m["pr"])

	rr, _ = env.do(t, http.MethodPost, "/api/prs/analyze", `{"owner":"acme","repo":"api","pr":"9"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Len(t, env.analyzer.submitted, 2)
	assert.Equal(t, pipeline.PRRef{Owner: "acme", Repo: "api", Number: 9}, env.analyzer.submitted[1].PR)
}

func TestAnalyze_BadRequests(t *testing.T) {
	env := newEnv(Options{})
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"missing owner", `{"repo":"api","pr":7}`, "Missing required fields: owner, repo, pr"},
		{"missing pr", `{"owner":"acme","repo":"api"}`, "Missing required fields: owner, repo, pr"},
		{"zero pr", `{"owner":"acme","repo":"api","pr":0}`, "Missing required fields: owner, repo, pr"},
		{"not json", `nope`, "Missing required fields: owner, repo, pr"},
		{"word pr", `{"owner":"acme","repo":"api","pr":"seven"}`, "Invalid pr number"},
		{"fraction", `{"owner":"acme","repo":"api","pr":7.5}`, "Invalid pr number"},
		{"negative", `{"owner":"acme","repo":"api","pr":-2}`, "Invalid pr number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := env.do(t, http.MethodPost, "/api/prs/analyze", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.msg, decode(t, body)["error"])
		})
	}
	assert.Empty(t, env.analyzer.submitted)
}

func TestAnalyze_SubmitErrors(t *testing.T) {
	env := newEnv(Options{})

	env.analyzer.err = pipeline.ErrRunInProgress
	rr, _ := env.do(t, http.MethodPost, "/api/prs/analyze", `{"owner":"acme","repo":"api","pr":7}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	env.analyzer.err = pipeline.ErrShuttingDown
	rr, _ = env.do(t, http.MethodPost, "/api/prs/analyze", `{"owner":"acme","repo":"api","pr":7}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	env.analyzer.err = errors.New("boom")
	rr, _ = env.do(t, http.MethodPost, "/api/prs/analyze", `{"owner":"acme","repo":"api","pr":7}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestGetAnalysis(t *testing.T) {
	env := newEnv(Options{})
	env.analyzer.results["acme/api#7"] = pipeline.Result{
		RunID:  "run-1",
		PR:     pipeline.PRRef{Owner: "acme", Repo: "api", Number: 7},
		Status: pipeline.StatusComplete,
		Report: "report",
	}

	rr, body := env.do(t, http.MethodGet, "/api/prs/acme/api/7/analysis", "")
	require.Equal(t, http.StatusOK, rr.Code)
	m := decode(t, body)
	assert.Equal(t, "run-1", m["runId"])
	assert.Equal(t, "ANALYSIS_COMPLETE", m["status"])

	for _, path := range []string{"/api/prs/acme/api/8/analysis", "/api/prs/acme/api/x/analysis"} {
		rr, body = env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, "Analysis not found", decode(t, body)["error"])
	}
}

func TestEvents(t *testing.T) {
	env := newEnv(Options{})
	env.events.Record(activity.Event{Type: activity.TypeWebhookReceived, Message: "one"})
	env.events.Record(activity.Event{Type: activity.TypePRReviewStarted, Message: "two"})
	env.events.Record(activity.Event{Type: activity.TypeWebhookReceived, Message: "three"})

	rr, body := env.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var all []activity.Event
	require.NoError(t, json.Unmarshal(body, &all))
	require.Len(t, all, 3)
	assert.Equal(t, "three", all[0].Message)

	_, body = env.do(t, http.MethodGet, "/api/events?type=webhook_received&limit=1", "")
	var filtered []activity.Event
	require.NoError(t, json.Unmarshal(body, &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, "three", filtered[0].Message)

	_, body = env.do(t, http.MethodGet, "/api/events?type=nothing", "")
	assert.JSONEq(t, `[]`, string(body))
}

func TestSettings(t *testing.T) {
	env := newEnv(Options{})

	rr, body := env.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, body)["auto_analysis"])

	rr, body = env.do(t, http.MethodPut, "/api/settings", `{
		"selected_repositories": ["acme/api", "not a slug", 3],
		"auto_analysis": false,
		"github_api_key": "  ghp_new  "
	}`)
	require.Equal(t, http.StatusOK, rr.Code)
	m := decode(t, body)
	assert.Equal(t, []any{"acme/api"}, m["selected_repositories"])
	assert.Equal(t, false, m["auto_analysis"])
	assert.NotContains(t, m, "github_api_key")

	assert.Equal(t, "ghp_new", env.account.token)
	assert.Equal(t, []bool{true}, env.pulls.syncs)
	assert.False(t, env.settings.AutoAnalysis())

	rr, _ = env.do(t, http.MethodPut, "/api/settings", `{"auto_analysis": true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []bool{true}, env.pulls.syncs)

	rr, body = env.do(t, http.MethodPut, "/api/settings", `{"auto_analysis": "yes"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid settings data", decode(t, body)["error"])
}

func TestRepositories(t *testing.T) {
	env := newEnv(Options{})
	env.account.repos = []github.Repository{
		{ID: 1, Name: "api", FullName: "acme/api", Owner: github.User{Login: "acme"}, HTMLURL: "https://github.com/acme/api", DefaultBranch: "trunk"},
		{ID: 2, Name: "web", FullName: "acme/web", Owner: github.User{Login: "acme"}, URL: "https://api.github.com/repos/acme/web", Private: true},
	}

	rr, body := env.do(t, http.MethodGet, "/api/repositories", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[
		{"id":1,"name":"api","full_name":"acme/api","owner":"acme","private":false,"url":"https://github.com/acme/api","default_branch":"trunk"},
		{"id":2,"name":"web","full_name":"acme/web","owner":"acme","private":true,"url":"https://api.github.com/repos/acme/web","default_branch":"main"}
	]`, string(body))

	env.account.err = github.ErrAuthRequired
	rr, body = env.do(t, http.MethodGet, "/api/repositories", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "GitHub authentication required", decode(t, body)["error"])

	env.account.err = errors.New("rate limited")
	_, body = env.do(t, http.MethodGet, "/api/repositories", "")
	assert.Equal(t, "Failed to load repositories", decode(t, body)["error"])
}

func TestStats(t *testing.T) {
	env := newEnv(Options{})
	env.analyzer.stats = pipeline.Stats{Runs: 4, Completed: 3, Failed: 1, AvgDurationMs: 1500.4}
	for i := 0; i < 12; i++ {
		env.events.Record(activity.Event{Type: activity.TypeWebhookReceived})
	}

	rr, body := env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	m := decode(t, body)
	assert.Equal(t, float64(2), m["total_prs"])
	assert.Equal(t, float64(1), m["open_prs"])
	assert.Equal(t, float64(4), m["total_analyses"])
	assert.Equal(t, float64(1500), m["avg_processing_time"])
	assert.Len(t, m["recent_events"], 10)
	assert.Equal(t, float64(2), m["broadcast"].(map[string]any)["subscribers"])

	env.pulls.err = errors.New("github down")
	rr, _ = env.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCORS(t *testing.T) {
	open := newEnv(Options{})
	rr, _ := open.do(t, http.MethodOptions, "/api/settings", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PUT")

	restricted := newEnv(Options{AllowedOrigins: []string{"https://dash.example.com/"}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	restricted.handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	restricted.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPushThroughMiddleware(t *testing.T) {
	b := broadcast.New(broadcast.Options{})
	defer b.Close()

	srv := New(Deps{
		Pipeline: &fakeAnalyzer{},
		Pulls:    &fakePulls{},
		Events:   activity.NewLog(0, nil),
		Settings: settings.NewStore(settings.Settings{}),
		Push:     b.ServeWS(broadcast.WSOptions{}),
	}, Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var greeting broadcast.Greeting
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&greeting))
	assert.Equal(t, "CONNECTED", greeting.Status)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Deps{Pulls: &fakePulls{}, Pipeline: &fakeAnalyzer{}, Events: activity.NewLog(0, nil), Settings: settings.NewStore(settings.Settings{})}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
