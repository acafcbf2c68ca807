package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/prreview/internal/config"
	"github.com/dshills/prreview/internal/pipeline"
)

const testDiff = "diff --git a/main.go b/main.go\n--- a/main.go\n+++ b/main.go\n@@ -1,1 +1,2 @@\n package main\n+var x *int\n"

func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/octo/demo/pulls/7":
			w.Write([]byte(testDiff))
		case r.URL.Path == "/repos/octo/demo/pulls":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fakeLLM(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		content := `[{"line": 2, "comment": "Nil pointer dereference", "severity": "high"}]`
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
			"usage":   map[string]int{"total_tokens": 42},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(ghURL, llmURL string) config.Config {
	cfg := config.Default()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.BaseURL = llmURL
	cfg.LLM.MaxRetries = -1
	cfg.GitHub.APIURL = ghURL
	cfg.GitHub.Repositories = []string{"octo/demo"}
	cfg.Sync.Schedule = ""
	cfg.Server.Addr = "127.0.0.1:0"
	return cfg
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = ""

	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = "nope"

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating provider")
}

func TestNew_InvalidSchedule(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Sync.Schedule = "not a schedule"

	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestNew_MissingRulesFile(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Analysis.RulesFile = t.TempDir() + "/absent.yaml"

	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestApp_AnalyzeEndToEnd(t *testing.T) {
	var calls atomic.Int32
	gh := fakeGitHub(t)
	llm := fakeLLM(t, &calls)

	a, err := New(testConfig(gh.URL, llm.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	res := a.Pipeline.Analyze(context.Background(), "octo", "demo", 7)
	require.Equal(t, pipeline.StatusComplete, res.Status, res.Error)
	assert.NotEmpty(t, res.Findings)
	assert.Contains(t, res.Report, "Nil pointer dereference")
	assert.Equal(t, int32(2), calls.Load())

	assert.Eventually(t, func() bool { return a.Activity.Len() > 0 }, time.Second, 10*time.Millisecond)

	stored, ok := a.Pipeline.Result(res.PR)
	require.True(t, ok)
	assert.Equal(t, res.RunID, stored.RunID)
	assert.Equal(t, "completed", a.analysisStatus("octo/demo", 7))

	// The second run is served from the response cache.
	res = a.Pipeline.Analyze(context.Background(), "octo", "demo", 7)
	require.Equal(t, pipeline.StatusComplete, res.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestApp_DiffFailure(t *testing.T) {
	var calls atomic.Int32
	gh := fakeGitHub(t)
	llm := fakeLLM(t, &calls)

	a, err := New(testConfig(gh.URL, llm.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	res := a.Pipeline.Analyze(context.Background(), "octo", "demo", 99)
	assert.Equal(t, pipeline.StatusFailed, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.Zero(t, calls.Load())
	assert.Equal(t, "failed", a.analysisStatus("octo/demo", 99))
}

func TestApp_HTTPSurface(t *testing.T) {
	var calls atomic.Int32
	gh := fakeGitHub(t)
	llm := fakeLLM(t, &calls)

	a, err := New(testConfig(gh.URL, llm.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	srv := httptest.NewServer(a.Server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := strings.NewReader(`{"owner":"octo","repo":"demo","pr":7}`)
	resp, err = http.Post(srv.URL+"/api/prs/analyze", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		res, ok := a.Pipeline.Result(pipeline.PRRef{Owner: "octo", Repo: "demo", Number: 7})
		return ok && res.Status == pipeline.StatusComplete
	}, 5*time.Second, 20*time.Millisecond)

	resp, err = http.Get(srv.URL + "/api/prs/octo/demo/7/analysis")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	gh := fakeGitHub(t)
	llm := fakeLLM(t, &calls)

	a, err := New(testConfig(gh.URL, llm.URL), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
