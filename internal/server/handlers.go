package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/github"
	"github.com/dshills/prreview/internal/pipeline"
	"github.com/dshills/prreview/internal/pulls"
	"github.com/dshills/prreview/internal/settings"
)

const (
	defaultEventLimit = 50
	statsRecentEvents = 10
)

// Endpoints is the listing served by GET /api.
var Endpoints = []string{
	"GET /api/prs",
	"GET /api/prs/:id",
	"GET /api/prs/:owner/:repo/:number/analysis",
	"POST /api/prs/analyze",
	"GET /api/events",
	"GET /api/settings",
	"PUT /api/settings",
	"GET /api/repositories",
	"GET /api/stats",
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "endpoints": Endpoints})
}

func (s *Server) handleListPulls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := pulls.Query{
		Status:     q.Get("status"),
		Repository: q.Get("repository"),
		Author:     q.Get("author"),
		Search:     q.Get("search"),
		Page:       atoiOr(q.Get("page"), 1),
		Limit:      atoiOr(q.Get("limit"), 20),
		Refresh:    q.Get("refresh") == "true",
	}
	page, err := s.deps.Pulls.List(r.Context(), query)
	if err != nil {
		s.log.Error("listing pull requests failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load pull requests")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetPull(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Pull request not found")
		return
	}
	pr, ok, err := s.deps.Pulls.Find(r.Context(), id)
	if err != nil {
		s.log.Error("loading pull request failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load pull request")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Pull request not found")
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

type analyzeRequest struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	PR    any    `json:"pr"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields: owner, repo, pr")
		return
	}
	owner, repo := strings.TrimSpace(body.Owner), strings.TrimSpace(body.Repo)
	if owner == "" || repo == "" || isZero(body.PR) {
		writeError(w, http.StatusBadRequest, "Missing required fields: owner, repo, pr")
		return
	}
	number, ok := prNumber(body.PR)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid pr number")
		return
	}

	req := s.deps.Pipeline.RequestFor(owner, repo, number)
	err := s.deps.Pipeline.Submit(req)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "Analysis already in progress",
			"pr":    number,
			"repo":  req.PR.Slug(),
		})
		return
	case errors.Is(err, pipeline.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.log.Error("manual analysis could not start", zap.String("pr", req.PR.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.log.Info("manual analysis started", zap.String("pr", req.PR.String()))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "PR review started",
		"pr":      number,
		"repo":    req.PR.Slug(),
	})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	ref := pipeline.PRRef{Owner: r.PathValue("owner"), Repo: r.PathValue("repo"), Number: number}
	if err != nil || !ref.Valid() {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	res, ok := s.deps.Pipeline.Result(ref)
	if !ok {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.deps.Events.List(q.Get("type"), atoiOr(q.Get("limit"), defaultEventLimit)))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Get())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	u, err := settings.DecodeUpdate(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings data")
		return
	}
	updated, reposChanged := s.deps.Settings.Apply(u)

	if u.GitHubAPIKey != nil && s.deps.GitHub != nil {
		s.deps.GitHub.SetToken(strings.TrimSpace(*u.GitHubAPIKey))
		s.log.Info("github token updated from settings")
	}
	if reposChanged {
		if _, err := s.deps.Pulls.Sync(r.Context(), true); err != nil {
			s.log.Error("refreshing pull requests after settings update failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, updated)
}

// repository is the dashboard's view of a GitHub repository.
type repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Owner         string `json:"owner"`
	Private       bool   `json:"private"`
	URL           string `json:"url"`
	DefaultBranch string `json:"default_branch"`
}

func (s *Server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	if s.deps.GitHub == nil {
		writeError(w, http.StatusBadRequest, "GitHub authentication required")
		return
	}
	repos, err := s.deps.GitHub.ListRepositories(r.Context())
	if err != nil {
		s.log.Warn("listing repositories failed", zap.Error(err))
		msg := "Failed to load repositories"
		if errors.Is(err, github.ErrAuthRequired) {
			msg = "GitHub authentication required"
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	out := make([]repository, 0, len(repos))
	for _, repo := range repos {
		url := repo.HTMLURL
		if url == "" {
			url = repo.URL
		}
		branch := repo.DefaultBranch
		if branch == "" {
			branch = "main"
		}
		out = append(out, repository{
			ID:            repo.ID,
			Name:          repo.Name,
			FullName:      repo.FullName,
			Owner:         repo.Owner.Login,
			Private:       repo.Private,
			URL:           url,
			DefaultBranch: branch,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Pulls.Counts(r.Context())
	if err != nil {
		s.log.Error("loading dashboard stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load dashboard statistics")
		return
	}
	ps := s.deps.Pipeline.Stats()
	stats := map[string]any{
		"total_prs":           counts.Total,
		"open_prs":            counts.Open,
		"merged_prs":          counts.Merged,
		"closed_prs":          counts.Closed,
		"total_analyses":      ps.Runs,
		"completed_analyses":  ps.Completed,
		"failed_analyses":     ps.Failed,
		"running_analyses":    ps.InFlight,
		"avg_processing_time": math.Round(ps.AvgDurationMs),
		"recent_events":       s.deps.Events.Recent(statsRecentEvents),
	}
	if s.deps.BroadcastStats != nil {
		stats["broadcast"] = s.deps.BroadcastStats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case float64:
		return x == 0
	case bool:
		return !x
	}
	return false
}

// prNumber accepts a JSON number or a numeric string.
func prNumber(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if x < 1 || x != math.Trunc(x) || x > math.MaxInt32 {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil || n < 1 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
