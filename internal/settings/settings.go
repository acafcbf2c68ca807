// Package settings holds the dashboard's runtime settings.
package settings

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dshills/prreview/internal/github"
)

// Notifications toggles outbound notification channels.
type Notifications struct {
	Email   bool `json:"email_notifications"`
	Slack   bool `json:"slack_notifications"`
	Discord bool `json:"discord_notifications"`
}

// Settings is the in-memory settings document.
type Settings struct {
	SelectedRepositories []string      `json:"selected_repositories"`
	DefaultRepository    string        `json:"default_repository,omitempty"`
	AutoAnalysis         bool          `json:"auto_analysis"`
	Notifications        Notifications `json:"notification_settings"`
}

// Update is a partial settings change. Absent fields keep their value.
type Update struct {
	SelectedRepositories *[]any         `json:"selected_repositories"`
	DefaultRepository    *string        `json:"default_repository"`
	AutoAnalysis         *bool          `json:"auto_analysis"`
	Notifications        *Notifications `json:"notification_settings"`
	GitHubAPIKey         *string        `json:"github_api_key"`
}

// DecodeUpdate reads an Update from a JSON body.
func DecodeUpdate(r io.Reader) (Update, error) {
	var u Update
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return Update{}, fmt.Errorf("decoding settings: %w", err)
	}
	return u, nil
}

// Store guards the current settings.
type Store struct {
	mu sync.RWMutex
	s  Settings
}

// NewStore creates a store seeded with initial.
func NewStore(initial Settings) *Store {
	initial.SelectedRepositories = validSlugs(initial.SelectedRepositories)
	return &Store{s: clone(initial)}
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return clone(st.s)
}

// AutoAnalysis reports whether webhooks should trigger analyses.
func (st *Store) AutoAnalysis() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.AutoAnalysis
}

// Apply merges u into the settings. Repository entries that are not
// "owner/repo" strings are dropped; an invalid default repository clears
// it. reposChanged reports whether the repository selection was touched.
func (st *Store) Apply(u Update) (s Settings, reposChanged bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if u.SelectedRepositories != nil {
		var repos []string
		for _, v := range *u.SelectedRepositories {
			if str, ok := v.(string); ok {
				repos = append(repos, str)
			}
		}
		st.s.SelectedRepositories = validSlugs(repos)
		reposChanged = true
	}
	if u.DefaultRepository != nil {
		st.s.DefaultRepository = ""
		if _, _, ok := github.ParseRepoSlug(*u.DefaultRepository); ok {
			st.s.DefaultRepository = strings.TrimSpace(*u.DefaultRepository)
		}
		reposChanged = true
	}
	if u.AutoAnalysis != nil {
		st.s.AutoAnalysis = *u.AutoAnalysis
	}
	if u.Notifications != nil {
		st.s.Notifications = *u.Notifications
	}
	return clone(st.s), reposChanged
}

// Repositories returns the distinct repositories to list pull requests
// for: the selection, then the default, then each fallback.
func (st *Store) Repositories(fallbacks ...string) []string {
	st.mu.RLock()
	candidates := append([]string{}, st.s.SelectedRepositories...)
	candidates = append(candidates, st.s.DefaultRepository)
	st.mu.RUnlock()
	candidates = append(candidates, fallbacks...)

	seen := make(map[string]bool)
	var out []string
	for _, c := range validSlugs(candidates) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func validSlugs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, _, ok := github.ParseRepoSlug(s); ok {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func clone(s Settings) Settings {
	s.SelectedRepositories = append(make([]string, 0, len(s.SelectedRepositories)), s.SelectedRepositories...)
	return s
}
