package pulls

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/github"
)

// DefaultTTL is how long a listing is served before GitHub is asked again.
const DefaultTTL = time.Minute

const listingKey = "pulls"

// PullRequest is the dashboard's view of a GitHub pull request.
type PullRequest struct {
	ID             int64     `json:"id"`
	Number         int       `json:"number"`
	Title          string    `json:"title"`
	Author         string    `json:"author"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Status         string    `json:"status"`
	Repository     string    `json:"repository"`
	Branch         string    `json:"branch"`
	BaseBranch     string    `json:"base_branch"`
	HeadBranch     string    `json:"head_branch"`
	Additions      int       `json:"additions"`
	Deletions      int       `json:"deletions"`
	ChangedFiles   int       `json:"changed_files"`
	URL            string    `json:"url"`
	HTMLURL        string    `json:"html_url"`
	DiffURL        string    `json:"diff_url,omitempty"`
	Body           string    `json:"body,omitempty"`
	AnalysisStatus string    `json:"analysis_status,omitempty"`
}

// FromGitHub maps an API pull request of owner/repo.
func FromGitHub(p github.PullRequest, owner, repo string) PullRequest {
	status := "closed"
	switch {
	case p.State == "open":
		status = "open"
	case p.MergedAt != nil:
		status = "merged"
	}
	title := p.Title
	if title == "" {
		title = "(untitled)"
	}
	author := p.User.Login
	if author == "" {
		author = "unknown"
	}
	return PullRequest{
		ID:           p.ID,
		Number:       p.Number,
		Title:        title,
		Author:       author,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		Status:       status,
		Repository:   owner + "/" + repo,
		Branch:       p.Head.Ref,
		BaseBranch:   p.Base.Ref,
		HeadBranch:   p.Head.Ref,
		Additions:    p.Additions,
		Deletions:    p.Deletions,
		ChangedFiles: p.ChangedFiles,
		URL:          p.URL,
		HTMLURL:      p.HTMLURL,
		DiffURL:      p.DiffURL,
		Body:         p.Body,
	}
}

// Lister lists a repository's pull requests.
type Lister interface {
	ListPullRequests(ctx context.Context, owner, repo string, opts github.ListOptions) ([]github.PullRequest, error)
}

// Options configure a Store.
type Options struct {
	// Repositories returns the "owner/repo" slugs to list.
	Repositories func() []string
	// AnalysisStatus annotates a PR with its analysis state.
	AnalysisStatus func(repository string, number int) string
	TTL            time.Duration
	SyncTimeout    time.Duration
	Logger         *zap.Logger
}

// Store caches the aggregated pull request listing.
type Store struct {
	lister Lister
	opts   Options
	log    *zap.Logger
	cache  *gocache.Cache

	mu      sync.Mutex
	current *syncCall
}

type syncCall struct {
	done  chan struct{}
	pulls []PullRequest
	err   error
}

// NewStore creates a store backed by lister.
func NewStore(lister Lister, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 2 * time.Minute
	}
	if opts.Repositories == nil {
		opts.Repositories = func() []string { return nil }
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		lister: lister,
		opts:   opts,
		log:    log,
		cache:  gocache.New(opts.TTL, 2*opts.TTL),
	}
}

// Sync returns the listing, refreshing it from GitHub when forced, stale
// or empty. Concurrent refreshes share one round of requests. A repository
// that fails to list is skipped.
func (s *Store) Sync(ctx context.Context, force bool) ([]PullRequest, error) {
	if !force {
		if v, ok := s.cache.Get(listingKey); ok {
			if pulls := v.([]PullRequest); len(pulls) > 0 {
				return pulls, nil
			}
		}
	}

	s.mu.Lock()
	if c := s.current; c != nil {
		s.mu.Unlock()
		select {
		case <-c.done:
			return c.pulls, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &syncCall{done: make(chan struct{})}
	s.current = c
	s.mu.Unlock()

	c.pulls, c.err = s.fetch(ctx)
	if c.err == nil {
		s.cache.SetDefault(listingKey, c.pulls)
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	close(c.done)
	return c.pulls, c.err
}

// RefreshAsync forces a background refresh.
func (s *Store) RefreshAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SyncTimeout)
		defer cancel()
		if _, err := s.Sync(ctx, true); err != nil {
			s.log.Warn("refreshing pull requests failed", zap.Error(err))
		}
	}()
}

func (s *Store) fetch(ctx context.Context) ([]PullRequest, error) {
	repos := s.opts.Repositories()
	all := make([]PullRequest, 0)
	for _, slug := range repos {
		owner, repo, ok := github.ParseRepoSlug(slug)
		if !ok {
			s.log.Warn("skipping invalid repository identifier", zap.String("repository", slug))
			continue
		}
		pulls, err := s.lister.ListPullRequests(ctx, owner, repo, github.ListOptions{State: "all", PerPage: 50, MaxItems: 200})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("listing pull requests failed", zap.String("repository", slug), zap.Error(err))
			continue
		}
		for _, p := range pulls {
			all = append(all, FromGitHub(p, owner, repo))
		}
	}
	sortNewestFirst(all)
	return all, nil
}

// Query filters and pages a listing.
type Query struct {
	Status     string
	Repository string
	Author     string
	Search     string
	Page       int
	Limit      int
	Refresh    bool
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is a filtered slice of the listing.
type Page struct {
	Data       []PullRequest `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

// List syncs, then filters, annotates and pages the listing.
func (s *Store) List(ctx context.Context, q Query) (Page, error) {
	pulls, err := s.Sync(ctx, q.Refresh)
	if err != nil {
		return Page{}, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}

	repoFilter := strings.ToLower(q.Repository)
	authorFilter := strings.ToLower(q.Author)
	search := strings.ToLower(q.Search)

	filtered := make([]PullRequest, 0)
	for _, p := range pulls {
		if q.Status != "" && p.Status != q.Status {
			continue
		}
		if repoFilter != "" && !strings.Contains(strings.ToLower(p.Repository), repoFilter) {
			continue
		}
		if authorFilter != "" && !strings.Contains(strings.ToLower(p.Author), authorFilter) {
			continue
		}
		if search != "" {
			haystack := strings.ToLower(p.Title + " " + p.Author + " " + p.Repository)
			if !strings.Contains(haystack, search) {
				continue
			}
		}
		filtered = append(filtered, s.annotate(p))
	}
	sortNewestFirst(filtered)

	start := min((q.Page-1)*q.Limit, len(filtered))
	end := min(start+q.Limit, len(filtered))
	return Page{
		Data: filtered[start:end],
		Pagination: Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      len(filtered),
			TotalPages: int(math.Ceil(float64(len(filtered)) / float64(q.Limit))),
		},
	}, nil
}

// Find returns the pull request with the given GitHub ID.
func (s *Store) Find(ctx context.Context, id int64) (PullRequest, bool, error) {
	pulls, err := s.Sync(ctx, false)
	if err != nil {
		return PullRequest{}, false, err
	}
	for _, p := range pulls {
		if p.ID == id {
			return s.annotate(p), true, nil
		}
	}
	return PullRequest{}, false, nil
}

// Counts tallies pull requests by status.
type Counts struct {
	Total  int `json:"total_prs"`
	Open   int `json:"open_prs"`
	Merged int `json:"merged_prs"`
	Closed int `json:"closed_prs"`
}

// Counts syncs and tallies the listing.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	pulls, err := s.Sync(ctx, false)
	if err != nil {
		return Counts{}, err
	}
	c := Counts{Total: len(pulls)}
	for _, p := range pulls {
		switch p.Status {
		case "open":
			c.Open++
		case "merged":
			c.Merged++
		case "closed":
			c.Closed++
		}
	}
	return c, nil
}

func (s *Store) annotate(p PullRequest) PullRequest {
	if s.opts.AnalysisStatus != nil {
		p.AnalysisStatus = s.opts.AnalysisStatus(p.Repository, p.Number)
	}
	return p
}

func sortNewestFirst(pulls []PullRequest) {
	sort.SliceStable(pulls, func(i, j int) bool {
		return pulls[i].CreatedAt.After(pulls[j].CreatedAt)
	})
}
