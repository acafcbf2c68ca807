package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

const (
	acceptDiff = "application/vnd.github.v3.diff"
	acceptJSON = "application/vnd.github.v3+json"
)

var (
	// ErrNotFound is returned when GitHub answers 404.
	ErrNotFound = errors.New("not found")
	// ErrAuthRequired is returned when an operation needs a token.
	ErrAuthRequired = errors.New("GitHub authentication required")
)

// Options configure a Client. An empty token makes anonymous requests.
type Options struct {
	Token      string
	APIURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client provides access to the GitHub REST API.
type Client struct {
	mu      sync.RWMutex
	token   string
	apiURL  string
	httpCli *http.Client
}

// NewClient creates a new GitHub client.
func NewClient(opts Options) *Client {
	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	httpCli := opts.HTTPClient
	if httpCli == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpCli = &http.Client{Timeout: timeout}
	}
	return &Client{
		token:   strings.TrimSpace(opts.Token),
		apiURL:  apiURL,
		httpCli: httpCli,
	}
}

// SetToken replaces the credential used for later requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// HasToken reports whether requests are authenticated.
func (c *Client) HasToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// PRDiffURL returns the API URL serving a pull request's diff.
func (c *Client) PRDiffURL(owner, repo string, number int) string {
	return fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.apiURL, owner, repo, number)
}

// GetDiff fetches the unified diff at diffURL, which may be an API pull
// request URL or the diff_url of a webhook payload.
func (c *Client) GetDiff(ctx context.Context, diffURL string) (string, error) {
	body, status, err := c.do(ctx, http.MethodGet, diffURL, acceptDiff, nil)
	if err != nil {
		return "", fmt.Errorf("fetching diff: %w", err)
	}

	switch {
	case status == http.StatusNotFound:
		return "", fmt.Errorf("diff %w: %s", ErrNotFound, diffURL)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "", fmt.Errorf("authentication failed: %s", string(body))
	case status != http.StatusOK:
		return "", fmt.Errorf("GitHub API error (status %d): %s", status, string(body))
	}
	return string(body), nil
}

// GetPRDiff fetches the diff for a pull request.
func (c *Client) GetPRDiff(ctx context.Context, owner, repo string, prNumber int) (string, error) {
	diff, err := c.GetDiff(ctx, c.PRDiffURL(owner, repo, prNumber))
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("PR #%d not found in %s/%s", prNumber, owner, repo)
	}
	return diff, err
}

// PRFile represents a file changed in a pull request.
type PRFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	RawURL    string `json:"raw_url"`
	Patch     string `json:"patch"`
}

// GetPRFiles fetches the files changed in a pull request, with patches.
func (c *Client) GetPRFiles(ctx context.Context, owner, repo string, prNumber int) ([]PRFile, error) {
	var all []PRFile
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/files?per_page=100&page=%d", c.apiURL, owner, repo, prNumber, page)
		var files []PRFile
		if err := c.getJSON(ctx, url, &files); err != nil {
			return nil, fmt.Errorf("fetching PR files: %w", err)
		}
		all = append(all, files...)
		if len(files) < 100 {
			return all, nil
		}
	}
}

// PostComment adds a conversation comment to a pull request.
func (c *Client) PostComment(ctx context.Context, owner, repo string, prNumber int, body string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.apiURL, owner, repo, prNumber)

	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("marshaling comment: %w", err)
	}

	respBody, status, err := c.do(ctx, http.MethodPost, url, acceptJSON, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting comment: %w", err)
	}
	if status == http.StatusUnprocessableEntity {
		return fmt.Errorf("GitHub rejected comment (422): %s", string(respBody))
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("GitHub API error (status %d): %s", status, string(respBody))
	}
	return nil
}

// User is a GitHub account reference.
type User struct {
	Login string `json:"login"`
}

// Branch is a head or base ref of a pull request.
type Branch struct {
	Ref string `json:"ref"`
}

// PullRequest is the subset of GitHub's pull request object the dashboard
// uses.
type PullRequest struct {
	ID           int64      `json:"id"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	Body         string     `json:"body"`
	User         User       `json:"user"`
	Head         Branch     `json:"head"`
	Base         Branch     `json:"base"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MergedAt     *time.Time `json:"merged_at"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	ChangedFiles int        `json:"changed_files"`
	URL          string     `json:"url"`
	HTMLURL      string     `json:"html_url"`
	DiffURL      string     `json:"diff_url"`
}

// ListOptions bound a pull request listing.
type ListOptions struct {
	State    string
	PerPage  int
	MaxItems int
}

// ListPullRequests lists a repository's pull requests, newest first.
func (c *Client) ListPullRequests(ctx context.Context, owner, repo string, opts ListOptions) ([]PullRequest, error) {
	state := opts.State
	if state == "" {
		state = "all"
	}
	perPage := min(max(opts.PerPage, 1), 100)
	if opts.PerPage == 0 {
		perPage = 50
	}
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = 200
	}

	var all []PullRequest
	for page := 1; len(all) < maxItems; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/pulls?state=%s&per_page=%d&page=%d", c.apiURL, owner, repo, state, perPage, page)
		var pulls []PullRequest
		if err := c.getJSON(ctx, url, &pulls); err != nil {
			return nil, fmt.Errorf("listing pull requests for %s/%s: %w", owner, repo, err)
		}
		all = append(all, pulls...)
		if len(pulls) < perPage {
			break
		}
	}
	if len(all) > maxItems {
		all = all[:maxItems]
	}
	return all, nil
}

// Repository is the subset of GitHub's repository object the dashboard
// uses.
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Owner         User   `json:"owner"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"html_url"`
	URL           string `json:"url"`
	DefaultBranch string `json:"default_branch"`
}

// ListRepositories lists repositories the token's user can access.
func (c *Client) ListRepositories(ctx context.Context) ([]Repository, error) {
	if !c.HasToken() {
		return nil, ErrAuthRequired
	}
	var all []Repository
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/user/repos?per_page=100&page=%d&affiliation=owner,collaborator,organization_member", c.apiURL, page)
		var repos []Repository
		if err := c.getJSON(ctx, url, &repos); err != nil {
			return nil, fmt.Errorf("listing repositories: %w", err)
		}
		all = append(all, repos...)
		if len(repos) < 100 {
			return all, nil
		}
	}
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	body, status, err := c.do(ctx, http.MethodGet, url, acceptJSON, nil)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("authentication failed: %s", string(body))
	}
	if status != http.StatusOK {
		return fmt.Errorf("GitHub API error (status %d): %s", status, string(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url, accept string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// ParseRepoSlug splits "owner/repo". It reports false unless there are
// exactly two non-empty parts.
func ParseRepoSlug(slug string) (owner, repo string, ok bool) {
	parts := strings.Split(strings.TrimSpace(slug), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

var (
	httpsRemoteRe = regexp.MustCompile(`https?://[^/]+/([^/]+)/([^/.\s]+)`)
	sshRemoteRe   = regexp.MustCompile(`[^@]+@[^:]+:([^/]+)/([^/.\s]+)`)
)

// DetectRepo parses owner/repo from the git remote origin URL.
func DetectRepo() (owner, repo string, err error) {
	out, err := exec.Command("git", "remote", "get-url", "origin").Output()
	if err != nil {
		return "", "", fmt.Errorf("cannot detect repo: git remote get-url origin failed: %w", err)
	}
	url := strings.TrimSpace(string(out))
	return ParseRemoteURL(url)
}

// ParseRemoteURL extracts owner/repo from a git remote URL.
func ParseRemoteURL(url string) (owner, repo string, err error) {
	url = strings.TrimSuffix(url, ".git")

	if m := httpsRemoteRe.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], nil
	}
	if m := sshRemoteRe.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], nil
	}
	return "", "", fmt.Errorf("cannot parse owner/repo from remote URL: %s", url)
}
