package webhook

import "github.com/dshills/prreview/internal/pipeline"

// Account is a GitHub user or organization reference.
type Account struct {
	Login string `json:"login"`
}

// Ref is a branch reference.
type Ref struct {
	Ref string `json:"ref"`
}

// PullRequest is the pull_request object of a delivery.
type PullRequest struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	DiffURL string  `json:"diff_url"`
	HTMLURL string  `json:"html_url"`
	User    Account `json:"user"`
	Base    Ref     `json:"base"`
	Head    Ref     `json:"head"`
}

// Repository is the repository object of a delivery.
type Repository struct {
	Name     string  `json:"name"`
	FullName string  `json:"full_name"`
	Owner    Account `json:"owner"`
}

// Payload is the subset of a delivery body the handler reads. Every
// object is optional.
type Payload struct {
	Action      string       `json:"action"`
	Number      int          `json:"number"`
	PullRequest *PullRequest `json:"pull_request"`
	Repository  *Repository  `json:"repository"`
	Sender      *Account     `json:"sender"`
}

// RepositoryName returns "owner/name", preferring full_name.
func (p Payload) RepositoryName() string {
	if p.Repository == nil {
		return ""
	}
	if p.Repository.FullName != "" {
		return p.Repository.FullName
	}
	if p.Repository.Owner.Login == "" || p.Repository.Name == "" {
		return ""
	}
	return p.Repository.Owner.Login + "/" + p.Repository.Name
}

// PRNumber returns the pull request number, or 0.
func (p Payload) PRNumber() int {
	if p.PullRequest != nil && p.PullRequest.Number > 0 {
		return p.PullRequest.Number
	}
	return p.Number
}

// SenderLogin returns the sender's login, or "".
func (p Payload) SenderLogin() string {
	if p.Sender == nil {
		return ""
	}
	return p.Sender.Login
}

// PRRef identifies the delivery's pull request.
func (p Payload) PRRef() (pipeline.PRRef, bool) {
	if p.Repository == nil {
		return pipeline.PRRef{}, false
	}
	ref := pipeline.PRRef{
		Owner:  p.Repository.Owner.Login,
		Repo:   p.Repository.Name,
		Number: p.PRNumber(),
	}
	return ref, ref.Valid()
}
