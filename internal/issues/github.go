package issues

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
)

// GitHubStore stores records as issues of one GitHub repository.
type GitHubStore struct {
	client *github.Client
	owner  string
	repo   string
}

// GitHubOptions configures a GitHubStore.
type GitHubOptions struct {
	Token   string // Optional for reads on public repositories
	Owner   string
	Repo    string
	BaseURL string // Empty means https://api.github.com/
	Client  *http.Client
}

// NewGitHubStore creates a GitHub-backed store.
func NewGitHubStore(opts GitHubOptions) (*GitHubStore, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}

	client := github.NewClient(opts.Client)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHubStore{client: client, owner: opts.Owner, repo: opts.Repo}, nil
}

// Create opens a new issue.
func (s *GitHubStore) Create(ctx context.Context, in NewIssue) (*Issue, error) {
	labels := in.Labels
	req := &github.IssueRequest{
		Title:  github.String(in.Title),
		Body:   github.String(in.Body),
		Labels: &labels,
	}
	issue, _, err := s.client.Issues.Create(ctx, s.owner, s.repo, req)
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", apiError(err))
	}
	return fromGitHub(issue), nil
}

// Get fetches one issue.
func (s *GitHubStore) Get(ctx context.Context, number int) (*Issue, error) {
	issue, resp, err := s.client.Issues.Get(ctx, s.owner, s.repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching issue %d: %w", number, apiError(err))
	}
	return fromGitHub(issue), nil
}

// Update patches title, body or state.
func (s *GitHubStore) Update(ctx context.Context, number int, p Patch) (*Issue, error) {
	req := &github.IssueRequest{
		Title: p.Title,
		Body:  p.Body,
		State: p.State,
	}
	issue, resp, err := s.client.Issues.Edit(ctx, s.owner, s.repo, number, req)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating issue %d: %w", number, apiError(err))
	}
	return fromGitHub(issue), nil
}

// List returns the first page of issues carrying every label, newest first.
func (s *GitHubStore) List(ctx context.Context, opts ListOptions) ([]*Issue, error) {
	req := &github.IssueListByRepoOptions{
		State:       opts.state(),
		Labels:      opts.Labels,
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: opts.perPage()},
	}
	list, _, err := s.client.Issues.ListByRepo(ctx, s.owner, s.repo, req)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", apiError(err))
	}

	out := make([]*Issue, 0, len(list))
	for _, issue := range list {
		out = append(out, fromGitHub(issue))
	}
	return out, nil
}

func fromGitHub(i *github.Issue) *Issue {
	labels := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		labels = append(labels, l.GetName())
	}
	return &Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		Body:      i.GetBody(),
		State:     i.GetState(),
		HTMLURL:   i.GetHTMLURL(),
		Labels:    labels,
		CreatedAt: i.GetCreatedAt().Time,
	}
}

// apiError unwraps go-github errors into an APIError carrying GitHub's message.
func apiError(err error) error {
	var er *github.ErrorResponse
	if errors.As(err, &er) {
		status := 0
		if er.Response != nil {
			status = er.Response.StatusCode
		}
		return &APIError{Status: status, Message: er.Message}
	}
	var rl *github.RateLimitError
	if errors.As(err, &rl) {
		status := http.StatusForbidden
		if rl.Response != nil {
			status = rl.Response.StatusCode
		}
		return &APIError{Status: status, Message: rl.Message}
	}
	return err
}
