package ci

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHubConfig identifies the repository whose checks are polled.
type GitHubConfig struct {
	Owner string `json:"owner" yaml:"owner"`
	Repo  string `json:"repo" yaml:"repo"`
	Token string `json:"token" yaml:"token"`
}

// GitHubService implements Service against the GitHub Checks API.
type GitHubService struct {
	client *github.Client
	owner  string
	repo   string
}

func NewGitHubService(ctx context.Context, cfg GitHubConfig) (*GitHubService, error) {
	if strings.TrimSpace(cfg.Owner) == "" || strings.TrimSpace(cfg.Repo) == "" {
		return nil, fmt.Errorf("github owner/repo are required")
	}
	httpClient := oauth2.NewClient(ctx, nil)
	if strings.TrimSpace(cfg.Token) != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &GitHubService{
		client: github.NewClient(httpClient),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
	}, nil
}

func (s *GitHubService) headSHA(ctx context.Context, prNumber int) (string, error) {
	pr, _, err := s.client.PullRequests.Get(ctx, s.owner, s.repo, prNumber)
	if err != nil {
		return "", fmt.Errorf("get PR #%d: %w", prNumber, err)
	}
	sha := pr.GetHead().GetSHA()
	if sha == "" {
		return "", fmt.Errorf("PR #%d has no head SHA", prNumber)
	}
	return sha, nil
}

func (s *GitHubService) CIStatus(ctx context.Context, prNumber int) (Status, error) {
	sha, err := s.headSHA(ctx, prNumber)
	if err != nil {
		return "", err
	}
	runs, _, err := s.client.Checks.ListCheckRunsForRef(ctx, s.owner, s.repo, sha, &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return "", fmt.Errorf("list check runs for %s: %w", sha, err)
	}
	if runs.GetTotal() == 0 {
		return StatusNone, nil
	}

	pending := false
	for _, run := range runs.CheckRuns {
		switch run.GetStatus() {
		case "completed":
			switch run.GetConclusion() {
			case "success", "neutral", "skipped":
				// fine
			default:
				return StatusFailing, nil
			}
		default:
			pending = true
		}
	}
	if pending {
		return StatusPending, nil
	}
	return StatusPassing, nil
}

func (s *GitHubService) FailureLogs(ctx context.Context, prNumber int, maxChars int) (string, error) {
	sha, err := s.headSHA(ctx, prNumber)
	if err != nil {
		return "", err
	}
	runs, _, err := s.client.Checks.ListCheckRunsForRef(ctx, s.owner, s.repo, sha, &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return "", fmt.Errorf("list check runs for %s: %w", sha, err)
	}

	var b strings.Builder
	for _, run := range runs.CheckRuns {
		if run.GetStatus() != "completed" {
			continue
		}
		switch run.GetConclusion() {
		case "success", "neutral", "skipped":
			continue
		}
		fmt.Fprintf(&b, "## %s (%s)\n", run.GetName(), run.GetConclusion())
		if title := run.GetOutput().GetTitle(); title != "" {
			fmt.Fprintf(&b, "%s\n", title)
		}
		if summary := run.GetOutput().GetSummary(); summary != "" {
			fmt.Fprintf(&b, "%s\n", summary)
		}
		if text := run.GetOutput().GetText(); text != "" {
			fmt.Fprintf(&b, "%s\n", text)
		}
		b.WriteString("\n")
		if maxChars > 0 && b.Len() >= maxChars {
			break
		}
	}
	return Truncate(strings.TrimSpace(b.String()), maxChars), nil
}
