package collector

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/repopulse/repopulse/internal/domain"
	apperrors "github.com/repopulse/repopulse/internal/errors"
)

// GitHubClient defines the typed GitHub API surface the collector needs.
// Every listing walks the bounded paginator; calls never retry internally.
type GitHubClient interface {
	// GetRepository retrieves the live repository overview
	GetRepository(ctx context.Context) (*domain.RepoOverview, error)

	// CountContributors counts contributors across the repository history
	CountContributors(ctx context.Context) (int, error)

	// CountCommits counts commits on the default branch
	CountCommits(ctx context.Context) (int, error)

	// CountReleases counts published releases
	CountReleases(ctx context.Context) (int, error)

	// CountIssues counts true issues (pull requests excluded) in the given state
	CountIssues(ctx context.Context, state string) (int, error)

	// CountOpenPullRequests counts open pull requests
	CountOpenPullRequests(ctx context.Context) (int, error)

	// CountClosedPullRequests counts closed pull requests and how many of
	// them were merged
	CountClosedPullRequests(ctx context.Context) (closed, merged int, err error)

	// RecentCommits retrieves the most recent commits for the activity feed
	RecentCommits(ctx context.Context, limit int) ([]*domain.CommitActivity, error)
}

// githubClient implements GitHubClient for a single repository
type githubClient struct {
	client      *github.Client
	owner       string
	repo        string
	pageSize    int
	maxPages    int
	rateLimiter RateLimiter
	logger      *log.Logger
}

// NewGitHubClient creates a new GitHub API client bound to one repository
func NewGitHubClient(token, owner, repo string, pageSize, maxPages int, requestTimeout time.Duration, logger *log.Logger) GitHubClient {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = requestTimeout
	client := github.NewClient(tc)

	return &githubClient{
		client:      client,
		owner:       owner,
		repo:        repo,
		pageSize:    pageSize,
		maxPages:    maxPages,
		rateLimiter: NewRateLimiter(logger),
		logger:      logger,
	}
}

// pageFetcher loads one page of a listing and reports how many items the page
// held and the next page number (0 when the listing is exhausted)
type pageFetcher func(ctx context.Context, page int) (fetched, nextPage int, err error)

// fetchAllPages walks a paginated listing until it is exhausted or maxPages is
// reached. An empty or short page ends the walk. Returns the number of pages
// actually fetched.
func (c *githubClient) fetchAllPages(ctx context.Context, fetch pageFetcher) (int, error) {
	pages := 0
	page := 1

	for pages < c.maxPages {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return pages, err
		}

		fetched, nextPage, err := fetch(ctx, page)
		if err != nil {
			return pages, err
		}
		pages++

		if fetched == 0 || fetched < c.pageSize || nextPage == 0 {
			return pages, nil
		}
		page = nextPage
	}

	c.logger.Debug("listing capped at max pages", "pages", pages)
	return pages, nil
}

// GetRepository retrieves the live repository overview
func (c *githubClient) GetRepository(ctx context.Context) (*domain.RepoOverview, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	repo, resp, err := c.client.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return nil, c.classify(err)
	}
	c.updateRateLimitFromResponse(resp)

	return &domain.RepoOverview{
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		Description:   repo.GetDescription(),
		Homepage:      repo.GetHomepage(),
		Language:      repo.GetLanguage(),
		DefaultBranch: repo.GetDefaultBranch(),
		Stars:         repo.GetStargazersCount(),
		Forks:         repo.GetForksCount(),
		Watchers:      repo.GetSubscribersCount(),
		OpenIssues:    repo.GetOpenIssuesCount(),
		IsPrivate:     repo.GetPrivate(),
		CreatedAt:     repo.GetCreatedAt().Time,
		PushedAt:      repo.GetPushedAt().Time,
	}, nil
}

// CountContributors counts contributors across the repository history
func (c *githubClient) CountContributors(ctx context.Context) (int, error) {
	total := 0
	_, err := c.fetchAllPages(ctx, func(ctx context.Context, page int) (int, int, error) {
		opts := &github.ListContributorsOptions{
			ListOptions: github.ListOptions{Page: page, PerPage: c.pageSize},
		}
		contributors, resp, err := c.client.Repositories.ListContributors(ctx, c.owner, c.repo, opts)
		if err != nil {
			return 0, 0, c.classify(err)
		}
		c.updateRateLimitFromResponse(resp)

		total += len(contributors)
		return len(contributors), resp.NextPage, nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CountCommits counts commits on the default branch
func (c *githubClient) CountCommits(ctx context.Context) (int, error) {
	total := 0
	_, err := c.fetchAllPages(ctx, func(ctx context.Context, page int) (int, int, error) {
		opts := &github.CommitsListOptions{
			ListOptions: github.ListOptions{Page: page, PerPage: c.pageSize},
		}
		commits, resp, err := c.client.Repositories.ListCommits(ctx, c.owner, c.repo, opts)
		if err != nil {
			// An empty repository reports 409
			if resp != nil && resp.StatusCode == http.StatusConflict {
				return 0, 0, nil
			}
			return 0, 0, c.classify(err)
		}
		c.updateRateLimitFromResponse(resp)

		total += len(commits)
		return len(commits), resp.NextPage, nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CountReleases counts published releases
func (c *githubClient) CountReleases(ctx context.Context) (int, error) {
	total := 0
	_, err := c.fetchAllPages(ctx, func(ctx context.Context, page int) (int, int, error) {
		opts := &github.ListOptions{Page: page, PerPage: c.pageSize}
		releases, resp, err := c.client.Repositories.ListReleases(ctx, c.owner, c.repo, opts)
		if err != nil {
			return 0, 0, c.classify(err)
		}
		c.updateRateLimitFromResponse(resp)

		total += len(releases)
		return len(releases), resp.NextPage, nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CountIssues counts true issues in the given state. The issues listing also
// returns pull requests; those are skipped.
func (c *githubClient) CountIssues(ctx context.Context, state string) (int, error) {
	total := 0
	_, err := c.fetchAllPages(ctx, func(ctx context.Context, page int) (int, int, error) {
		opts := &github.IssueListByRepoOptions{
			State:       state,
			ListOptions: github.ListOptions{Page: page, PerPage: c.pageSize},
		}
		issues, resp, err := c.client.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
		if err != nil {
			return 0, 0, c.classify(err)
		}
		c.updateRateLimitFromResponse(resp)

		for _, issue := range issues {
			if issue.PullRequestLinks == nil {
				total++
			}
		}
		// pagination runs on the raw page size, not the filtered count
		return len(issues), resp.NextPage, nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CountOpenPullRequests counts open pull requests
func (c *githubClient) CountOpenPullRequests(ctx context.Context) (int, error) {
	total := 0
	_, err := c.fetchAllPages(ctx, func(ctx context.Context, page int) (int, int, error) {
		opts := &github.PullRequestListOptions{
			State:       "open",
			ListOptions: github.ListOptions{Page: page, PerPage: c.pageSize},
		}
		prs, resp, err := c.client.PullRequests.List(ctx, c.owner, c.repo, opts)
		if err != nil {
			return 0, 0, c.classify(err)
		}
		c.updateRateLimitFromResponse(resp)

		total += len(prs)
		return len(prs), resp.NextPage, nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CountClosedPullRequests counts closed pull requests and how many of them
// were merged, from a single walk of the closed listing
func (c *githubClient) CountClosedPullRequests(ctx context.Context) (int, int, error) {
	closed, merged := 0, 0
	_, err := c.fetchAllPages(ctx, func(ctx context.Context, page int) (int, int, error) {
		opts := &github.PullRequestListOptions{
			State:       "closed",
			ListOptions: github.ListOptions{Page: page, PerPage: c.pageSize},
		}
		prs, resp, err := c.client.PullRequests.List(ctx, c.owner, c.repo, opts)
		if err != nil {
			return 0, 0, c.classify(err)
		}
		c.updateRateLimitFromResponse(resp)

		closed += len(prs)
		for _, pr := range prs {
			if pr.MergedAt != nil {
				merged++
			}
		}
		return len(prs), resp.NextPage, nil
	})
	if err != nil {
		return 0, 0, err
	}
	return closed, merged, nil
}

// RecentCommits retrieves the most recent commits for the activity feed
func (c *githubClient) RecentCommits(ctx context.Context, limit int) ([]*domain.CommitActivity, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > c.pageSize {
		limit = c.pageSize
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: limit},
	}
	commits, resp, err := c.client.Repositories.ListCommits(ctx, c.owner, c.repo, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, nil
		}
		return nil, c.classify(err)
	}
	c.updateRateLimitFromResponse(resp)

	activity := make([]*domain.CommitActivity, 0, len(commits))
	for _, commit := range commits {
		author := ""
		if commit.Author != nil {
			author = commit.Author.GetLogin()
		} else if commit.Commit != nil && commit.Commit.Author != nil {
			author = commit.Commit.Author.GetName()
		}

		activity = append(activity, &domain.CommitActivity{
			SHA:     commit.GetSHA(),
			Message: commit.Commit.GetMessage(),
			Author:  author,
			Date:    commit.Commit.Author.GetDate().Time,
			URL:     commit.GetHTMLURL(),
		})
	}

	return activity, nil
}

// classify maps a go-github error onto the application error taxonomy
func (c *githubClient) classify(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return apperrors.NewRateLimitedError("GitHub API rate limit exceeded", http.StatusForbidden)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return apperrors.NewRateLimitedError("GitHub API secondary rate limit hit", http.StatusForbidden)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		status := 0
		if respErr.Response != nil {
			status = respErr.Response.StatusCode
		}
		switch status {
		case http.StatusForbidden, http.StatusTooManyRequests:
			return apperrors.NewRateLimitedError(respErr.Message, status)
		case http.StatusNotFound:
			return apperrors.NewNotFoundError(c.owner + "/" + c.repo)
		case http.StatusUnauthorized:
			return apperrors.NewUnauthorizedError("GitHub token was rejected")
		default:
			return apperrors.NewUpstreamError(status, respErr.Message)
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return apperrors.NewNetworkError("GitHub API unreachable", err)
	}

	return apperrors.NewNetworkError("GitHub API request failed", err)
}

// updateRateLimitFromResponse updates the rate limiter from API response
func (c *githubClient) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Remaining >= 0 {
		c.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}
