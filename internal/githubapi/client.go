// Package githubapi wraps the source-hosting platform API behind the
// small surface the analysis pipeline needs: listing pull requests,
// reading AI-review state, triggering test generation and fetching
// changed files. All requests go through a shared rate limiter, and
// transient failures are retried with bounded backoff.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v71/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/aircode610/ShipSure/internal/models"
	"github.com/aircode610/ShipSure/internal/retry"
)

// Error taxonomy for the platform boundary. Authentication failures are
// fatal for the whole job; not-found skips the PR; rate limits and server
// errors are retried before being surfaced.
var (
	ErrAuthentication = errors.New("github authentication failed")
	ErrNotFound       = errors.New("github resource not found")
	ErrRateLimited    = errors.New("github rate limited")
	ErrTransient      = errors.New("github transient error")
)

const defaultRequestsPerSecond = 5

// Options configures the platform client.
type Options struct {
	// Token is the personal access token for the platform API.
	Token string

	// BotLogin is the login of the AI reviewer bot, used to recognise
	// review comments and generated-test pull requests.
	BotLogin string

	// TriggerCommand is the comment body that asks the reviewer bot to
	// generate unit tests for a pull request.
	TriggerCommand string

	// RequestsPerSecond bounds outgoing API calls.
	RequestsPerSecond float64

	// Retry is the policy applied to transient failures.
	Retry retry.Policy
}

// Client is the source-hosting platform client.
type Client struct {
	gh             *github.Client
	limiter        *rate.Limiter
	retry          retry.Policy
	botLogin       string
	triggerCommand string
}

// NewClient creates a platform client authenticated with the given token.
func NewClient(ctx context.Context, opts Options) *Client {
	var httpClient *http.Client
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	botLogin := opts.BotLogin
	if botLogin == "" {
		botLogin = "coderabbitai"
	}

	triggerCommand := opts.TriggerCommand
	if triggerCommand == "" {
		triggerCommand = "@coderabbitai generate unit tests"
	}

	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}

	return &Client{
		gh:             github.NewClient(httpClient),
		limiter:        rate.NewLimiter(rate.Limit(rps), 1),
		retry:          policy,
		botLogin:       botLogin,
		triggerCommand: triggerCommand,
	}
}

// PRInfo is the subset of pull request metadata the pipeline uses.
type PRInfo struct {
	Number  int
	Title   string
	Body    string
	HTMLURL string
	HeadSHA string
	HeadRef string
	User    string
}

// ChangedFile is one file touched by a pull request.
type ChangedFile struct {
	Path      string
	Patch     string
	Additions int
	Deletions int
}

// IsRetryable reports whether an error from this package is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// VerifyRepository checks that the repository exists and the credentials
// can see it. Called once at job start; failures here abort the job.
func (c *Client) VerifyRepository(ctx context.Context, owner, repo string) error {
	return c.call(ctx, func(ctx context.Context) error {
		_, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
		return classify(resp, err)
	})
}

// ListRepositories lists repositories visible to the authenticated user,
// most recently updated first.
func (c *Client) ListRepositories(ctx context.Context) ([]models.Repository, error) {
	var repos []*github.Repository

	err := c.call(ctx, func(ctx context.Context) error {
		opts := &github.RepositoryListByAuthenticatedUserOptions{
			Sort:        "updated",
			Affiliation: "owner,collaborator",
			ListOptions: github.ListOptions{PerPage: 100},
		}
		list, resp, listErr := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		if classified := classify(resp, listErr); classified != nil {
			return classified
		}
		repos = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Repository, 0, len(repos))
	for _, r := range repos {
		out = append(out, models.Repository{
			ID:          r.GetID(),
			Name:        r.GetName(),
			FullName:    r.GetFullName(),
			Owner:       r.GetOwner().GetLogin(),
			Description: r.GetDescription(),
			Private:     r.GetPrivate(),
			UpdatedAt:   r.GetUpdatedAt().Time,
		})
	}
	return out, nil
}

// ListPullRequests lists pull requests in the given state, filtering out
// generated-test pull requests opened by the reviewer bot.
func (c *Client) ListPullRequests(ctx context.Context, owner, repo, state string) ([]models.PullRequest, error) {
	if state == "" {
		state = "open"
	}

	var prs []*github.PullRequest
	err := c.call(ctx, func(ctx context.Context) error {
		opts := &github.PullRequestListOptions{
			State:       state,
			ListOptions: github.ListOptions{PerPage: 100},
		}
		list, resp, listErr := c.gh.PullRequests.List(ctx, owner, repo, opts)
		if classified := classify(resp, listErr); classified != nil {
			return classified
		}
		prs = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.PullRequest, 0, len(prs))
	for _, pr := range prs {
		if c.isGeneratedTestPR(pr) {
			continue
		}
		out = append(out, models.PullRequest{
			Number:    pr.GetNumber(),
			Title:     pr.GetTitle(),
			State:     pr.GetState(),
			HTMLURL:   pr.GetHTMLURL(),
			User:      pr.GetUser().GetLogin(),
			CreatedAt: pr.GetCreatedAt().Time,
			UpdatedAt: pr.GetUpdatedAt().Time,
		})
	}
	return out, nil
}

// GetPullRequest fetches metadata for a single pull request.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PRInfo, error) {
	var pr *github.PullRequest
	err := c.call(ctx, func(ctx context.Context) error {
		got, resp, getErr := c.gh.PullRequests.Get(ctx, owner, repo, number)
		if classified := classify(resp, getErr); classified != nil {
			return classified
		}
		pr = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &PRInfo{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		HTMLURL: pr.GetHTMLURL(),
		HeadSHA: pr.GetHead().GetSHA(),
		HeadRef: pr.GetHead().GetRef(),
		User:    pr.GetUser().GetLogin(),
	}, nil
}

// ListChangedFiles lists the files touched by a pull request.
func (c *Client) ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]ChangedFile, error) {
	var files []*github.CommitFile
	err := c.call(ctx, func(ctx context.Context) error {
		opts := &github.ListOptions{PerPage: 100}
		list, resp, listErr := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if classified := classify(resp, listErr); classified != nil {
			return classified
		}
		files = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ChangedFile, 0, len(files))
	for _, f := range files {
		out = append(out, ChangedFile{
			Path:      f.GetFilename(),
			Patch:     f.GetPatch(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		})
	}
	return out, nil
}

// GetFileContent fetches a file's content at the given ref.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	var content string
	err := c.call(ctx, func(ctx context.Context) error {
		opts := &github.RepositoryContentGetOptions{Ref: ref}
		fileContent, _, resp, getErr := c.gh.Repositories.GetContents(ctx, owner, repo, path, opts)
		if classified := classify(resp, getErr); classified != nil {
			return classified
		}
		if fileContent == nil {
			return fmt.Errorf("%w: %s is not a file", ErrNotFound, path)
		}
		decoded, decodeErr := fileContent.GetContent()
		if decodeErr != nil {
			return fmt.Errorf("decode content of %s: %w", path, decodeErr)
		}
		content = decoded
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// PostComment posts a comment on a pull request.
func (c *Client) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	return c.call(ctx, func(ctx context.Context) error {
		comment := &github.IssueComment{Body: github.Ptr(body)}
		_, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, comment)
		return classify(resp, err)
	})
}

// call waits for the rate limiter and retries transient failures.
func (c *Client) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	}, IsRetryable)
}

// isGeneratedTestPR recognises companion test pull requests opened by the
// reviewer bot so they are hidden from the selection list.
func (c *Client) isGeneratedTestPR(pr *github.PullRequest) bool {
	user := strings.ToLower(pr.GetUser().GetLogin())
	if !strings.Contains(user, strings.ToLower(c.botLogin)) && !strings.Contains(user, "bot") {
		return false
	}

	title := strings.ToLower(pr.GetTitle())
	for _, keyword := range []string{"generated unit tests", "unit test", "test for pr"} {
		if strings.Contains(title, keyword) {
			return true
		}
	}
	return false
}

// classify maps platform responses onto the package error taxonomy.
func classify(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrAuthentication, err)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}

	// Network level failures have no response at all.
	if resp == nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	return err
}
