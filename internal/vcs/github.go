// Package vcs publishes healed pipeline sources as GitHub pull requests.
package vcs

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-github/v73/github"

	"github.com/felixgeelhaar/pipemedic/internal/config"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/log"
)

// DefaultBaseBranch is used when no base branch is configured.
const DefaultBaseBranch = "main"

// Change is one file update proposed on a new branch.
type Change struct {
	Branch  string
	Path    string
	Content []byte
	Title   string
	Body    string
}

// Options configures a Publisher.
type Options struct {
	Token      string
	Owner      string
	Repo       string
	BaseBranch string
	// BaseURL points at a GitHub Enterprise or test API root.
	BaseURL  string
	MaxTries uint
	Logger   *log.Logger
}

// Publisher opens pull requests through the GitHub REST API.
type Publisher struct {
	client     *github.Client
	owner      string
	repo       string
	baseBranch string
	maxTries   uint
	logger     *log.Logger
	newBackOff func() backoff.BackOff
}

// New creates a Publisher.
func New(opts Options) (*Publisher, error) {
	if opts.Token == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "github token is required").
			WithSuggestion("Set PIPEMEDIC_GITHUB_TOKEN or GITHUB_TOKEN")
	}
	if opts.Owner == "" || opts.Repo == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "github repository must be owner/name")
	}

	client := github.NewClient(nil).WithAuthToken(opts.Token)
	if opts.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "invalid github base URL", err)
		}
		client.BaseURL = base
	}

	if opts.BaseBranch == "" {
		opts.BaseBranch = DefaultBaseBranch
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	return &Publisher{
		client:     client,
		owner:      opts.Owner,
		repo:       opts.Repo,
		baseBranch: opts.BaseBranch,
		maxTries:   opts.MaxTries,
		logger:     opts.Logger.WithGroup("vcs"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return b
		},
	}, nil
}

// FromConfig returns a Publisher when pull requests are enabled, or nil.
func FromConfig(cfg config.GitHubConfig, logger *log.Logger) (*Publisher, error) {
	if !cfg.Enabled || !cfg.AutoCreatePR {
		return nil, nil
	}
	owner, repo, ok := cfg.OwnerRepo()
	if !ok {
		return nil, errors.NewConfigInvalidError([]string{fmt.Sprintf("github.repo %q must be owner/name", cfg.Repo)})
	}
	return New(Options{
		Token:      cfg.Token,
		Owner:      owner,
		Repo:       repo,
		BaseBranch: cfg.BaseBranch,
		Logger:     logger,
	})
}

// OpenPullRequest creates change.Branch from the base branch, commits the
// file to it and opens a pull request. It returns the pull request URL.
// An existing branch is reused.
func (p *Publisher) OpenPullRequest(ctx context.Context, change Change) (string, error) {
	if change.Branch == "" || change.Path == "" {
		return "", errors.New(errors.ErrCodePullRequest, "branch and path are required")
	}
	path := strings.TrimPrefix(change.Path, "/")

	base, err := retry(ctx, p, "read base ref", func() (*github.Reference, error) {
		ref, _, err := p.client.Git.GetRef(ctx, p.owner, p.repo, "refs/heads/"+p.baseBranch)
		return ref, err
	})
	if err != nil {
		return "", p.fail("failed to read base branch "+p.baseBranch, err)
	}

	_, err = retry(ctx, p, "create branch", func() (*github.Reference, error) {
		ref, _, err := p.client.Git.CreateRef(ctx, p.owner, p.repo, &github.Reference{
			Ref:    github.Ptr("refs/heads/" + change.Branch),
			Object: &github.GitObject{SHA: base.GetObject().SHA},
		})
		if status(err) == http.StatusUnprocessableEntity {
			p.logger.DebugContext(ctx, "branch already exists", "branch", change.Branch)
			return nil, nil
		}
		return ref, err
	})
	if err != nil {
		return "", p.fail("failed to create branch "+change.Branch, err)
	}

	existingSHA, err := retry(ctx, p, "read file", func() (string, error) {
		file, _, _, err := p.client.Repositories.GetContents(ctx, p.owner, p.repo, path,
			&github.RepositoryContentGetOptions{Ref: change.Branch})
		if status(err) == http.StatusNotFound {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return file.GetSHA(), nil
	})
	if err != nil {
		return "", p.fail("failed to read "+path, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(change.Title),
		Content: change.Content,
		Branch:  github.Ptr(change.Branch),
	}
	_, err = retry(ctx, p, "commit file", func() (*github.RepositoryContentResponse, error) {
		if existingSHA != "" {
			opts.SHA = github.Ptr(existingSHA)
			resp, _, err := p.client.Repositories.UpdateFile(ctx, p.owner, p.repo, path, opts)
			return resp, err
		}
		resp, _, err := p.client.Repositories.CreateFile(ctx, p.owner, p.repo, path, opts)
		return resp, err
	})
	if err != nil {
		return "", p.fail("failed to commit "+path, err)
	}

	pr, err := retry(ctx, p, "open pull request", func() (*github.PullRequest, error) {
		pr, _, err := p.client.PullRequests.Create(ctx, p.owner, p.repo, &github.NewPullRequest{
			Title: github.Ptr(change.Title),
			Head:  github.Ptr(change.Branch),
			Base:  github.Ptr(p.baseBranch),
			Body:  github.Ptr(change.Body),
		})
		return pr, err
	})
	if err != nil {
		return "", p.fail("failed to open pull request", err)
	}

	p.logger.InfoContext(ctx, "pull request opened", "url", pr.GetHTMLURL(), "branch", change.Branch)
	return pr.GetHTMLURL(), nil
}

func (p *Publisher) fail(msg string, err error) error {
	return errors.Wrap(errors.ErrCodePullRequest, msg, err).
		WithSuggestion(fmt.Sprintf("Check that the token can push to %s/%s", p.owner, p.repo))
}

// retry runs op with backoff. Rate limits, 5xx and transport errors are
// retried; other API errors are final.
func retry[T any](ctx context.Context, p *Publisher, step string, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !transient(err) {
			return v, backoff.Permanent(err)
		}
		p.logger.WarnContext(ctx, "github call failed, retrying", "step", step, "error", err)
		return v, err
	}, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(p.maxTries))
}

func transient(err error) bool {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if stderrors.As(err, &rateErr) || stderrors.As(err, &abuseErr) {
		return true
	}
	if code := status(err); code != 0 {
		return code == http.StatusTooManyRequests || code >= 500
	}
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}

// status extracts the HTTP status of a GitHub API error, or 0.
func status(err error) int {
	var apiErr *github.ErrorResponse
	if stderrors.As(err, &apiErr) && apiErr.Response != nil {
		return apiErr.Response.StatusCode
	}
	return 0
}
