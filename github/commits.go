package github

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"touchminer/logger"
	"touchminer/models"
)

// PerPage is the page size requested from the commit list endpoint
const PerPage = 100

// Endpoints builds API URLs below a base such as https://api.github.com or
// https://ghe.example.com/api/v3.
type Endpoints struct {
	base *url.URL
}

// NewEndpoints parses apiBase
func NewEndpoints(apiBase string) (*Endpoints, error) {
	base, err := url.Parse(strings.TrimSuffix(apiBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid API base URL: %v", ErrConfiguration, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: API base URL %q must be absolute", ErrConfiguration, apiBase)
	}
	return &Endpoints{base: base}, nil
}

// CommitsPage returns {base}/repos/{repo}/commits?page={n}&per_page={size}
func (e *Endpoints) CommitsPage(repo string, params models.PaginationParams) string {
	u := e.base.JoinPath("repos", repo, "commits")
	q := u.Query()
	q.Set("page", strconv.Itoa(params.Page))
	q.Set("per_page", strconv.Itoa(params.PageSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// Commit returns {base}/repos/{repo}/commits/{sha}
func (e *Endpoints) Commit(repo, sha string) string {
	return e.base.JoinPath("repos", repo, "commits", sha).String()
}

// ValidateRepo checks that repo has the owner/name form
func ValidateRepo(repo string) error {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: repository must be owner/name, got %q", ErrConfiguration, repo)
	}
	return nil
}

// CommitWalker pages through the commit list endpoint
type CommitWalker struct {
	fetcher   Fetcher
	endpoints *Endpoints
	pageSize  int
}

// NewCommitWalker creates a walker requesting PerPage commits per page
func NewCommitWalker(fetcher Fetcher, endpoints *Endpoints) *CommitWalker {
	return &CommitWalker{fetcher: fetcher, endpoints: endpoints, pageSize: PerPage}
}

// Walk lazily yields every commit summary of repo, oldest page first. The
// sequence ends at the first empty page. A failed page fetch is yielded once
// as an error and ends the sequence; there is no resume.
func (w *CommitWalker) Walk(ctx context.Context, repo string) iter.Seq2[models.CommitSummary, error] {
	return func(yield func(models.CommitSummary, error) bool) {
		log := logger.ForRepo(repo)
		params := models.NewPaginationParams(1, w.pageSize)

		for {
			if err := ctx.Err(); err != nil {
				yield(models.CommitSummary{}, err)
				return
			}

			var page []models.CommitSummary
			if err := w.fetcher.Fetch(ctx, w.endpoints.CommitsPage(repo, params), &page); err != nil {
				yield(models.CommitSummary{}, fmt.Errorf("failed to fetch commit page %d: %w", params.Page, err))
				return
			}

			if len(page) == 0 {
				log.Info("Reached end of commit history", zap.Int("pages", params.Page-1))
				return
			}

			log.Debug("Fetched commit page",
				zap.Int("page", params.Page),
				zap.Int("commits", len(page)))

			for _, summary := range page {
				if !yield(summary, nil) {
					return
				}
			}
			params = params.Next()
		}
	}
}

// DetailCache stores expanded commits. Commits are immutable, so entries
// never expire.
type DetailCache interface {
	Get(repo, sha string) (models.CommitDetail, bool, error)
	Put(repo string, detail models.CommitDetail) error
}

type commitDetailResponse struct {
	SHA    string `json:"sha"`
	Commit struct {
		Author struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Files []models.FileChange `json:"files"`
}

// DetailExpander fetches the full record of a commit
type DetailExpander struct {
	fetcher   Fetcher
	endpoints *Endpoints
	cache     DetailCache
}

// NewDetailExpander creates an expander; cache may be nil
func NewDetailExpander(fetcher Fetcher, endpoints *Endpoints, cache DetailCache) *DetailExpander {
	return &DetailExpander{fetcher: fetcher, endpoints: endpoints, cache: cache}
}

// Expand fetches the detail of summary. A payload without a files list is
// not an error: the detail comes back with no files and FilesMissing set.
func (e *DetailExpander) Expand(ctx context.Context, repo string, summary models.CommitSummary) (models.CommitDetail, error) {
	if summary.SHA == "" {
		return models.CommitDetail{}, ErrMissingSHA
	}

	if e.cache != nil {
		detail, ok, err := e.cache.Get(repo, summary.SHA)
		if err != nil {
			logger.Warn("Detail cache lookup failed", zap.Error(err), zap.String("sha", summary.SHA))
		} else if ok {
			return detail, nil
		}
	}

	var resp commitDetailResponse
	if err := e.fetcher.Fetch(ctx, e.endpoints.Commit(repo, summary.SHA), &resp); err != nil {
		return models.CommitDetail{}, fmt.Errorf("failed to fetch commit %s: %w", summary.SHA, err)
	}

	detail := models.CommitDetail{
		SHA:    resp.SHA,
		Author: resp.Commit.Author.Name,
		Date:   resp.Commit.Author.Date,
		Files:  resp.Files,
	}
	if detail.SHA == "" {
		detail.SHA = summary.SHA
	}
	if resp.Files == nil {
		detail.Files = []models.FileChange{}
		detail.FilesMissing = true
		logger.Warn("Commit detail has no file list, treating as empty",
			zap.String("repo", repo),
			zap.String("sha", summary.SHA))
		return detail, nil
	}

	if e.cache != nil {
		if err := e.cache.Put(repo, detail); err != nil {
			logger.Warn("Detail cache write failed", zap.Error(err), zap.String("sha", summary.SHA))
		}
	}

	return detail, nil
}
