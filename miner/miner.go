// Package miner turns a repository's commit history into per-file touch
// records.
package miner

import (
	"context"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"touchminer/github"
	"touchminer/logger"
	"touchminer/models"
)

// DefaultWorkers is the number of concurrent commit detail requests
const DefaultWorkers = 4

// Walker yields the commit summaries of a repository
type Walker interface {
	Walk(ctx context.Context, repo string) iter.Seq2[models.CommitSummary, error]
}

// Expander fetches the full detail of one commit
type Expander interface {
	Expand(ctx context.Context, repo string, summary models.CommitSummary) (models.CommitDetail, error)
}

// Options configures a Miner
type Options struct {
	APIBase           string
	Extensions        []string
	Workers           int
	StrictDetails     bool
	Timeout           time.Duration
	RequestsPerSecond float64
	Cache             github.DetailCache
}

// SkippedCommit is a commit whose detail could not be fetched
type SkippedCommit struct {
	SHA string
	Err error
}

// Result is the outcome of a completed run
type Result struct {
	Touches []models.TouchRecord
	Counts  models.TouchCounts
	Commits int
	Skipped []SkippedCommit
}

// Miner walks a repository and aggregates the touches of its commits
type Miner struct {
	walker     Walker
	expander   Expander
	extensions []string
	workers    int
	strict     bool
}

// New creates a miner from its collaborators
func New(walker Walker, expander Expander, opts Options) *Miner {
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Miner{
		walker:     walker,
		expander:   expander,
		extensions: opts.Extensions,
		workers:    workers,
		strict:     opts.StrictDetails,
	}
}

// Build wires a miner against the GitHub API using credentials in rotation.
// An empty credential list fails with github.ErrNoCredentials.
func Build(credentials []string, opts Options) (*Miner, error) {
	if len(credentials) == 0 {
		return nil, github.ErrNoCredentials
	}

	apiBase := opts.APIBase
	if apiBase == "" {
		apiBase = github.DefaultBaseURL
	}
	endpoints, err := github.NewEndpoints(apiBase)
	if err != nil {
		return nil, err
	}

	rotator := github.NewCredentialRotator(credentials)
	client := github.NewClient(rotator, opts.Timeout, opts.RequestsPerSecond)
	fetcher := github.NewRetryFetcher(client, rotator.Len())

	return New(
		github.NewCommitWalker(fetcher, endpoints),
		github.NewDetailExpander(fetcher, endpoints, opts.Cache),
		opts,
	), nil
}

// Mine runs a complete mining pass over repo with the given credentials
func Mine(ctx context.Context, repo string, credentials []string, opts Options) (*Result, error) {
	m, err := Build(credentials, opts)
	if err != nil {
		return nil, err
	}
	return m.Mine(ctx, repo)
}

type job struct {
	seq     int
	summary models.CommitSummary
}

type expansion struct {
	seq    int
	sha    string
	detail models.CommitDetail
	err    error
}

// Mine walks every commit page of repo, expands each commit on a bounded
// worker pool and aggregates the results in discovery order. A failed page
// fetch aborts the run and no result is returned. A failed detail fetch
// skips that commit unless the miner is strict.
func (m *Miner) Mine(ctx context.Context, repo string) (*Result, error) {
	if err := github.ValidateRepo(repo); err != nil {
		return nil, err
	}

	log := logger.ForRepo(repo)
	log.Info("Starting mining run", zap.Int("workers", m.workers), zap.Bool("strict", m.strict))
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	results := make(chan expansion)

	g.Go(func() error {
		defer close(jobs)
		seq := 0
		for summary, err := range m.walker.Walk(gctx, repo) {
			if err != nil {
				return err
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			select {
			case jobs <- job{seq: seq, summary: summary}:
			case <-gctx.Done():
				return gctx.Err()
			}
			seq++
		}
		return nil
	})

	var workers sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for j := range jobs {
				detail, err := m.expander.Expand(gctx, repo, j.summary)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					if m.strict {
						return err
					}
				}
				select {
				case results <- expansion{seq: j.seq, sha: j.summary.SHA, detail: detail, err: err}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		workers.Wait()
		close(results)
	}()

	// Single owner of the aggregation. Expansions arrive in any order and
	// are replayed by sequence number.
	agg := NewAggregator(m.extensions)
	result := &Result{}
	pending := make(map[int]expansion)
	next := 0
	for e := range results {
		pending[e.seq] = e
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			result.Commits++

			if ready.err != nil {
				log.Warn("Skipping commit", zap.String("sha", ready.sha), zap.Error(ready.err))
				result.Skipped = append(result.Skipped, SkippedCommit{SHA: ready.sha, Err: ready.err})
				continue
			}
			added := agg.Record(ready.detail)
			log.Debug("Commit processed", zap.String("sha", ready.sha), zap.Int("touches", added))

			if result.Commits%100 == 0 {
				log.Info("Mining progress", zap.Int("commits", result.Commits))
			}
		}
	}

	if err := g.Wait(); err != nil {
		log.Error("Mining run aborted", zap.Error(err), zap.Int("commits_seen", result.Commits))
		return nil, err
	}

	result.Touches = agg.Touches()
	result.Counts = agg.Counts()

	log.Info("Mining run complete",
		zap.Int("commits", result.Commits),
		zap.Int("touches", len(result.Touches)),
		zap.Int("files", len(result.Counts)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Duration("elapsed", time.Since(started)))

	return result, nil
}
