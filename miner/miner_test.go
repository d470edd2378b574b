package miner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"touchminer/github"
	"touchminer/logger"
	"touchminer/models"
)

func init() {
	// Initialize logger for tests
	_ = logger.Initialize("debug")
}

// apiServer fakes the two GitHub endpoints used by the miner
type apiServer struct {
	pages   map[string]string
	details map[string]string
	status  map[string]int

	mu     sync.Mutex
	tokens []string
}

func (s *apiServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.tokens = append(s.tokens, r.Header.Get("Authorization"))
		s.mu.Unlock()

		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		if code, ok := s.status[key]; ok {
			w.WriteHeader(code)
			return
		}
		if body, ok := s.pages[key]; ok {
			_, _ = w.Write([]byte(body))
			return
		}
		if body, ok := s.details[key]; ok {
			_, _ = w.Write([]byte(body))
			return
		}
		t.Logf("unexpected request %s", key)
		w.WriteHeader(http.StatusNotFound)
	}
}

func page(n int) string {
	return fmt.Sprintf("/repos/o/r/commits?page=%d&per_page=100", n)
}

func detail(sha string) string {
	return "/repos/o/r/commits/" + sha
}

func detailBody(sha, author, date string, filenames ...string) string {
	body := fmt.Sprintf(`{"sha":%q,"commit":{"author":{"name":%q,"date":%q}}`, sha, author, date)
	if filenames == nil {
		return body + "}"
	}
	body += `,"files":[`
	for i, f := range filenames {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"filename":%q,"status":"modified"}`, f)
	}
	return body + "]}"
}

func runMine(t *testing.T, api *apiServer, credentials []string, opts Options) (*Result, error) {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	opts.APIBase = server.URL
	opts.Timeout = 5 * time.Second
	return Mine(context.Background(), "o/r", credentials, opts)
}

func TestMineScenarios(t *testing.T) {
	testCases := []struct {
		name            string
		api             *apiServer
		opts            Options
		expectedTouches []models.TouchRecord
		expectedCounts  models.TouchCounts
		expectedCommits int
		expectedSkipped []string
		expectAbort     bool
		expectedCause   error
	}{
		{
			name: "non-source files are excluded",
			api: &apiServer{
				pages: map[string]string{
					page(1): `[{"sha":"c1"},{"sha":"c2"}]`,
					page(2): `[]`,
				},
				details: map[string]string{
					detail("c1"): detailBody("c1", "author1", "2024-01-02T00:00:00Z", "a.py"),
					detail("c2"): detailBody("c2", "author2", "2024-01-01T00:00:00Z", "a.py", "b.txt"),
				},
			},
			expectedTouches: []models.TouchRecord{
				{File: "a.py", Author: "author1", Date: "2024-01-02T00:00:00Z"},
				{File: "a.py", Author: "author2", Date: "2024-01-01T00:00:00Z"},
			},
			expectedCounts:  models.TouchCounts{"a.py": 2},
			expectedCommits: 2,
		},
		{
			name: "commit without files does not abort the run",
			api: &apiServer{
				pages: map[string]string{
					page(1): `[{"sha":"c1"},{"sha":"c2"}]`,
					page(2): `[]`,
				},
				details: map[string]string{
					detail("c1"): detailBody("c1", "author1", "d1"),
					detail("c2"): detailBody("c2", "author2", "d2", "Main.java"),
				},
			},
			expectedTouches: []models.TouchRecord{
				{File: "Main.java", Author: "author2", Date: "d2"},
			},
			expectedCounts:  models.TouchCounts{"Main.java": 1},
			expectedCommits: 2,
		},
		{
			name: "list page failure aborts with no result",
			api: &apiServer{
				pages: map[string]string{
					page(1): `[{"sha":"c1"}]`,
				},
				details: map[string]string{
					detail("c1"): detailBody("c1", "author1", "d1", "a.py"),
				},
				status: map[string]int{page(2): http.StatusInternalServerError},
			},
			expectAbort:   true,
			expectedCause: github.ErrUnexpectedStatus,
		},
		{
			name: "malformed list page aborts",
			api: &apiServer{
				pages: map[string]string{
					page(1): `{"message":"not an array"}`,
				},
			},
			expectAbort: true,
		},
		{
			name: "failed detail is skipped",
			api: &apiServer{
				pages: map[string]string{
					page(1): `[{"sha":"c1"},{"sha":"c2"}]`,
					page(2): `[]`,
				},
				details: map[string]string{
					detail("c2"): detailBody("c2", "author2", "d2", "x.c"),
				},
				status: map[string]int{detail("c1"): http.StatusBadGateway},
			},
			expectedTouches: []models.TouchRecord{
				{File: "x.c", Author: "author2", Date: "d2"},
			},
			expectedCounts:  models.TouchCounts{"x.c": 1},
			expectedCommits: 2,
			expectedSkipped: []string{"c1"},
		},
		{
			name: "failed detail aborts a strict run",
			api: &apiServer{
				pages: map[string]string{
					page(1): `[{"sha":"c1"},{"sha":"c2"}]`,
					page(2): `[]`,
				},
				details: map[string]string{
					detail("c2"): detailBody("c2", "author2", "d2", "x.c"),
				},
				status: map[string]int{detail("c1"): http.StatusBadGateway},
			},
			opts:          Options{StrictDetails: true},
			expectAbort:   true,
			expectedCause: github.ErrUnexpectedStatus,
		},
		{
			name: "empty history",
			api: &apiServer{
				pages: map[string]string{page(1): `[]`},
			},
			expectedTouches: []models.TouchRecord{},
			expectedCounts:  models.TouchCounts{},
		},
		{
			name: "custom extensions",
			api: &apiServer{
				pages: map[string]string{
					page(1): `[{"sha":"c1"}]`,
					page(2): `[]`,
				},
				details: map[string]string{
					detail("c1"): detailBody("c1", "author1", "d1", "main.go", "a.py"),
				},
			},
			opts: Options{Extensions: []string{".go"}},
			expectedTouches: []models.TouchRecord{
				{File: "main.go", Author: "author1", Date: "d1"},
			},
			expectedCounts:  models.TouchCounts{"main.go": 1},
			expectedCommits: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := runMine(t, tc.api, []string{"t1", "t2"}, tc.opts)

			if tc.expectAbort {
				require.Error(t, err)
				assert.Nil(t, result)
				var fetchErr *github.FetchError
				assert.True(t, errors.As(err, &fetchErr))
				if tc.expectedCause != nil {
					assert.ErrorIs(t, err, tc.expectedCause)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expectedTouches, result.Touches)
			assert.Equal(t, tc.expectedCounts, result.Counts)
			assert.Equal(t, tc.expectedCommits, result.Commits)
			assert.Equal(t, len(result.Touches), totalTouches(result.Counts))

			var skipped []string
			for _, s := range result.Skipped {
				skipped = append(skipped, s.SHA)
				assert.Error(t, s.Err)
			}
			assert.Equal(t, tc.expectedSkipped, skipped)
		})
	}
}

func TestMineRotatesCredentials(t *testing.T) {
	api := &apiServer{
		pages: map[string]string{
			page(1): `[{"sha":"c1"}]`,
			page(2): `[]`,
		},
		details: map[string]string{
			detail("c1"): detailBody("c1", "author1", "d1", "a.py"),
		},
	}

	_, err := runMine(t, api, []string{"t1", "t2"}, Options{Workers: 1})
	require.NoError(t, err)
	// page 2 and the c1 detail are requested concurrently
	assert.ElementsMatch(t, []string{"Bearer t1", "Bearer t2", "Bearer t1"}, api.tokens)
	assert.Equal(t, "Bearer t1", api.tokens[0])
}

func TestMineSurvivesExhaustedCredential(t *testing.T) {
	api := &apiServer{
		pages: map[string]string{
			page(1): `[{"sha":"c1"},{"sha":"c2"}]`,
			page(2): `[]`,
		},
		details: map[string]string{
			detail("c1"): detailBody("c1", "author1", "d1", "a.py"),
			detail("c2"): detailBody("c2", "author2", "d2", "a.py"),
		},
	}
	// The first request is the only one in flight, so it draws "exhausted"
	// and its retry draws "fresh".
	var limited atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer exhausted" && limited.CompareAndSwap(false, true) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		api.handler(t)(w, r)
	}))
	defer server.Close()

	result, err := Mine(context.Background(), "o/r", []string{"exhausted", "fresh"}, Options{APIBase: server.URL, Workers: 1})
	require.NoError(t, err)
	assert.True(t, limited.Load())
	assert.Equal(t, models.TouchCounts{"a.py": 2}, result.Counts)
	assert.Empty(t, result.Skipped)
}

func TestMineConfigurationErrors(t *testing.T) {
	_, err := Mine(context.Background(), "o/r", nil, Options{})
	assert.ErrorIs(t, err, github.ErrNoCredentials)
	assert.ErrorIs(t, err, github.ErrConfiguration)

	_, err = Mine(context.Background(), "not-a-repo", []string{"t"}, Options{})
	assert.ErrorIs(t, err, github.ErrConfiguration)

	_, err = Mine(context.Background(), "o/r", []string{"t"}, Options{APIBase: "relative/path"})
	assert.ErrorIs(t, err, github.ErrConfiguration)
}

// sliceWalker yields a fixed list of commits, optionally failing at the end
type sliceWalker struct {
	shas []string
	err  error
}

func (w *sliceWalker) Walk(ctx context.Context, _ string) iter.Seq2[models.CommitSummary, error] {
	return func(yield func(models.CommitSummary, error) bool) {
		for _, sha := range w.shas {
			if !yield(models.CommitSummary{SHA: sha}, nil) {
				return
			}
		}
		if w.err != nil {
			yield(models.CommitSummary{}, w.err)
		}
	}
}

// jitterExpander returns a detail derived from the sha after a random delay
type jitterExpander struct {
	calls atomic.Int64
	fail  map[string]bool
}

func (e *jitterExpander) Expand(ctx context.Context, _ string, summary models.CommitSummary) (models.CommitDetail, error) {
	e.calls.Add(1)
	select {
	case <-time.After(time.Duration(rand.Intn(3)) * time.Millisecond):
	case <-ctx.Done():
		return models.CommitDetail{}, ctx.Err()
	}
	if e.fail[summary.SHA] {
		return models.CommitDetail{}, assert.AnError
	}
	return models.CommitDetail{
		SHA:    summary.SHA,
		Author: "author-" + summary.SHA,
		Date:   "date-" + summary.SHA,
		Files:  []models.FileChange{{Filename: summary.SHA + ".py"}, {Filename: "shared.c"}, {Filename: "notes.txt"}},
	}, nil
}

func TestMineParallelMatchesSequential(t *testing.T) {
	var shas []string
	for i := 0; i < 60; i++ {
		shas = append(shas, fmt.Sprintf("c%02d", i))
	}
	fail := map[string]bool{"c07": true, "c33": true}

	sequential, err := New(&sliceWalker{shas: shas}, &jitterExpander{fail: fail}, Options{Workers: 1}).Mine(context.Background(), "o/r")
	require.NoError(t, err)

	parallel, err := New(&sliceWalker{shas: shas}, &jitterExpander{fail: fail}, Options{Workers: 8}).Mine(context.Background(), "o/r")
	require.NoError(t, err)

	assert.Equal(t, sequential.Touches, parallel.Touches)
	assert.Equal(t, sequential.Counts, parallel.Counts)
	assert.Equal(t, 60, parallel.Commits)
	assert.Len(t, parallel.Skipped, 2)
	assert.Equal(t, "c07", parallel.Skipped[0].SHA)
	assert.Equal(t, "c33", parallel.Skipped[1].SHA)
	assert.Equal(t, 58, parallel.Counts["shared.c"])
	assert.Len(t, parallel.Touches, 58*2)
	assert.Equal(t, "c00.py", parallel.Touches[0].File)
}

func TestMineWalkErrorDiscardsResults(t *testing.T) {
	walker := &sliceWalker{shas: []string{"c1", "c2", "c3"}, err: assert.AnError}

	result, err := New(walker, &jitterExpander{}, Options{Workers: 2}).Mine(context.Background(), "o/r")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, result)
}

func TestMineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var shas []string
	for i := 0; i < 20; i++ {
		shas = append(shas, fmt.Sprintf("c%d", i))
	}

	result, err := New(&sliceWalker{shas: shas}, &jitterExpander{}, Options{Workers: 3}).Mine(ctx, "o/r")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}
