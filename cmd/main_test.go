package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"touchminer/db"
	"touchminer/models"
)

// MockStore is a mock implementation of the run store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetRun(ctx context.Context, id string) (*models.MiningRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MiningRun), args.Error(1)
}

func (m *MockStore) GetLatestRun(ctx context.Context, repo string) (*models.MiningRun, error) {
	args := m.Called(ctx, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MiningRun), args.Error(1)
}

func (m *MockStore) GetTopFiles(ctx context.Context, runID string, limit int) ([]models.FileTouchCount, error) {
	args := m.Called(ctx, runID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FileTouchCount), args.Error(1)
}

func (m *MockStore) GetAuthorStats(ctx context.Context, runID string) ([]models.AuthorStats, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AuthorStats), args.Error(1)
}

func (m *MockStore) GetFileTouchCount(ctx context.Context, runID, file string) (int, error) {
	args := m.Called(ctx, runID, file)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) GetTouches(ctx context.Context, runID string) ([]models.TouchRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TouchRecord), args.Error(1)
}

func TestPrintTop(t *testing.T) {
	var buf bytes.Buffer
	run := &models.MiningRun{
		ID:         "run-1",
		Repository: "o/r",
		Commits:    3,
		Touches:    4,
		FinishedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	err := printTop(&buf, run,
		[]models.FileTouchCount{{File: "a.py", Touches: 3}, {File: "b.java", Touches: 1}},
		[]models.AuthorStats{{AuthorName: "ann", Touches: 4, Files: 2}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Run run-1 of o/r finished 2024-01-02 03:04:05")
	assert.Contains(t, out, "3 commits, 4 touches, 0 skipped")
	assert.Regexp(t, `a\.py\s+3`, out)
	assert.Regexp(t, `ann\s+4\s+2`, out)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["mine"])
	assert.True(t, names["top"])
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, mineCmd.Flags().Lookup("workers"))
	assert.NotNil(t, topCmd.Flags().Lookup("file"))
	assert.NotNil(t, topCmd.Flags().Lookup("touches"))
}

func TestRunTop(t *testing.T) {
	latest := &models.MiningRun{ID: "r2", Repository: "o/r", Commits: 2, Touches: 3}

	testCases := []struct {
		name       string
		opts       topOptions
		setupMocks func(*MockStore)
		expected   []string
		expectErr  error
	}{
		{
			name: "summary of the latest run",
			opts: topOptions{limit: 5},
			setupMocks: func(m *MockStore) {
				m.On("GetLatestRun", mock.Anything, "o/r").Return(latest, nil)
				m.On("GetTopFiles", mock.Anything, "r2", 5).
					Return([]models.FileTouchCount{{File: "a.py", Touches: 2}}, nil)
				m.On("GetAuthorStats", mock.Anything, "r2").
					Return([]models.AuthorStats{{AuthorName: "ann", Touches: 3, Files: 2}}, nil)
			},
			expected: []string{"Run r2 of o/r", "a.py", "ann"},
		},
		{
			name: "single file count of a given run",
			opts: topOptions{runID: "r1", file: "a.py"},
			setupMocks: func(m *MockStore) {
				m.On("GetRun", mock.Anything, "r1").Return(&models.MiningRun{ID: "r1", Repository: "o/r"}, nil)
				m.On("GetFileTouchCount", mock.Anything, "r1", "a.py").Return(2, nil)
			},
			expected: []string{"The file a.py has been touched 2 times.\n"},
		},
		{
			name: "touches as CSV",
			opts: topOptions{touches: true},
			setupMocks: func(m *MockStore) {
				m.On("GetLatestRun", mock.Anything, "o/r").Return(latest, nil)
				m.On("GetTouches", mock.Anything, "r2").Return([]models.TouchRecord{
					{File: "a.py", Author: "ann", Date: "d1"},
					{File: "b.c", Author: "bob", Date: "d2"},
				}, nil)
			},
			expected: []string{"file,author,date\na.py,ann,d1\nb.c,bob,d2\n"},
		},
		{
			name: "no stored run",
			opts: topOptions{limit: 5},
			setupMocks: func(m *MockStore) {
				m.On("GetLatestRun", mock.Anything, "o/r").Return(nil, db.ErrRunNotFound)
			},
			expectErr: db.ErrRunNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := &MockStore{}
			tc.setupMocks(store)

			var buf bytes.Buffer
			err := runTop(context.Background(), &buf, store, "o/r", tc.opts)

			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
			} else {
				require.NoError(t, err)
				for _, want := range tc.expected {
					assert.Contains(t, buf.String(), want)
				}
			}
			store.AssertExpectations(t)
		})
	}
}
