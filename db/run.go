package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"touchminer/logger"
	"touchminer/models"
)

const (
	// rows per multi-row INSERT, kept well under the bind parameter limits
	// of both drivers
	batchSize = 500

	upsertRunQuery = `
		INSERT INTO mining_runs (id, repository, commits, touches, skipped, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			repository = EXCLUDED.repository,
			commits = EXCLUDED.commits,
			touches = EXCLUDED.touches,
			skipped = EXCLUDED.skipped,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`

	deleteTouchesQuery = `DELETE FROM touches WHERE run_id = ?`
	deleteCountsQuery  = `DELETE FROM file_touch_counts WHERE run_id = ?`

	selectRunColumns = `SELECT id, repository, commits, touches, skipped, started_at, finished_at FROM mining_runs`

	fileTouchCountQuery = `SELECT touches FROM file_touch_counts WHERE run_id = ? AND file = ?`
)

// SaveRun stores a completed run with its touches and per-file counts in a
// single transaction. Saving the same run ID again replaces its rows.
func (db *DB) SaveRun(ctx context.Context, run models.MiningRun, touches []models.TouchRecord, counts models.TouchCounts) error {
	if run.ID == "" || run.Repository == "" {
		return fmt.Errorf("%w: run ID and repository are required", ErrInvalidInput)
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, db.conn.Rebind(upsertRunQuery),
		run.ID, run.Repository, run.Commits, run.Touches, run.Skipped, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", run.ID, err)
	}

	for _, q := range []string{deleteTouchesQuery, deleteCountsQuery} {
		if _, err := tx.ExecContext(ctx, db.conn.Rebind(q), run.ID); err != nil {
			return fmt.Errorf("failed to clear previous rows of run %s: %w", run.ID, err)
		}
	}

	for start := 0; start < len(touches); start += batchSize {
		end := min(start+batchSize, len(touches))
		query, args := touchBatch(run.ID, start, touches[start:end])
		if _, err := tx.ExecContext(ctx, db.conn.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to insert touches %d-%d: %w", start, end, err)
		}
		logger.Debug("Inserted touch batch",
			zap.String("run_id", run.ID),
			zap.Int("from", start),
			zap.Int("to", end))
	}

	sorted := counts.Sorted()
	for start := 0; start < len(sorted); start += batchSize {
		end := min(start+batchSize, len(sorted))
		query, args := countBatch(run.ID, sorted[start:end])
		if _, err := tx.ExecContext(ctx, db.conn.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to insert file counts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	logger.Info("Mining run stored",
		zap.String("run_id", run.ID),
		zap.String("repository", run.Repository),
		zap.Int("touches", len(touches)),
		zap.Int("files", len(sorted)))
	return nil
}

func touchBatch(runID string, offset int, touches []models.TouchRecord) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO touches (run_id, seq, file, author, date) VALUES ")
	args := make([]interface{}, 0, len(touches)*5)
	for i, t := range touches {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, runID, offset+i, t.File, t.Author, t.Date)
	}
	return sb.String(), args
}

func countBatch(runID string, counts []models.FileTouchCount) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO file_touch_counts (run_id, file, touches) VALUES ")
	args := make([]interface{}, 0, len(counts)*3)
	for i, fc := range counts {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?)")
		args = append(args, runID, fc.File, fc.Touches)
	}
	return sb.String(), args
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, id string) (*models.MiningRun, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty run ID", ErrInvalidInput)
	}

	var run models.MiningRun
	err := db.conn.GetContext(ctx, &run, db.conn.Rebind(selectRunColumns+` WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &run, nil
}

// GetLatestRun retrieves the most recently finished run of repo
func (db *DB) GetLatestRun(ctx context.Context, repo string) (*models.MiningRun, error) {
	if repo == "" {
		return nil, fmt.Errorf("%w: empty repository name", ErrInvalidInput)
	}

	var run models.MiningRun
	query := selectRunColumns + ` WHERE repository = ? ORDER BY finished_at DESC LIMIT 1`
	err := db.conn.GetContext(ctx, &run, db.conn.Rebind(query), repo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run of %s: %w", repo, err)
	}
	return &run, nil
}

// GetTouches returns the touches of a run in their original order
func (db *DB) GetTouches(ctx context.Context, runID string) ([]models.TouchRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: empty run ID", ErrInvalidInput)
	}

	var touches []models.TouchRecord
	query := `SELECT file, author, date FROM touches WHERE run_id = ? ORDER BY seq`
	if err := db.conn.SelectContext(ctx, &touches, db.conn.Rebind(query), runID); err != nil {
		return nil, fmt.Errorf("failed to get touches of run %s: %w", runID, err)
	}
	return touches, nil
}

// GetTopFiles returns up to limit files of a run, most touched first
func (db *DB) GetTopFiles(ctx context.Context, runID string, limit int) ([]models.FileTouchCount, error) {
	if runID == "" || limit <= 0 {
		return nil, fmt.Errorf("%w: run ID and a positive limit are required", ErrInvalidInput)
	}

	var files []models.FileTouchCount
	query := `
		SELECT file, touches FROM file_touch_counts
		WHERE run_id = ?
		ORDER BY touches DESC, file ASC
		LIMIT ?`
	if err := db.conn.SelectContext(ctx, &files, db.conn.Rebind(query), runID, limit); err != nil {
		return nil, fmt.Errorf("failed to get top files of run %s: %w", runID, err)
	}
	return files, nil
}

// GetAuthorStats returns per-author touch totals of a run
func (db *DB) GetAuthorStats(ctx context.Context, runID string) ([]models.AuthorStats, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: empty run ID", ErrInvalidInput)
	}

	var stats []models.AuthorStats
	query := `
		SELECT author AS author_name,
			COUNT(*) AS touches,
			COUNT(DISTINCT file) AS files
		FROM touches
		WHERE run_id = ?
		GROUP BY author
		ORDER BY touches DESC, author_name ASC`
	if err := db.conn.SelectContext(ctx, &stats, db.conn.Rebind(query), runID); err != nil {
		return nil, fmt.Errorf("failed to get author stats of run %s: %w", runID, err)
	}
	return stats, nil
}

// GetFileTouchCount returns how often file was touched in a run. Files that
// were never touched report zero.
func (db *DB) GetFileTouchCount(ctx context.Context, runID, file string) (int, error) {
	if runID == "" || file == "" {
		return 0, fmt.Errorf("%w: run ID and file are required", ErrInvalidInput)
	}

	stmt, err := db.getStmt(ctx, fileTouchCountQuery)
	if err != nil {
		return 0, err
	}

	var touches int
	err = stmt.GetContext(ctx, &touches, runID, file)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get touch count of %s: %w", file, err)
	}
	return touches, nil
}
