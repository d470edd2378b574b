// Package report writes mining results as CSV files.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"touchminer/logger"
	"touchminer/models"
)

// TouchesFile is the name of the per-touch report
const TouchesFile = "authorsFileTouches.csv"

// WriteTouches writes a file,author,date header and one row per touch in order
func WriteTouches(w io.Writer, touches []models.TouchRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"file", "author", "date"}); err != nil {
		return err
	}
	for _, t := range touches {
		if err := cw.Write([]string{t.File, t.Author, t.Date}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCounts writes a Filename,Touches header and one row per file, most
// touched first
func WriteCounts(w io.Writer, counts models.TouchCounts) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Filename", "Touches"}); err != nil {
		return err
	}
	for _, fc := range counts.Sorted() {
		if err := cw.Write([]string{fc.File, strconv.Itoa(fc.Touches)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MostTouched returns the file with the highest count. Ties go to the
// lexically smallest filename.
func MostTouched(counts models.TouchCounts) (models.FileTouchCount, bool) {
	sorted := counts.Sorted()
	if len(sorted) == 0 {
		return models.FileTouchCount{}, false
	}
	return sorted[0], true
}

// CountsFile returns the name of the per-file report for repo
func CountsFile(repo string) string {
	name := repo
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		name = repo[i+1:]
	}
	return "file_" + name + ".csv"
}

// CSVSink writes both reports into Dir
type CSVSink struct {
	Dir string
}

// NewCSVSink creates a sink writing into dir
func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{Dir: dir}
}

// SaveRun writes the touch and count reports of run. Each file is written to
// a temporary name first and renamed into place.
func (s *CSVSink) SaveRun(ctx context.Context, run models.MiningRun, touches []models.TouchRecord, counts models.TouchCounts) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", s.Dir, err)
	}

	touchesPath := filepath.Join(s.Dir, TouchesFile)
	if err := writeFile(touchesPath, func(w io.Writer) error { return WriteTouches(w, touches) }); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	countsPath := filepath.Join(s.Dir, CountsFile(run.Repository))
	if err := writeFile(countsPath, func(w io.Writer) error { return WriteCounts(w, counts) }); err != nil {
		return err
	}

	logger.Info("CSV reports written",
		zap.String("run_id", run.ID),
		zap.String("touches_file", touchesPath),
		zap.String("counts_file", countsPath),
		zap.Int("rows", len(touches)))
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
