package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"touchminer/db"
	"touchminer/logger"
	"touchminer/models"
	"touchminer/report"
	"touchminer/service"
)

// topOptions selects the run and the report printed by top
type topOptions struct {
	runID   string
	limit   int
	file    string
	touches bool
}

var topOpts topOptions

// runStore is the read side of the SQL store used by top
type runStore interface {
	GetRun(ctx context.Context, id string) (*models.MiningRun, error)
	GetLatestRun(ctx context.Context, repo string) (*models.MiningRun, error)
	GetTopFiles(ctx context.Context, runID string, limit int) ([]models.FileTouchCount, error)
	GetAuthorStats(ctx context.Context, runID string) ([]models.AuthorStats, error)
	GetFileTouchCount(ctx context.Context, runID, file string) (int, error)
	GetTouches(ctx context.Context, runID string) ([]models.TouchRecord, error)
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the most touched files and the busiest authors of a stored run",
	Long: `top reads a stored mining run, the latest run of --repo unless --run is
given. --file prints the touch count of a single file and --touches writes
every touch of the run as CSV.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		if !cfg.StoreEnabled() {
			return fmt.Errorf("top reads from the SQL store; set DB_DRIVER and DATABASE_URL")
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		database, err := db.New(ctx, service.DBOptions(cfg))
		if err != nil {
			return err
		}
		defer database.Close()

		return runTop(ctx, cmd.OutOrStdout(), database, cfg.Repo, topOpts)
	},
}

func init() {
	topCmd.Flags().StringVar(&topOpts.runID, "run", "", "run ID (default: latest run of --repo)")
	topCmd.Flags().IntVar(&topOpts.limit, "limit", 10, "number of files to show")
	topCmd.Flags().StringVar(&topOpts.file, "file", "", "print the touch count of this file only")
	topCmd.Flags().BoolVar(&topOpts.touches, "touches", false, "write every touch of the run as CSV")
}

func runTop(ctx context.Context, out io.Writer, store runStore, repo string, opts topOptions) error {
	var (
		run *models.MiningRun
		err error
	)
	if opts.runID != "" {
		run, err = store.GetRun(ctx, opts.runID)
	} else {
		run, err = store.GetLatestRun(ctx, repo)
	}
	if err != nil {
		return err
	}

	switch {
	case opts.file != "":
		count, err := store.GetFileTouchCount(ctx, run.ID, opts.file)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "The file %s has been touched %d times.\n", opts.file, count)
		return err

	case opts.touches:
		touches, err := store.GetTouches(ctx, run.ID)
		if err != nil {
			return err
		}
		return report.WriteTouches(out, touches)
	}

	files, err := store.GetTopFiles(ctx, run.ID, opts.limit)
	if err != nil {
		return err
	}
	authors, err := store.GetAuthorStats(ctx, run.ID)
	if err != nil {
		return err
	}

	return printTop(out, run, files, authors)
}

func printTop(out io.Writer, run *models.MiningRun, files []models.FileTouchCount, authors []models.AuthorStats) error {
	fmt.Fprintf(out, "Run %s of %s finished %s\n", run.ID, run.Repository, run.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "%d commits, %d touches, %d skipped\n\n", run.Commits, run.Touches, run.Skipped)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tTOUCHES")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%d\n", f.File, f.Touches)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "AUTHOR\tTOUCHES\tFILES")
	for _, a := range authors {
		fmt.Fprintf(w, "%s\t%d\t%d\n", a.AuthorName, a.Touches, a.Files)
	}
	return w.Flush()
}
