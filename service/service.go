package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"touchminer/cache"
	"touchminer/config"
	"touchminer/db"
	"touchminer/github"
	"touchminer/logger"
	"touchminer/miner"
	"touchminer/models"
	"touchminer/report"
)

// MinerInterface abstracts the mining run needed by the service
// (for testability)
type MinerInterface interface {
	Mine(ctx context.Context, repo string) (*miner.Result, error)
}

// Sink receives the results of a completed run
type Sink interface {
	SaveRun(ctx context.Context, run models.MiningRun, touches []models.TouchRecord, counts models.TouchCounts) error
}

// RunHistory looks up earlier runs of a repository
type RunHistory interface {
	GetLatestRun(ctx context.Context, repo string) (*models.MiningRun, error)
}

// Service errors
var (
	ErrServiceInit     = fmt.Errorf("service initialization error")
	ErrServiceShutdown = fmt.Errorf("service shutdown error")
)

// Service represents the main application service
type Service struct {
	config  *config.Config
	miner   MinerInterface
	sinks   []Sink
	history RunHistory
	closers []io.Closer
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a service from already built collaborators
func New(cfg *config.Config, m MinerInterface, history RunHistory, sinks ...Sink) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:  cfg,
		miner:   m,
		sinks:   sinks,
		history: history,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// NewService builds the miner, the optional detail cache and the configured
// sinks from cfg
func NewService(cfg *config.Config) (*Service, error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	var detailCache github.DetailCache
	if cfg.CachePath != "" {
		c, err := cache.Open(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open detail cache: %v", ErrServiceInit, err)
		}
		closers = append(closers, c)
		detailCache = c

		if cached, err := c.Len(cfg.Repo); err != nil {
			logger.Warn("Could not count cached commits", zap.String("path", cfg.CachePath), zap.Error(err))
		} else {
			logger.Info("Detail cache opened",
				zap.String("path", cfg.CachePath),
				zap.String("repo", cfg.Repo),
				zap.Int("cached_commits", cached))
		}
	}

	m, err := miner.Build(cfg.Tokens, MinerOptions(cfg, detailCache))
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("%w: failed to build miner: %v", ErrServiceInit, err)
	}

	var sinks []Sink
	if cfg.OutputDir != "" {
		sinks = append(sinks, report.NewCSVSink(cfg.OutputDir))
	}

	var history RunHistory
	if cfg.StoreEnabled() {
		database, err := db.New(context.Background(), DBOptions(cfg))
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%w: failed to initialize database: %v", ErrServiceInit, err)
		}
		closers = append(closers, database)
		sinks = append(sinks, database)
		history = database
	}

	s := New(cfg, m, history, sinks...)
	s.closers = closers

	logger.Info("Service initialized successfully",
		zap.String("repo", cfg.Repo),
		zap.Int("credentials", len(cfg.Tokens)),
		zap.Int("workers", cfg.Workers),
		zap.Int("sinks", len(sinks)),
		zap.Bool("cache", detailCache != nil),
		zap.Duration("poll_interval", cfg.PollInterval))

	return s, nil
}

// MinerOptions maps the configuration onto miner options
func MinerOptions(cfg *config.Config, detailCache github.DetailCache) miner.Options {
	return miner.Options{
		APIBase:           cfg.APIURL,
		Extensions:        cfg.Extensions,
		Workers:           cfg.Workers,
		StrictDetails:     cfg.StrictDetails,
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Cache:             detailCache,
	}
}

// DBOptions maps the configuration onto database options
func DBOptions(cfg *config.Config) db.Options {
	return db.Options{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
}

// Start mines the configured repository. With a poll interval it keeps
// re-mining until a shutdown signal arrives; otherwise it returns after the
// first run.
func (s *Service) Start() error {
	go s.waitForShutdown()

	_, err := s.processRepository(s.ctx)
	if s.config.PollInterval <= 0 {
		return err
	}
	if err != nil {
		logger.Warn("Error processing repository",
			zap.Error(err),
			zap.String("repo", s.config.Repo))
		// Continue despite initial processing error
	}

	s.monitor(s.ctx, s.config.PollInterval, func(ctx context.Context) error {
		_, err := s.processRepository(ctx)
		return err
	})
	return nil
}

// waitForShutdown cancels the service context on SIGINT or SIGTERM
func (s *Service) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		s.cancel()
	case <-s.ctx.Done():
	}
}

// Close performs cleanup operations
func (s *Service) Close() error {
	logger.Info("Closing service")
	s.cancel()

	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrServiceShutdown, errors.Join(errs...))
	}
	return nil
}

// processRepository runs one mining pass and hands the result to every sink
func (s *Service) processRepository(ctx context.Context) (*models.MiningRun, error) {
	// Check context cancellation
	if ctx.Err() != nil {
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	}

	repo := s.config.Repo
	if s.history != nil {
		previous, err := s.history.GetLatestRun(ctx, repo)
		switch {
		case err == nil:
			logger.Info("Previous mining run found",
				zap.String("repo", repo),
				zap.String("run_id", previous.ID),
				zap.Time("finished_at", previous.FinishedAt),
				zap.Int("touches", previous.Touches))
		case errors.Is(err, db.ErrRunNotFound):
			logger.Info("No previous mining run", zap.String("repo", repo))
		default:
			logger.Warn("Could not look up previous run", zap.String("repo", repo), zap.Error(err))
		}
	}

	run := models.MiningRun{
		ID:         uuid.NewString(),
		Repository: repo,
		StartedAt:  time.Now().UTC(),
	}
	logger.Info("Mining repository", zap.String("repo", repo), zap.String("run_id", run.ID))

	result, err := s.miner.Mine(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to mine %s: %w", repo, err)
	}

	run.FinishedAt = time.Now().UTC()
	run.Commits = result.Commits
	run.Touches = len(result.Touches)
	run.Skipped = len(result.Skipped)

	var errs []error
	for _, sink := range s.sinks {
		if err := sink.SaveRun(ctx, run, result.Touches, result.Counts); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to save run %s: %w", run.ID, errors.Join(errs...))
	}

	if top, ok := report.MostTouched(result.Counts); ok {
		logger.Info("Most touched file",
			zap.String("file", top.File),
			zap.Int("touches", top.Touches))
	}
	logger.Info("Touched files counted", zap.Int("files", len(result.Counts)))

	logger.Info("Successfully processed repository",
		zap.String("repo", repo),
		zap.String("run_id", run.ID),
		zap.Int("commits", run.Commits),
		zap.Int("touches", run.Touches),
		zap.Int("skipped", run.Skipped))

	return &run, nil
}
