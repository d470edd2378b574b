package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"touchminer/logger"
)

// monitor calls process every interval until ctx is done. Errors are logged
// and the next tick retries.
func (s *Service) monitor(ctx context.Context, interval time.Duration, process func(ctx context.Context) error) {
	logger.Info("Starting repository monitoring", zap.Duration("poll_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Repository monitoring stopped")
			return
		case <-ticker.C:
			if err := process(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("Error re-mining repository",
					zap.Error(err),
					zap.String("repo", s.config.Repo))
			}
		}
	}
}
