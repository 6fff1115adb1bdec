// Package cleanup provides data retention for the command queue.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

// CommandPurger deletes terminal command rows older than a cutoff.
// Implemented by the storage package.
type CommandPurger interface {
	DeleteTerminalCommandsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Service periodically deletes commands that reached a terminal status
// longer ago than the retention window. The operation is idempotent and
// safe to run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	store  CommandPurger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, store CommandPurger) *Service {
	return &Service{
		config: cfg,
		store:  store,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"command_retention_days", s.config.CommandRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.purgeOldCommands(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeOldCommands(ctx)
		}
	}
}

func (s *Service) purgeOldCommands(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.CommandRetentionDays)
	count, err := s.store.DeleteTerminalCommandsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: command purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged old commands", "count", count, "cutoff", cutoff)
	}
}
