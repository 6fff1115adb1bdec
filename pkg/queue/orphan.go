package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for orphaned commands.
// All pods run this independently, the recovery is idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans times out running commands with stale heartbeats.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().Add(-p.config.OrphanThreshold)

	recovered, err := p.store.RecoverOrphanCommands(ctx, threshold)
	if err != nil {
		return fmt.Errorf("recovering orphaned commands: %w", err)
	}
	if recovered > 0 {
		slog.Warn("Recovered orphaned commands", "count", recovered)
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	return nil
}

// CleanupStartupOrphans performs a one-time cleanup of commands owned by this
// pod that were running when the pod previously crashed.
// Called once during startup, before the worker pool begins processing.
func CleanupStartupOrphans(ctx context.Context, store Store, podID string) error {
	recovered, err := store.RecoverPodCommands(ctx, podID)
	if err != nil {
		return fmt.Errorf("recovering startup orphans: %w", err)
	}
	if recovered > 0 {
		slog.Warn("Recovered startup orphans from previous run",
			"pod_id", podID, "count", recovered)
	}
	return nil
}
