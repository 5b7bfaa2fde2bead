package storage

import (
	"context"
	"log/slog"
	"time"

	"douyindl/internal/entity"
)

// CleanupExpiredRuns drops finished runs whose ExpiresAt has passed, every interval.
// Downloaded files are left in place.
func (stg *storage) CleanupExpiredRuns(ctx context.Context, interval time.Duration) {
	log := stg.log.With(slog.String("action", "cleanup_expired_runs"), slog.Duration("interval", interval))

	if interval <= 0 {
		log.WarnContext(ctx, "non-positive cleanup interval, run history is never pruned")

		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stg.performCleanup(ctx)
		case <-ctx.Done():
			log.Info("cleanup expired runs stopped")

			return
		}
	}
}

func (stg *storage) performCleanup(ctx context.Context) {
	now := time.Now()

	stg.mu.Lock()
	defer stg.mu.Unlock()

	expired := stg.expiredRuns(now)
	if len(expired) == 0 {
		stg.log.DebugContext(ctx, "no expired runs found to clean up")

		return
	}

	for _, run := range expired {
		delete(stg.runs, run.ID)

		stg.log.DebugContext(ctx, "run cleaned up",
			slog.String("run_id", run.ID),
			slog.Int("results", len(run.Results)))
	}

	stg.metrics.RecordCleanup(len(expired))
	stg.metrics.SetStoredRuns(len(stg.runs))

	stg.log.InfoContext(ctx, "removed expired runs", slog.Int("count", len(expired)))
}

// expiredRuns must be called with mu held. Unfinished runs never expire.
func (stg *storage) expiredRuns(now time.Time) []*entity.RunSnapshot {
	var expired []*entity.RunSnapshot

	for _, run := range stg.runs {
		if run.Done && !run.ExpiresAt.IsZero() && run.ExpiresAt.Before(now) {
			expired = append(expired, run)
		}
	}

	return expired
}
