package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fetchkit/fetchd/internal/domain"
)

// report periodically flushes the shared byte counter into the task record.
// It writes only while the task is still downloading; once the status has
// changed (paused, deleted, errored) it stops itself rather than overwrite
// the status set by whoever changed it. The check-then-write leaves a
// staleness window of at most one interval.
func (e *Engine) report(ctx context.Context, id string, progress *atomic.Int64) {
	ticker := time.NewTicker(e.config.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := progress.Load()
			downloading := false
			found := e.tasks.Mutate(id, func(t *domain.Task) {
				if t.Status != domain.StatusDownloading {
					return
				}
				downloading = true
				t.DownloadedBytes = current
				t.UpdatedAt = time.Now()
			})
			if !found || !downloading {
				return
			}
		}
	}
}
