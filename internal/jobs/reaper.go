package jobs

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/tex-forge/internal/storage"
)

// Reaper は保持期限を過ぎたジョブの成果物・作業ディレクトリ・レコードを
// 定期的に削除します。
type Reaper struct {
	store     *Store
	artifacts *storage.LocalStore
	expiry    time.Duration
	interval  time.Duration
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewReaper は Reaper を初期化します。
func NewReaper(store *Store, artifacts *storage.LocalStore, expiry, interval time.Duration, logger *zap.SugaredLogger) *Reaper {
	return &Reaper{
		store:     store,
		artifacts: artifacts,
		expiry:    expiry,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run は ctx がキャンセルされるまで定期スイープを実行します。
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Infow("job reaper started", "expiry", r.expiry, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Infow("job reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorw("panic during cleanup sweep", "panic", rec)
		}
	}()

	cutoff := r.now().Add(-r.expiry)
	expired, err := r.store.ListOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Errorw("failed to list expired jobs", "error", err)
		return
	}

	removed := 0
	for _, job := range expired {
		if err := r.reapJob(ctx, job); err != nil {
			// 1 件の失敗でスイープ全体を止めない
			r.logger.Warnw("failed to clean up job", "job_id", job.ID, "error", err)
			continue
		}
		removed++
	}
	if len(expired) > 0 {
		r.logger.Infow("cleanup sweep finished", "expired", len(expired), "removed", removed)
	}
}

func (r *Reaper) reapJob(ctx context.Context, job *Job) error {
	if err := r.artifacts.Delete(job.ID); err != nil {
		return err
	}
	if job.WorkDir != "" {
		if err := os.RemoveAll(job.WorkDir); err != nil {
			return err
		}
	}
	// レコードは最後に消す。途中で失敗しても次回のスイープで再試行される
	return r.store.Delete(ctx, job.ID)
}
