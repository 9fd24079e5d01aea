// Package reaper removes task footprints once their TTL has elapsed. It is
// the only component that deletes output areas and store entries.
package reaper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"plateCover/api/repository"
	"plateCover/worker/workspace"
)

const DefaultInterval = 6 * time.Hour

// Mirror is an external copy of output areas.
type Mirror interface {
	DeleteTask(ctx context.Context, taskID string) error
}

type Reaper struct {
	workspaces *workspace.Manager
	store      repository.TaskStore
	mirror     Mirror
	ttl        time.Duration
	interval   time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

type Option func(*Reaper)

func WithMirror(m Mirror) Option {
	return func(r *Reaper) { r.mirror = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

func New(workspaces *workspace.Manager, store repository.TaskStore, ttl, interval time.Duration, logger *zap.Logger, opts ...Option) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Reaper{
		workspaces: workspaces,
		store:      store,
		ttl:        ttl,
		interval:   interval,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start sweeps every interval until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("ttl", r.ttl),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reaper stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns how many workspaces it removed.
// Individual failures are logged and left for the next sweep.
func (r *Reaper) RunOnce(ctx context.Context) int {
	cutoff := r.now().Add(-r.ttl)

	entries, err := r.workspaces.List()
	if err != nil {
		r.logger.Error("Failed to list workspaces", zap.Error(err))
		entries = nil
	}

	removed := 0
	for _, e := range entries {
		if !e.ModTime.Before(cutoff) {
			continue
		}
		if r.reap(ctx, e.ID) {
			removed++
		}
	}

	if p, ok := r.store.(repository.Purger); ok {
		n, err := p.PurgeExpired(ctx)
		if err != nil {
			r.logger.Error("Failed to purge expired tasks", zap.Error(err))
		} else if n > 0 {
			r.logger.Info("Purged expired tasks", zap.Int64("count", n))
		}
	}

	r.logger.Info("Sweep finished", zap.Int("removed", removed), zap.Int("scanned", len(entries)))
	return removed
}

// reap drops the store entry before the directory so a failed delete is
// retried on the next sweep.
func (r *Reaper) reap(ctx context.Context, id string) bool {
	log := r.logger.With(zap.String("task_id", id))

	if err := r.store.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrTaskNotFound) {
		log.Warn("Failed to delete task record", zap.Error(err))
		return false
	}

	if r.mirror != nil {
		if err := r.mirror.DeleteTask(ctx, id); err != nil {
			log.Warn("Failed to delete mirrored results", zap.Error(err))
			return false
		}
	}

	if err := r.workspaces.Remove(id); err != nil {
		log.Warn("Failed to remove workspace", zap.Error(err))
		return false
	}

	log.Info("Expired task removed")
	return true
}
