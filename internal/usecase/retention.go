package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type RunExpirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type ArtifactCleaner interface {
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

// Retention drops expired journal entries and stale artifacts on a cron
// schedule.
type Retention struct {
	schedule  string
	maxAge    time.Duration
	runs      RunExpirer
	artifacts ArtifactCleaner
	now       clock
}

func NewRetention(schedule string, maxAge time.Duration, runs RunExpirer, artifacts ArtifactCleaner) *Retention {
	return &Retention{
		schedule:  schedule,
		maxAge:    maxAge,
		runs:      runs,
		artifacts: artifacts,
		now:       time.Now,
	}
}

// Run sweeps on schedule until ctx is done. An empty schedule disables it.
// A sweep still running when the next one is due is skipped.
func (r *Retention) Run(ctx context.Context) error {
	if r.schedule == "" {
		slog.Info("retention disabled")
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() {
		if err := r.Sweep(ctx, r.now()); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("retention sweep", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("retention schedule %q: %w", r.schedule, err)
	}

	slog.Info("retention started", slog.String("schedule", r.schedule), slog.Duration("max_age", r.maxAge))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (r *Retention) Sweep(ctx context.Context, now time.Time) error {
	eg, eCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		n, err := r.runs.DeleteExpired(eCtx, now)
		if n > 0 {
			slog.Info("retention: expired runs deleted", slog.Int("count", n))
		}
		return err
	})
	eg.Go(func() error {
		return r.artifacts.CleanupOlderThan(eCtx, r.maxAge)
	})

	return eg.Wait()
}
