// Package dispatcher fans source polls out over a bounded worker group and
// drives single and continuous runs.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/metrics"
)

// DefaultInterval separates continuous passes when none is configured.
const DefaultInterval = 15 * time.Minute

// Poller processes one source.
type Poller interface {
	Poll(ctx context.Context, runID string, src archiver.Source) (archiver.SourceCheckLog, error)
}

// LastChecker reports when a source was last polled.
type LastChecker interface {
	LastCheck(ctx context.Context, slug string) (time.Time, error)
}

// Config controls fan-out and pacing.
type Config struct {
	Concurrency int
	Interval    time.Duration
}

// Summary aggregates one pass.
type Summary struct {
	RunID         string
	Sources       int
	Found         int
	Stored        int
	Duplicates    int
	Failed        int
	FailedSources []string
}

// Dispatcher runs passes over the configured sources.
type Dispatcher struct {
	poller Poller
	checks LastChecker
	ids    archiver.IDGenerator
	clock  archiver.Clock
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(poller Poller, checks LastChecker, ids archiver.IDGenerator, clock archiver.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		poller: poller,
		checks: checks,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("dispatcher"),
	}
}

// RunOnce polls every enabled source once. Individual source failures are
// recorded in the summary; only storage unavailability is returned, and it
// cancels the remaining polls.
func (d *Dispatcher) RunOnce(ctx context.Context, sources []archiver.Source) (Summary, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	summary := Summary{RunID: runID}
	logger := d.logger.With(zap.String("run_id", runID))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		summary.Sources++
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			metrics.IncActivePolls()
			defer metrics.DecActivePolls()

			start := time.Now()
			check, err := d.poller.Poll(gctx, runID, src)
			metrics.ObserveSourcePoll(src.Slug, err == nil && check.Success, time.Since(start))

			mu.Lock()
			summary.Found += check.ItemsFound
			summary.Stored += check.ItemsStored
			summary.Duplicates += check.ItemsDuplicate
			summary.Failed += check.ItemsFailed
			if err != nil || !check.Success {
				summary.FailedSources = append(summary.FailedSources, src.Slug)
			}
			mu.Unlock()

			if errors.Is(err, archiver.ErrStorageUnavailable) {
				return fmt.Errorf("source %s: %w", src.Slug, err)
			}
			if err != nil {
				logger.Error("source poll failed", zap.String("source", src.Slug), zap.Error(err))
			}
			return nil
		})
	}
	err = g.Wait()

	logger.Info("run finished",
		zap.Int("sources", summary.Sources),
		zap.Int("found", summary.Found),
		zap.Int("stored", summary.Stored),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("failed", summary.Failed),
		zap.Strings("failed_sources", summary.FailedSources),
	)
	return summary, err
}

// RunContinuous repeats passes every Interval until ctx ends. Each pass only
// includes sources whose CheckInterval has elapsed since their last check.
func (d *Dispatcher) RunContinuous(ctx context.Context, sources []archiver.Source) error {
	for {
		due := d.due(ctx, sources)
		if len(due) > 0 {
			if _, err := d.RunOnce(ctx, due); err != nil {
				return err
			}
		} else {
			d.logger.Debug("no sources due")
		}

		timer := time.NewTimer(d.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) due(ctx context.Context, sources []archiver.Source) []archiver.Source {
	now := d.clock.Now()
	var out []archiver.Source
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		if src.CheckInterval <= 0 || d.checks == nil {
			out = append(out, src)
			continue
		}
		last, err := d.checks.LastCheck(ctx, src.Slug)
		if err != nil {
			d.logger.Warn("last check lookup failed", zap.String("source", src.Slug), zap.Error(err))
			out = append(out, src)
			continue
		}
		if last.IsZero() || now.Sub(last) >= src.CheckInterval {
			out = append(out, src)
		}
	}
	return out
}
