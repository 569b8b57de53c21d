package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/marcus-crane/billboard/config"
)

type Sweeper interface {
	Sweep(ctx context.Context, immediate bool) (int, error)
}

type Pruner interface {
	PruneStale() int
}

type HistoryPruner interface {
	Prune(before time.Time) (int64, error)
}

func SetupInBackground(ctx context.Context, cfg config.Config, sweeper Sweeper, pruner Pruner, history HistoryPruner) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	if sweeper != nil {
		_, err = s.NewJob(
			gocron.DurationJob(cfg.CleanupInterval()),
			gocron.NewTask(SweepAttachments, ctx, sweeper),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	if pruner != nil {
		// live text changes on the minute
		_, err = s.NewJob(
			gocron.DurationJob(time.Minute),
			gocron.NewTask(PruneText, pruner),
		)
		if err != nil {
			return nil, err
		}
	}

	if history != nil && cfg.HistoryRetention() > 0 {
		_, err = s.NewJob(
			gocron.DurationJob(time.Hour),
			gocron.NewTask(PruneHistory, history, cfg.HistoryRetention()),
		)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func SweepAttachments(ctx context.Context, sweeper Sweeper) {
	if _, err := sweeper.Sweep(ctx, false); err != nil {
		slog.Warn("Periodic attachment sweep failed", slog.String("error", err.Error()))
	}
}

func PruneText(pruner Pruner) {
	if n := pruner.PruneStale(); n > 0 {
		slog.Debug("Pruned stale text surfaces", slog.Int("count", n))
	}
}

func PruneHistory(history HistoryPruner, retention time.Duration) {
	n, err := history.Prune(time.Now().Add(-retention))
	if err != nil {
		slog.Warn("Failed to prune playback history", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		slog.Info("Pruned playback history", slog.Int64("entries", n))
	}
}
