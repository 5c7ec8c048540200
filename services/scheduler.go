package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

const cleanupBatchSize = 50

// StartMaintenanceScheduler runs the engine cleanup sweep and the orphan-decision report.
// The caller owns the returned scheduler and shuts it down on exit.
func StartMaintenanceScheduler(o *TurnOrchestrator, cleanupEvery, orphanAge time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	// Finished battles whose engine-side battle survived the best-effort delete.
	_, err = sched.NewJob(
		gocron.DurationJob(cleanupEvery),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), cleanupEvery)
			defer cancel()
			n, err := o.CleanupFinished(ctx, cleanupBatchSize)
			if err != nil {
				log.Error().Err(err).Str("component", "scheduler").Msg("engine cleanup sweep failed")
				return
			}
			if n > 0 {
				log.Info().Str("component", "scheduler").Int("cleaned", n).Msg("engine battles cleaned up")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	// Report only; pending decisions are never repaired automatically.
	_, err = sched.NewJob(
		gocron.DurationJob(orphanAge),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := o.ReportOrphans(ctx, orphanAge); err != nil {
				log.Error().Err(err).Str("component", "scheduler").Msg("orphan decision report failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
