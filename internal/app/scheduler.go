/**
 * @description
 * Cron scheduler setup for the reconciliation sweep.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/finik/vpn-subscription-service/internal/config"
)

// DefaultSweepSchedule runs the sweep every 20 minutes.
const DefaultSweepSchedule = "@every 20m"

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	logger  *slog.Logger
	config  config.Config
}

// NewScheduler creates a new scheduler instance. Overlapping sweeps are skipped.
func NewScheduler(sweeper *Sweeper, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	return &Scheduler{
		cron:    c,
		sweeper: sweeper,
		logger:  logger,
		config:  cfg,
	}
}

// Start registers the sweep, starts the cron scheduler and triggers one sweep
// immediately. It returns the schedule registration error, if any.
func (s *Scheduler) Start() error {
	id, err := s.cron.AddFunc(s.config.SweepSchedule, s.sweeper.RunSweep)
	if err != nil {
		s.logger.Error("failed to schedule subscription sweep job", "error", err)
		return err
	}
	s.logger.Info("scheduled subscription sweep job", "schedule", s.config.SweepSchedule)

	s.cron.Start()
	// Run through the cron chain so the startup sweep is also skipped while a
	// scheduled one is in flight.
	go s.cron.Entry(id).WrappedJob.Run()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
