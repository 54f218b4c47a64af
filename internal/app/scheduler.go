/**
 * @description
 * Cron scheduler for outbox housekeeping.
 */
package app

import (
	"context"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const pendingGaugeSchedule = "@every 1m"

// SchedulerConfig holds the job schedules.
type SchedulerConfig struct {
	OutboxCleanupSchedule string
	OutboxRetention       time.Duration
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	repo    store.Repository
	logger  *logrus.Entry
	config  SchedulerConfig
	metrics *metrics
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(repo store.Repository, logger *logrus.Entry, cfg SchedulerConfig) *Scheduler {
	if logger == nil {
		logger = logrusNop()
	}
	logger = logger.WithField("component", "scheduler")
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))

	return &Scheduler{
		cron:    c,
		repo:    repo,
		logger:  logger,
		config:  cfg,
		metrics: getMetrics(),
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.OutboxCleanupSchedule, s.PurgePublishedOutbox); err != nil {
		s.logger.WithError(err).Error("failed to schedule outbox cleanup job")
	} else {
		s.logger.WithField("schedule", s.config.OutboxCleanupSchedule).Info("scheduled outbox cleanup job")
	}

	if _, err := s.cron.AddFunc(pendingGaugeSchedule, s.RefreshPendingOutbox); err != nil {
		s.logger.WithError(err).Error("failed to schedule outbox backlog job")
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// PurgePublishedOutbox removes rows published longer ago than the retention.
func (s *Scheduler) PurgePublishedOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := s.repo.PurgePublishedOutbox(ctx, s.config.OutboxRetention)
	if err != nil {
		s.logger.WithError(err).Error("outbox cleanup failed")
		return
	}
	s.metrics.outboxPurged.Add(float64(removed))
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("outbox cleanup finished")
	}
}

// RefreshPendingOutbox updates the backlog gauge.
func (s *Scheduler) RefreshPendingOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pending, err := s.repo.CountPendingOutbox(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("outbox backlog count failed")
		return
	}
	s.metrics.outboxPending.Set(float64(pending))
}
