// Package scheduler runs the periodic servicing sweeps: overdue evaluation,
// upcoming payment reminders and notice delivery.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/config"
	"github.com/Dan9191/loan-servicing/internal/service"
)

// jobTimeout bounds a single run so a stuck store cannot hold the job forever.
const jobTimeout = 30 * time.Minute

// Jobs is the part of the engine the scheduler drives.
type Jobs interface {
	EvaluateOverdue(ctx context.Context, asOf time.Time) (service.EvaluationResult, error)
	ScheduleReminders(ctx context.Context, asOf time.Time) (int, error)
	DeliverQueued(ctx context.Context, limit int) (service.DeliveryResult, error)
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron      *cron.Cron
	jobs      Jobs
	log       *logrus.Logger
	batchSize int
	now       func() time.Time
}

// New registers the three sweeps with the configured cron specs. A run that
// is still going when its next tick fires is skipped.
func New(cfg *config.Config, jobs Jobs, log *logrus.Logger) (*Scheduler, error) {
	logger := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		jobs:      jobs,
		log:       log,
		batchSize: cfg.DeliveryBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}

	specs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"evaluate_overdue", cfg.EvaluateCron, s.EvaluateOverdue},
		{"schedule_reminders", cfg.ReminderCron, s.ScheduleReminders},
		{"deliver_notices", cfg.DeliveryCron, s.DeliverQueued},
	}
	for _, j := range specs {
		run := j.run
		if _, err := s.cron.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			run(ctx)
		}); err != nil {
			return nil, fmt.Errorf("failed to schedule %s (%q): %w", j.name, j.spec, err)
		}
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infof("Scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("Scheduler stopped before running jobs finished")
	}
}

// EvaluateOverdue runs one overdue sweep as of now.
func (s *Scheduler) EvaluateOverdue(ctx context.Context) {
	start := s.now()
	res, err := s.jobs.EvaluateOverdue(ctx, start)
	if err != nil {
		s.log.Errorf("Overdue evaluation failed: %v", err)
		return
	}
	entry := s.log.WithFields(logrus.Fields{
		"transitioned":      len(res.Transitioned),
		"goals_updated":     len(res.GoalsUpdated),
		"penalties_updated": res.PenaltiesUpdated,
		"notices_queued":    res.NoticesQueued,
		"failed":            len(res.Failed),
		"duration":          s.now().Sub(start).String(),
	})
	if len(res.Failed) > 0 {
		entry.Warn("Overdue evaluation finished with failures")
		return
	}
	entry.Info("Overdue evaluation finished")
}

// ScheduleReminders queues today's upcoming payment reminders.
func (s *Scheduler) ScheduleReminders(ctx context.Context) {
	queued, err := s.jobs.ScheduleReminders(ctx, s.now())
	if err != nil {
		s.log.Errorf("Reminder scheduling failed: %v", err)
		return
	}
	s.log.WithField("queued", queued).Info("Payment reminders scheduled")
}

// DeliverQueued sends one batch of due notices.
func (s *Scheduler) DeliverQueued(ctx context.Context) {
	res, err := s.jobs.DeliverQueued(ctx, s.batchSize)
	if err != nil {
		s.log.Errorf("Notice delivery failed: %v", err)
		return
	}
	if res.Sent == 0 && res.Retried == 0 && len(res.Failed) == 0 {
		s.log.Debug("No notices to deliver")
		return
	}
	s.log.WithFields(logrus.Fields{
		"sent":    res.Sent,
		"retried": res.Retried,
		"failed":  len(res.Failed),
	}).Info("Notice delivery finished")
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
