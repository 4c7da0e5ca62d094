package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a periodic task run by the Scheduler.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler runs periodic jobs on a cron until its context is cancelled.
// A run that is still in progress when the next tick fires is skipped.
type Scheduler struct {
	logger *zap.Logger
	jobs   []Job
}

func NewScheduler(logger *zap.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{logger: logger, jobs: jobs}
}

// Run blocks until ctx is done, then waits for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLog := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	for _, job := range s.jobs {
		if job.Every < time.Second {
			return fmt.Errorf("schedule %s: interval %s is below one second", job.Name, job.Every)
		}
		_, err := c.AddFunc(fmt.Sprintf("@every %s", job.Every), func() {
			if err := job.Run(ctx); err != nil {
				s.logger.Error("❌ Scheduled job failed", zap.String("job", job.Name), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
		s.logger.Info("Scheduled job", zap.String("job", job.Name), zap.Duration("every", job.Every))
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
