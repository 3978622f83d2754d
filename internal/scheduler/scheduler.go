// Package scheduler re-runs the decision cycle and housekeeping jobs.
//
// Jobs run either on a six-field cron expression or on an IntervalSchedule
// aligned to the arena's trading intervals. A job that is still running when
// its next tick arrives is skipped for that tick.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// IntervalSchedule fires Delay after the start of every Interval. Interval
// starts are aligned to the Unix epoch, the same way the arena numbers them.
type IntervalSchedule struct {
	Interval time.Duration
	Delay    time.Duration
}

// Next implements cron.Schedule
func (s IntervalSchedule) Next(t time.Time) time.Time {
	delay := s.Delay % s.Interval
	next := t.Truncate(s.Interval).Add(delay)
	if !next.After(t) {
		next = next.Add(s.Interval)
	}
	return next
}

// Scheduler runs jobs on their schedules
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler. Cron expressions use six fields (with seconds).
func New(log zerolog.Logger) *Scheduler {
	l := log.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: l})),
		),
		log: l,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron expression, e.g. "30 */15 * * * *" for
// 30 seconds into every quarter hour.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if _, err := s.cron.AddJob(schedule, s.wrap(job)); err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// AddIntervalJob registers a job that runs once per arena interval.
func (s *Scheduler) AddIntervalJob(schedule IntervalSchedule, job Job) error {
	if schedule.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", schedule.Interval)
	}
	s.cron.Schedule(schedule, s.wrap(job))

	s.log.Info().
		Dur("interval", schedule.Interval).
		Dur("delay", schedule.Delay).
		Time("next_run", schedule.Next(time.Now())).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

func (s *Scheduler) wrap(job Job) cron.FuncJob {
	return func() {
		started := time.Now()
		s.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Dur("took", time.Since(started)).
				Msg("Job failed")
			return
		}
		s.log.Debug().
			Str("job", job.Name()).
			Dur("took", time.Since(started)).
			Msg("Job completed")
	}
}

// cronLogger adapts zerolog to cron.Logger. Skipped ticks are reported by
// cron at info level and logged here as warnings.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.log.Warn().Msg("Previous run still in progress, skipping tick")
		return
	}
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
