package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/go-co-op/gocron/v2"

	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// Config holds the daily schedule.
type Config struct {
	Hour       uint
	Minute     uint
	Location   *time.Location
	RunOnStart bool
}

// DefaultConfig runs daily at 18:00 London time and once at start.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		loc = time.UTC
	}
	return Config{Hour: 18, Minute: 0, Location: loc, RunOnStart: true}
}

// Scheduler runs the crawl pass daily at a fixed local time.
type Scheduler struct {
	sched  gocron.Scheduler
	daily  gocron.Job
	runner *Runner
	config Config
	log    *logger.Logger
}

// New creates a scheduler with the daily job registered. It does not run
// anything until Start.
func New(cfg Config, runner *Runner, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Default()
	}
	if cfg.Hour > 23 || cfg.Minute > 59 {
		return nil, fmt.Errorf("invalid schedule time %02d:%02d", cfg.Hour, cfg.Minute)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		sched:  sched,
		runner: runner,
		config: cfg,
		log:    log.WithComponent("scheduler"),
	}

	s.daily, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(cfg.Hour, cfg.Minute, 0))),
		gocron.NewTask(s.run, TriggerSchedule),
		gocron.WithName("daily-crawl"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("failed to schedule daily crawl: %w", err)
	}

	if cfg.RunOnStart {
		_, err = sched.NewJob(
			gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
			gocron.NewTask(s.run, TriggerStartup),
			gocron.WithName("startup-crawl"),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("failed to schedule startup crawl: %w", err)
		}
	}

	return s, nil
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
	next, _ := s.NextRun()
	s.log.Info("scheduler started",
		"at", fmt.Sprintf("%02d:%02d", s.config.Hour, s.config.Minute),
		"timezone", s.config.Location.String(),
		"run_on_start", s.config.RunOnStart,
		"next_run", next,
	)
}

// NextRun returns the next scheduled daily run.
func (s *Scheduler) NextRun() (time.Time, error) {
	return s.daily.NextRun()
}

// Shutdown stops the scheduler and cancels running passes.
func (s *Scheduler) Shutdown() error {
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.log.Info("scheduler stopped")
	return nil
}

// run is the job task. gocron passes the job context first.
func (s *Scheduler) run(ctx context.Context, trigger string) {
	report, err := s.runner.RunOnce(ctx, trigger)
	switch {
	case errors.Is(err, ErrPassInProgress):
		s.log.Info("skipping scheduled pass, another is running", "trigger", trigger)
	case err != nil:
		s.log.WithError(err).Error("scheduled crawl pass failed", "trigger", trigger)
	default:
		s.log.Info("scheduled crawl pass finished",
			"trigger", trigger,
			"persisted", report.Persisted,
			"deactivated", report.Deactivated,
		)
	}
}
