// Package scheduler runs crawl passes on a daily schedule and on demand,
// one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simonhayes51/sbccrawler-sub000/internal/crawler"
	"github.com/simonhayes51/sbccrawler-sub000/internal/storage"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// ErrPassInProgress is returned when a pass is requested while one runs.
var ErrPassInProgress = errors.New("crawl pass already in progress")

// Triggers recorded in the run status.
const (
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerAPI      = "api"
	TriggerCLI      = "cli"
)

// Pass runs one crawl pass.
type Pass interface {
	RunPass(ctx context.Context) (*crawler.PassReport, error)
}

// RunnerConfig holds configuration for the runner.
type RunnerConfig struct {
	// LockTTL bounds how long a crashed process can block other passes.
	LockTTL time.Duration
}

// DefaultRunnerConfig returns default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{LockTTL: 2 * time.Hour}
}

// Runner serialises crawl passes behind the status store's run lock and
// records the outcome of each.
type Runner struct {
	pass    Pass
	status  storage.StatusStore
	cache   storage.CatalogCache
	config  RunnerConfig
	log     *logger.Logger
	now     func() time.Time
	running atomic.Bool
	wg      sync.WaitGroup
	baseCtx context.Context
}

// NewRunner creates a Runner. status and cache may be nil.
func NewRunner(pass Pass, status storage.StatusStore, cache storage.CatalogCache, cfg RunnerConfig, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Default()
	}
	if status == nil {
		status = storage.NewMemoryStatusStore()
	}
	if cache == nil {
		cache = storage.NewNullCacheManager()
	}
	return &Runner{
		pass:    pass,
		status:  status,
		cache:   cache,
		config:  cfg,
		log:     log.WithComponent("runner"),
		now:     time.Now,
		baseCtx: context.Background(),
	}
}

// SetBaseContext sets the context that background passes started by Trigger
// run under. Cancelling it stops them.
func (r *Runner) SetBaseContext(ctx context.Context) {
	r.baseCtx = ctx
}

// Running reports whether this process is running a pass.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Status returns the last recorded run status.
func (r *Runner) Status(ctx context.Context) (storage.RunStatus, error) {
	return r.status.Load(ctx)
}

// RunOnce runs a pass unless one is already running here or in another
// process sharing the status store.
func (r *Runner) RunOnce(ctx context.Context, trigger string) (*crawler.PassReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	defer r.running.Store(false)

	release, err := r.status.AcquireLock(ctx, r.config.LockTTL)
	if errors.Is(err, storage.ErrLockHeld) {
		return nil, ErrPassInProgress
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.log.WithError(err).Warn("failed to release run lock")
		}
	}()

	started := r.now().UTC()
	r.saveStatus(ctx, storage.RunStatus{
		State:     storage.StateRunning,
		Trigger:   trigger,
		StartedAt: &started,
	})
	r.log.Info("crawl pass triggered", "trigger", trigger)

	report, err := r.runSafe(ctx)

	finished := r.now().UTC()
	st := storage.RunStatus{
		State:      storage.StateSucceeded,
		Trigger:    trigger,
		StartedAt:  &started,
		FinishedAt: &finished,
	}
	if report != nil {
		st.PassID = report.PassID
		st.Discovered = report.Discovered
		st.Persisted = report.Persisted
		st.Failed = report.Failed
	}
	if err != nil {
		st.State = storage.StateFailed
		st.Error = err.Error()
	}
	r.saveStatus(context.WithoutCancel(ctx), st)

	if report != nil && (report.Persisted > 0 || report.Deactivated > 0) {
		if cerr := r.cache.InvalidateAll(context.WithoutCancel(ctx)); cerr != nil {
			r.log.WithError(cerr).Warn("failed to invalidate catalog cache")
		}
	}

	return report, err
}

// Trigger starts a pass in the background. It returns ErrPassInProgress
// without starting anything when a pass is already running here.
func (r *Runner) Trigger(trigger string) error {
	if r.Running() {
		return ErrPassInProgress
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.RunOnce(r.baseCtx, trigger); err != nil {
			if errors.Is(err, ErrPassInProgress) {
				r.log.Info("skipped triggered pass, another is running", "trigger", trigger)
				return
			}
			r.log.WithError(err).Error("triggered crawl pass failed", "trigger", trigger)
		}
	}()
	return nil
}

// Wait blocks until background passes started by Trigger have returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) runSafe(ctx context.Context) (report *crawler.PassReport, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.LogPanic(rec)
			err = fmt.Errorf("crawl pass panicked: %v", rec)
		}
	}()
	return r.pass.RunPass(ctx)
}

func (r *Runner) saveStatus(ctx context.Context, st storage.RunStatus) {
	if err := r.status.Save(ctx, st); err != nil {
		r.log.WithError(err).Warn("failed to save run status", "state", st.State)
	}
}
