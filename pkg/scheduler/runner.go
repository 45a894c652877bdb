package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	applogger "AgroPulse/pkg/logger"
)

// Locker guards a job across replicas. pkg/cache.Service satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Runner runs jobs on six-field cron specs (seconds first).
type Runner struct {
	cron    *cron.Cron
	log     *applogger.Logger
	baseCtx context.Context
}

func New(log *applogger.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:     log.With(applogger.String("component", "scheduler")),
		baseCtx: baseCtx,
	}
}

// Add registers job under spec.
func (r *Runner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() { job(r.baseCtx) })
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return id, nil
}

// Next is the next activation of id, zero when unknown.
func (r *Runner) Next(id cron.EntryID) time.Time {
	return r.cron.Entry(id).Next
}

func (r *Runner) Start() {
	r.log.Info("Cron started", applogger.Int("entries", len(r.cron.Entries())))
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("Cron stopped")
}

// Locked wraps job so only the holder of key runs it. When locker is nil the
// job always runs. A lock that cannot be taken skips the run.
func Locked(locker Locker, key string, ttl time.Duration, log *applogger.Logger, job func(context.Context) error) func(context.Context) {
	if log == nil {
		log = applogger.NewNop()
	}
	return func(ctx context.Context) {
		if locker != nil {
			ok, err := locker.TryLock(ctx, key, ttl)
			if err != nil {
				log.Warn("Job lock failed", applogger.String("job", key), applogger.Error(err))
				return
			}
			if !ok {
				log.Debug("Job already running elsewhere", applogger.String("job", key))
				return
			}
			defer func() {
				if err := locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
					log.Warn("Job unlock failed", applogger.String("job", key), applogger.Error(err))
				}
			}()
		}
		start := time.Now()
		if err := job(ctx); err != nil {
			log.Error("Job failed", applogger.String("job", key), applogger.Duration("took", time.Since(start)), applogger.Error(err))
			return
		}
		log.Info("Job finished", applogger.String("job", key), applogger.Duration("took", time.Since(start)))
	}
}
