// Package jobs schedules the periodic daemon health check and the
// transaction reconciliation pass.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/metrics"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/system"
	"github.com/AgentGrid-Network/hosting_layer/pkg/logger"
)

// JobFunc is one schedulable unit of work.
type JobFunc func(ctx context.Context) error

// Runner owns the cron instance and the in-flight guards. Overlapping runs of
// the same job within one process are skipped; cross-process overlap is out of
// scope here.
type Runner struct {
	cron *cron.Cron
	log  *logger.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*Runner)(nil)

// NewRunner creates an empty runner.
func NewRunner(log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDefault("jobs")
	}
	return &Runner{cron: cron.New(), log: log}
}

// Register binds a job to a cron schedule expression.
func (r *Runner) Register(name, schedule string, job JobFunc) error {
	var inFlight atomic.Bool

	_, err := r.cron.AddFunc(schedule, func() {
		if !inFlight.CompareAndSwap(false, true) {
			r.log.Warnf("job %s still running; tick skipped", name)
			return
		}
		defer inFlight.Store(false)

		ctx := r.runContext()
		if ctx == nil {
			return
		}

		started := time.Now()
		if err := job(ctx); err != nil {
			r.log.WithError(err).Warnf("job %s failed", name)
		}
		metrics.ObserveJob(name, time.Since(started).Seconds())
	})
	if err != nil {
		return fmt.Errorf("register job %s with schedule %q: %w", name, schedule, err)
	}
	return nil
}

func (r *Runner) runContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	return r.ctx
}

func (r *Runner) Name() string { return "job-runner" }

func (r *Runner) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.ctx = runCtx
	r.cancel = cancel
	r.running = true
	r.cron.Start()
	r.log.Info("job runner started")
	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
