package deployer

import (
	"context"
	"sync"

	"github.com/AgentGrid-Network/hosting_layer/internal/app/domain/daemon"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/metrics"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/queue"
	"github.com/AgentGrid-Network/hosting_layer/internal/app/system"
	"github.com/AgentGrid-Network/hosting_layer/pkg/logger"
)

// Worker consumes deploy tasks and issues the corresponding calls to the
// remote daemon manager. A failed call is not retried inline; the next
// health-check tick re-issues or times the deploy out.
type Worker struct {
	service *Service
	tasks   queue.TaskQueue
	log     *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Worker)(nil)

// NewWorker creates a queue worker bound to the deployer service.
func NewWorker(service *Service, tasks queue.TaskQueue, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewDefault("deploy-worker")
	}
	return &Worker{service: service, tasks: tasks, log: log}
}

func (w *Worker) Name() string { return "deploy-worker" }

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			task, err := w.tasks.Dequeue(runCtx)
			if err != nil {
				if runCtx.Err() != nil {
					return
				}
				w.log.WithError(err).Warn("dequeue deploy task failed")
				continue
			}
			w.process(runCtx, task)
			if depth, err := w.tasks.Len(runCtx); err == nil {
				metrics.SetQueueDepth(depth)
			}
		}
	}()

	w.log.Info("deploy worker started")
	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// process executes one deploy task. Processing the same task twice is safe:
// the remote manager treats start/redeploy of a running daemon as a no-op and
// the status guards below skip stale tasks.
func (w *Worker) process(ctx context.Context, task queue.Task) {
	d, err := w.service.daemons.GetDaemon(ctx, task.DaemonID)
	if err != nil {
		w.log.WithError(err).Warnf("deploy task %s for unknown daemon %s", task.Kind, task.DaemonID)
		metrics.DeployTask(string(task.Kind), "error")
		return
	}

	switch task.Kind {
	case queue.TaskStart:
		if d.Status != daemon.StatusReadyToStart {
			metrics.DeployTask(string(task.Kind), "skipped")
			return
		}
		if err := w.service.manager.Start(ctx, d.OrgID, d.ServiceID, d.Config); err != nil {
			// Daemon stays READY_TO_START; the health check re-issues the start.
			w.failTask(task, d, err)
			return
		}
		_, err = w.service.transition(ctx, d, daemon.StatusStarting)

	case queue.TaskRedeploy:
		if d.Status != daemon.StatusRestarting {
			metrics.DeployTask(string(task.Kind), "skipped")
			return
		}
		if err := w.service.manager.Redeploy(ctx, d.OrgID, d.ServiceID, d.Config); err != nil {
			w.failTask(task, d, err)
			return
		}
		// Stays RESTARTING until the health check observes the rolled daemon.

	case queue.TaskStop:
		if d.Status != daemon.StatusDeleting {
			metrics.DeployTask(string(task.Kind), "skipped")
			return
		}
		if err := w.service.manager.Stop(ctx, d.OrgID, d.ServiceID); err != nil {
			w.failTask(task, d, err)
			return
		}
		_, err = w.service.transition(ctx, d, daemon.StatusDown)
		if err == nil {
			err = w.service.markHostedStatus(ctx, d.ID, daemon.StatusDown)
		}

	default:
		w.log.Warnf("unknown deploy task kind %q", task.Kind)
		metrics.DeployTask(string(task.Kind), "error")
		return
	}

	if err != nil {
		w.log.WithError(err).Warnf("persist state after %s task for daemon %s", task.Kind, d.ID)
		metrics.DeployTask(string(task.Kind), "error")
		return
	}
	metrics.DeployTask(string(task.Kind), "ok")
}

func (w *Worker) failTask(task queue.Task, d daemon.Daemon, err error) {
	metrics.ManagerFailure()
	metrics.DeployTask(string(task.Kind), "error")
	w.log.WithError(err).Warnf("%s call failed for daemon %s (status %s)", task.Kind, d.ID, d.Status)
}
