// Package queue carries deploy tasks from request handlers to the worker that
// talks to the remote daemon manager. Start/redeploy requests are acknowledged
// immediately and executed out of band; completion is observed later by the
// health-check job, never by the enqueue call.
package queue

import "context"

// TaskKind enumerates deploy task types.
type TaskKind string

const (
	TaskStart    TaskKind = "start"
	TaskRedeploy TaskKind = "redeploy"
	TaskStop     TaskKind = "stop"
)

// Task is one unit of deploy work for a daemon.
type Task struct {
	Kind     TaskKind `json:"kind"`
	DaemonID string   `json:"daemon_id"`
}

// TaskQueue is the transport between controllers and the deploy worker.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available or the context is cancelled.
	Dequeue(ctx context.Context) (Task, error)
	Len(ctx context.Context) (int64, error)
}
