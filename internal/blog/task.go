package blog

import (
	"context"
	"time"
)

// TaskKind selects the operation a queued task performs.
type TaskKind string

// Task kinds.
const (
	TaskCheck    TaskKind = "check"
	TaskDiscover TaskKind = "discover"
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

// Task statuses.
const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCanceled
}

// Task is one API-submitted invocation of a core operation.
type Task struct {
	ID          string     `json:"task_id"`
	BlogID      int64      `json:"blog_id"`
	Kind        TaskKind   `json:"kind"`
	Regenerate  bool       `json:"regenerate,omitempty"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	Result      any        `json:"result,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TaskQueue is a bounded FIFO of tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// TaskStore tracks task status for the API.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	UpdateTask(ctx context.Context, id string, status TaskStatus, errText string, result any) error
	GetTask(ctx context.Context, id string) (Task, error)
}
