// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/worker"
)

const enqueueTimeout = 5 * time.Second

// Dispatcher records submitted tasks and fans queue work out to a pool of
// workers.
type Dispatcher struct {
	queue   blog.TaskQueue
	tasks   blog.TaskStore
	ids     blog.IDGenerator
	clock   blog.Clock
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(
	queue blog.TaskQueue,
	tasks blog.TaskStore,
	ids blog.IDGenerator,
	clock blog.Clock,
	workers []*worker.Worker,
) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		tasks:   tasks,
		ids:     ids,
		clock:   clock,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit records a queued task and hands it to the queue. A task that cannot
// be enqueued is marked failed so pollers see a terminal status.
func (d *Dispatcher) Submit(ctx context.Context, blogID int64, kind blog.TaskKind, regenerate bool) (blog.Task, error) {
	switch kind {
	case blog.TaskCheck, blog.TaskDiscover:
	default:
		return blog.Task{}, fmt.Errorf("unknown task kind %q", kind)
	}
	id, err := d.ids.NewID()
	if err != nil {
		return blog.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	task := blog.Task{
		ID:          id,
		BlogID:      blogID,
		Kind:        kind,
		Regenerate:  regenerate,
		Status:      blog.TaskQueued,
		SubmittedAt: d.clock.Now().UTC(),
	}
	if err := d.tasks.CreateTask(ctx, task); err != nil {
		return blog.Task{}, fmt.Errorf("create task: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := d.queue.Enqueue(queueCtx, task); err != nil {
		enqueueErr := fmt.Errorf("queue enqueue: %w", err)
		if updErr := d.tasks.UpdateTask(context.WithoutCancel(ctx), id, blog.TaskFailed, enqueueErr.Error(), nil); updErr != nil {
			return blog.Task{}, errors.Join(enqueueErr, fmt.Errorf("mark task failed: %w", updErr))
		}
		return blog.Task{}, enqueueErr
	}
	return task, nil
}

// GetTask returns the current state of a submitted task.
func (d *Dispatcher) GetTask(ctx context.Context, id string) (blog.Task, error) {
	task, err := d.tasks.GetTask(ctx, id)
	if err != nil {
		return blog.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}
