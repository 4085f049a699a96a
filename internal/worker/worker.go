// Package worker executes queued blog tasks against the watcher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/metrics"
	"github.com/JakeFAU/blogwatch/internal/watcher"
)

// Runner is the slice of the watcher a worker invokes.
type Runner interface {
	CheckBlog(ctx context.Context, blogID int64, opts watcher.CheckOptions) (watcher.CheckResult, error)
	DiscoverAndExtract(ctx context.Context, blogID int64) (watcher.DiscoverResult, error)
}

// Config controls Worker behavior.
type Config struct {
	// TaskTimeout bounds one task. Zero means no limit beyond the caller's.
	TaskTimeout time.Duration
}

// Worker consumes tasks from the queue until its context ends.
type Worker struct {
	id     int
	queue  blog.TaskQueue
	tasks  blog.TaskStore
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue blog.TaskQueue, tasks blog.TaskStore, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		tasks:  tasks,
		runner: runner,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, blog.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", task.ID), zap.Int64("blog_id", task.BlogID))
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task blog.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	log := w.logger.With(zap.String("task_id", task.ID), zap.Int64("blog_id", task.BlogID), zap.String("kind", string(task.Kind)))

	w.update(ctx, log, task.ID, blog.TaskRunning, "", nil)

	runCtx := ctx
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.TaskTimeout)
		defer cancel()
	}
	result, err := w.execute(runCtx, task)

	status := blog.TaskSucceeded
	errText := ""
	switch {
	case err == nil:
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		status, errText = blog.TaskCanceled, err.Error()
	default:
		status, errText = blog.TaskFailed, err.Error()
	}
	metrics.ObserveTask(string(task.Kind), string(status))
	// Status must land even when shutdown canceled the task.
	w.update(context.WithoutCancel(ctx), log, task.ID, status, errText, result)
	if err != nil {
		log.Warn("task finished with error", zap.String("status", string(status)), zap.Error(err))
		return
	}
	log.Info("task finished", zap.String("status", string(status)))
}

func (w *Worker) execute(ctx context.Context, task blog.Task) (any, error) {
	if w.runner == nil {
		return nil, errors.New("no runner configured")
	}
	switch task.Kind {
	case blog.TaskCheck:
		res, err := w.runner.CheckBlog(ctx, task.BlogID, watcher.CheckOptions{Regenerate: task.Regenerate})
		return res, err
	case blog.TaskDiscover:
		res, err := w.runner.DiscoverAndExtract(ctx, task.BlogID)
		return res, err
	default:
		return nil, fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (w *Worker) update(ctx context.Context, log *zap.Logger, id string, status blog.TaskStatus, errText string, result any) {
	if w.tasks == nil {
		return
	}
	if err := w.tasks.UpdateTask(ctx, id, status, errText, result); err != nil {
		log.Error("update task status failed", zap.String("status", string(status)), zap.Error(err))
	}
}
