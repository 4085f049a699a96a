package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/blogwatch/internal/blog"
)

// ErrTaskNotFound is returned for unknown task ids.
var ErrTaskNotFound = fmt.Errorf("task %w", blog.ErrNotFound)

// TaskStore tracks queued task status in memory.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]blog.Task
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]blog.Task)}
}

// CreateTask stores a new task.
func (s *TaskStore) CreateTask(_ context.Context, task blog.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return errors.New("task already exists")
	}
	s.tasks[task.ID] = task
	return nil
}

// UpdateTask moves a task to status, stamping start and finish times.
func (s *TaskStore) UpdateTask(_ context.Context, id string, status blog.TaskStatus, errText string, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	now := time.Now().UTC()
	task.Status = status
	task.Error = errText
	if result != nil {
		task.Result = result
	}
	if status == blog.TaskRunning && task.StartedAt == nil {
		task.StartedAt = &now
	}
	if status.Terminal() {
		task.FinishedAt = &now
	}
	s.tasks[id] = task
	return nil
}

// GetTask fetches a task by id.
func (s *TaskStore) GetTask(_ context.Context, id string) (blog.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return blog.Task{}, ErrTaskNotFound
	}
	return task, nil
}
