package tasks

import (
	"context"

	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Executor implements Manager on top of a Store.
type Executor struct {
	store  Store
	logger *zap.Logger
}

var _ Manager = (*Executor)(nil)

// NewExecutor returns an Executor keeping its tasks in store. A nil logger
// means the global one.
func NewExecutor(store Store, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.L().Named("tasks")
	}
	return &Executor{store: store, logger: logger}
}

func (e *Executor) CreateTask(ctx context.Context, title, description string) (int, error) {
	id, err := e.store.NextID(ctx)
	if err != nil {
		return 0, errors.Annotate(err, "allocating task id")
	}
	task := Task{ID: id, Title: title, Description: description, Status: StatusOpen}
	if err := e.store.Put(ctx, task); err != nil {
		return 0, errors.Annotatef(err, "storing task %d", id)
	}
	e.logger.Debug("task created", zap.Int("id", id), zap.String("title", title))
	return id, nil
}

func (e *Executor) AssignTask(ctx context.Context, id int, assignee string) error {
	return e.update(ctx, id, func(t *Task) {
		t.Assignee = assignee
	})
}

func (e *Executor) UpdateStatus(ctx context.Context, id int, status Status) error {
	return e.update(ctx, id, func(t *Task) {
		t.Status = status
	})
}

func (e *Executor) AssignedTasks(ctx context.Context, assignee string) ([]Task, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "listing tasks")
	}
	assigned := make([]Task, 0)
	for _, t := range all {
		if t.Assignee == assignee {
			assigned = append(assigned, t)
		}
	}
	return assigned, nil
}

func (e *Executor) update(ctx context.Context, id int, mutate func(*Task)) error {
	task, ok, err := e.store.Get(ctx, id)
	if err != nil {
		return errors.Annotatef(err, "reading task %d", id)
	}
	if !ok {
		return &NotFoundError{ID: id}
	}
	mutate(&task)
	if err := e.store.Put(ctx, task); err != nil {
		return errors.Annotatef(err, "storing task %d", id)
	}
	e.logger.Debug("task updated", zap.Stringer("task", task))
	return nil
}
