package tasks

import (
	"context"
	"fmt"

	"remoteobj/remote"
)

// Manager is the remote interface of the task board.
type Manager interface {
	// CreateTask adds an OPEN, unassigned task and returns its id. Ids start
	// at 1 and increase by one.
	CreateTask(ctx context.Context, title, description string) (int, error)

	// AssignTask sets the assignee of task id.
	AssignTask(ctx context.Context, id int, assignee string) error

	// UpdateStatus sets the status of task id.
	UpdateStatus(ctx context.Context, id int, status Status) error

	// AssignedTasks lists the tasks assigned to assignee, by id.
	AssignedTasks(ctx context.Context, assignee string) ([]Task, error)
}

// KindNotFound is the error kind NotFoundError travels under.
const KindNotFound = "tasks.NotFound"

// NotFoundError reports an operation on a task id that does not exist.
type NotFoundError struct {
	ID int `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %d not found", e.ID)
}

func init() {
	remote.RegisterErrorType[*NotFoundError](KindNotFound)
}
