// Package tasks is a small task board exposed as a remote object: tasks are
// created, assigned to people, moved between statuses and listed per
// assignee.
package tasks

import (
	"fmt"
	"strings"
)

// Status is the state of a task.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusClosed     Status = "CLOSED"
)

// ParseStatus maps a status name, in any case, to a Status. Names other
// than OPEN and CLOSED mean IN_PROGRESS.
func ParseStatus(s string) Status {
	switch {
	case strings.EqualFold(s, string(StatusOpen)):
		return StatusOpen
	case strings.EqualFold(s, string(StatusClosed)):
		return StatusClosed
	}
	return StatusInProgress
}

// Task is one entry on the board.
type Task struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Assignee    string `json:"assignee,omitempty"`
}

func (t Task) String() string {
	return fmt.Sprintf("Task{id=%d, title=%q, description=%q, status=%s, assignee=%q}",
		t.ID, t.Title, t.Description, t.Status, t.Assignee)
}
