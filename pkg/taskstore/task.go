package taskstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3

	// SourceManual tags tasks created from a user query.
	SourceManual = "manuel"
)

var (
	ErrInvalidStatus   = errors.New("invalid task status")
	ErrInvalidPriority = errors.New("invalid task priority")
	ErrNotFound        = errors.New("task not found")
)

// OpenStatuses are the statuses a user still acts on.
var OpenStatuses = []Status{StatusTodo, StatusInProgress}

var statusAliases = map[string]Status{
	"todo":        StatusTodo,
	"to do":       StatusTodo,
	"to-do":       StatusTodo,
	"pending":     StatusTodo,
	"à faire":     StatusTodo,
	"a faire":     StatusTodo,
	"in_progress": StatusInProgress,
	"in progress": StatusInProgress,
	"in-progress": StatusInProgress,
	"started":     StatusInProgress,
	"en cours":    StatusInProgress,
	"done":        StatusDone,
	"completed":   StatusDone,
	"finished":    StatusDone,
	"terminé":     StatusDone,
	"termine":     StatusDone,
	"fait":        StatusDone,
}

// ParseStatus maps a canonical status or one of its English/French labels to a Status.
func ParseStatus(s string) (Status, error) {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Label is the human-readable form used in listings.
func (s Status) Label() string {
	switch s {
	case StatusTodo:
		return "to do"
	case StatusInProgress:
		return "in progress"
	case StatusDone:
		return "done"
	}
	return string(s)
}

// PriorityLabel names a 1..3 priority.
func PriorityLabel(p int) string {
	switch p {
	case PriorityHigh:
		return "High"
	case PriorityMedium:
		return "Medium"
	case PriorityLow:
		return "Low"
	}
	return "N/A"
}

// Task is one row of the tasks table.
type Task struct {
	ID          int64
	Description string
	Status      Status
	Priority    int
	CreatedAt   time.Time
	DueDate     *time.Time
	Source      string
}

// NewTask carries the caller-controlled fields of an insert.
type NewTask struct {
	Description string
	Priority    int
	DueDate     *time.Time
	Source      string
}
