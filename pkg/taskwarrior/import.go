package taskwarrior

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrisonrobin/aide/pkg/taskstore"
	"go.uber.org/zap"
)

// Source tags tasks imported from Taskwarrior.
const Source = "taskwarrior"

// Store is where imported tasks are written.
type Store interface {
	Import(ctx context.Context, entries []taskstore.Entry) ([]taskstore.Task, error)
}

// Summary counts the outcome of an import.
type Summary struct {
	Imported int
	Skipped  int
}

// Convert maps a Taskwarrior task to a store insert and its target status.
// Deleted, waiting and recurring-template tasks are not importable.
func Convert(t Task) (taskstore.NewTask, taskstore.Status, bool) {
	var status taskstore.Status
	switch t.Status {
	case StatusPending:
		status = taskstore.StatusTodo
		if t.Started() {
			status = taskstore.StatusInProgress
		}
	case StatusCompleted:
		status = taskstore.StatusDone
	default:
		return taskstore.NewTask{}, "", false
	}
	if strings.TrimSpace(t.Description) == "" {
		return taskstore.NewTask{}, "", false
	}

	nt := taskstore.NewTask{
		Description: t.Description,
		Priority:    priority(t.Priority),
		Source:      Source,
	}
	if t.Due != nil && !t.Due.IsZero() {
		due := t.Due.Local()
		nt.DueDate = &due
	}
	return nt, status, true
}

func priority(p string) int {
	switch strings.ToUpper(p) {
	case "H":
		return taskstore.PriorityHigh
	case "M":
		return taskstore.PriorityMedium
	}
	return taskstore.PriorityLow
}

// Import writes every importable task to store in one transaction.
func Import(ctx context.Context, store Store, tasks []Task, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var sum Summary
	entries := make([]taskstore.Entry, 0, len(tasks))
	for _, t := range tasks {
		nt, status, ok := Convert(t)
		if !ok {
			logger.Debug("skipping task", zap.String("uuid", t.UUID), zap.String("status", t.Status))
			sum.Skipped++
			continue
		}
		entries = append(entries, taskstore.Entry{Task: nt, Status: status})
	}
	if _, err := store.Import(ctx, entries); err != nil {
		return Summary{}, fmt.Errorf("failed to import taskwarrior tasks: %w", err)
	}
	sum.Imported = len(entries)
	logger.Info("taskwarrior import finished", zap.Int("imported", sum.Imported), zap.Int("skipped", sum.Skipped))
	return sum, nil
}
