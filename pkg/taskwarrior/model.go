package taskwarrior

import (
	"fmt"
	"strings"
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusWaiting   = "waiting"
	StatusDeleted   = "deleted"
	StatusRecurring = "recurring"
)

// Time is a Taskwarrior timestamp, always UTC on the wire.
type Time struct {
	time.Time
}

const timeLayout = "20060102T150405Z"

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "0" {
		t.Time = time.Time{}
		return nil
	}

	parsed, err := time.Parse(timeLayout, s)
	if err != nil {
		return fmt.Errorf("failed to parse Taskwarrior time string '%s': %w", s, err)
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + t.Time.Format(timeLayout) + `"`), nil
}

// Task is the subset of a `task export` record the importer reads.
type Task struct {
	UUID        string   `json:"uuid"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority,omitempty"`
	Project     string   `json:"project,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Due         *Time    `json:"due,omitempty"`
	Start       *Time    `json:"start,omitempty"`
	End         *Time    `json:"end,omitempty"`
}

// Started reports whether the task is being worked on.
func (t Task) Started() bool {
	return t.Start != nil && !t.Start.IsZero()
}
