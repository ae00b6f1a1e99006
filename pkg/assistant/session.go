package assistant

import (
	"errors"
	"sync"

	"github.com/harrisonrobin/aide/pkg/taskstore"
)

var (
	ErrNoSelection      = errors.New("no selection pending")
	ErrUnknownToken     = errors.New("selection token does not match the pending selection")
	ErrChoiceOutOfRange = errors.New("choice out of range")
)

// Action is the operation a pending selection will perform on the chosen candidate.
type Action string

const (
	ActionUpdateTask  Action = "update_task_status"
	ActionDeleteTask  Action = "delete_task"
	ActionDeleteEvent Action = "delete_event"
)

// Candidate sources.
const (
	SourceTask   = "task"
	SourceAgenda = "agenda"
)

// Candidate is one item offered for selection.
type Candidate struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Source string `json:"source"`
}

// Selection is an ambiguous reference waiting for the user to pick one of
// Candidates by its 1-based position.
type Selection struct {
	Token      string      `json:"token"`
	Action     Action      `json:"action"`
	Candidates []Candidate `json:"candidates"`

	status taskstore.Status
}

// Session holds the conversation state of one user: at most one live
// selection. Handle and Resolve serialize on it.
type Session struct {
	ID string

	mu        sync.Mutex
	selection *Selection
}

func NewSession(id string) *Session {
	return &Session{ID: id}
}

// Pending returns a copy of the live selection, if any.
func (s *Session) Pending() (Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return Selection{}, false
	}
	return *s.selection, true
}
