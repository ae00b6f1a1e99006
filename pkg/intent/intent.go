// Package intent turns a free-text query into a classified intent with its
// slots, using a single language model call.
package intent

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/harrisonrobin/aide/pkg/taskstore"
)

// Kind is the closed set of things a query can ask for.
type Kind string

const (
	AddTask                  Kind = "add_task"
	GetTasks                 Kind = "get_tasks"
	UpdateTaskStatus         Kind = "update_task_status"
	DeleteTask               Kind = "delete_task"
	GetEmails                Kind = "get_emails"
	GetAgenda                Kind = "get_agenda"
	AddEvent                 Kind = "add_event"
	DeleteEvent              Kind = "delete_event"
	GetGeneralRecommendation Kind = "get_general_recommendation"
	GetUrgentRecommendation  Kind = "get_urgent_recommendation"
	Unknown                  Kind = "unknown"
)

// Kinds lists every intent in prompt order.
var Kinds = []Kind{
	GetEmails, GetAgenda, AddEvent, DeleteEvent,
	AddTask, GetTasks, UpdateTaskStatus, DeleteTask,
	GetGeneralRecommendation, GetUrgentRecommendation, Unknown,
}

func (k Kind) valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Slots are the structured values extracted along with the intent. Absent
// values are empty.
type Slots struct {
	Summary  string
	Date     string // YYYY-MM-DD
	Priority int    // 1..3, always set
	Status   taskstore.Status
}

// Result is the outcome of a classification: either a known intent with its
// slots, or unrecognized. The zero value is unrecognized.
type Result struct {
	kind  Kind
	slots Slots
}

// Unrecognized is the result used whenever nothing usable came back.
func Unrecognized() Result {
	return Result{kind: Unknown, slots: Slots{Priority: taskstore.PriorityLow}}
}

// Known builds a result for k. Used by tests and callers that bypass the model.
func Known(k Kind, s Slots) Result {
	if !k.valid() || k == Unknown {
		return Unrecognized()
	}
	if s.Priority < taskstore.PriorityHigh || s.Priority > taskstore.PriorityLow {
		s.Priority = taskstore.PriorityLow
	}
	return Result{kind: k, slots: s}
}

// Kind is Unknown for unrecognized results.
func (r Result) Kind() Kind {
	if r.kind == "" {
		return Unknown
	}
	return r.kind
}

func (r Result) Recognized() bool {
	return r.Kind() != Unknown
}

func (r Result) Slots() Slots {
	s := r.slots
	if s.Priority == 0 {
		s.Priority = taskstore.PriorityLow
	}
	return s
}

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type rawRecord struct {
	Intent   *string         `json:"intent"`
	Summary  json.RawMessage `json:"summary"`
	Date     json.RawMessage `json:"date"`
	Priority json.RawMessage `json:"priority"`
	Status   json.RawMessage `json:"status"`
}

// decode validates a JSON object against the slot schema. A missing or
// unknown intent yields Unrecognized; ill-typed optional slots are dropped.
func decode(span string) Result {
	var raw rawRecord
	if err := json.Unmarshal([]byte(span), &raw); err != nil || raw.Intent == nil {
		return Unrecognized()
	}
	k := Kind(strings.ToLower(strings.TrimSpace(*raw.Intent)))
	if !k.valid() || k == Unknown {
		return Unrecognized()
	}

	var s Slots
	s.Summary = strings.TrimSpace(rawString(raw.Summary))
	if d := strings.TrimSpace(rawString(raw.Date)); isoDateRe.MatchString(d) {
		s.Date = d
	}
	s.Priority = rawPriority(raw.Priority)
	if st, err := taskstore.ParseStatus(rawString(raw.Status)); err == nil {
		s.Status = st
	}
	return Known(k, s)
}

func rawString(m json.RawMessage) string {
	if len(m) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m, &s); err != nil {
		return ""
	}
	return s
}

func rawPriority(m json.RawMessage) int {
	m = bytes.TrimSpace(m)
	if len(m) == 0 || string(m) == "null" {
		return taskstore.PriorityLow
	}
	var n json.Number
	if err := json.Unmarshal(m, &n); err != nil {
		var s string
		if err := json.Unmarshal(m, &s); err != nil {
			return taskstore.PriorityLow
		}
		n = json.Number(strings.TrimSpace(s))
	}
	p, err := strconv.Atoi(n.String())
	if err != nil || p < taskstore.PriorityHigh || p > taskstore.PriorityLow {
		return taskstore.PriorityLow
	}
	return p
}
