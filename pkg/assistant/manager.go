// Package assistant routes user queries to the task store, the calendar, the
// mailbox or free-form chat according to the intent the model extracts, and
// resolves fuzzy references to tasks and events.
package assistant

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/aide/pkg/email"
	"github.com/harrisonrobin/aide/pkg/google"
	"github.com/harrisonrobin/aide/pkg/intent"
	"github.com/harrisonrobin/aide/pkg/llm"
	"github.com/harrisonrobin/aide/pkg/taskstore"
	"go.uber.org/zap"
)

const (
	dateLayout       = "2006-01-02"
	agendaLimit      = 10
	eventSearchLimit = 50
	defaultEmails    = 5
	chatApology      = "Sorry, I'm not sure I understand. Could you rephrase?"
)

type TaskStore interface {
	Add(ctx context.Context, nt taskstore.NewTask) (taskstore.Task, error)
	List(ctx context.Context, statuses ...taskstore.Status) ([]taskstore.Task, error)
	UpdateStatus(ctx context.Context, id int64, status taskstore.Status) error
	Delete(ctx context.Context, id int64) error
}

type Calendar interface {
	ListUpcoming(ctx context.Context, limit int) ([]google.Event, error)
	CreateAllDay(ctx context.Context, summary, date string) (google.Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

type Emails interface {
	AnalyzeRecent(ctx context.Context, limit int) ([]email.Analysis, error)
}

type Classifier interface {
	Classify(ctx context.Context, query string, ref time.Time) intent.Result
}

// Reply is the answer to one query. Selection is set when the query named
// several items and the user has to pick one with Resolve.
type Reply struct {
	Text      string     `json:"text"`
	Selection *Selection `json:"selection,omitempty"`
}

// Deps are the collaborators of a Manager. Calendar and Emails may be nil
// when those integrations are not configured.
type Deps struct {
	Tasks      TaskStore
	Calendar   Calendar
	Emails     Emails
	Classifier Classifier
	Generator  llm.Generator
	Logger     *zap.Logger
	// EmailLimit is how many recent messages get_emails analyses.
	EmailLimit int
	Now        func() time.Time
}

// Manager dispatches classified queries.
type Manager struct {
	tasks      TaskStore
	calendar   Calendar
	emails     Emails
	classifier Classifier
	gen        llm.Generator
	logger     *zap.Logger
	emailLimit int
	now        func() time.Time
}

func New(d Deps) *Manager {
	m := &Manager{
		tasks:      d.Tasks,
		calendar:   d.Calendar,
		emails:     d.Emails,
		classifier: d.Classifier,
		gen:        d.Generator,
		logger:     d.Logger,
		emailLimit: d.EmailLimit,
		now:        d.Now,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.emailLimit <= 0 {
		m.emailLimit = defaultEmails
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Handle answers query for session. Any selection left pending by a previous
// query is discarded first.
func (m *Manager) Handle(ctx context.Context, s *Session, query string) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = nil

	res := m.classifier.Classify(ctx, query, m.now())
	slots := res.Slots()
	m.logger.Info("handling query", zap.String("session", s.ID), zap.String("intent", string(res.Kind())))

	switch res.Kind() {
	case intent.AddTask:
		return text(m.addTask(ctx, slots))
	case intent.GetTasks:
		return text(m.listTasks(ctx, slots.Status))
	case intent.UpdateTaskStatus:
		if slots.Summary == "" || slots.Status == "" {
			return text("I need both the task and its new status to update it.")
		}
		return m.selectTask(ctx, s, ActionUpdateTask, slots.Summary, slots.Status)
	case intent.DeleteTask:
		if slots.Summary == "" {
			return text("I couldn't tell which task to delete.")
		}
		return m.selectTask(ctx, s, ActionDeleteTask, slots.Summary, "")
	case intent.GetEmails:
		if m.emails == nil {
			return text("Email is not configured.")
		}
		return text(formatEmails(m.recentEmails(ctx)))
	case intent.GetAgenda:
		if m.calendar == nil {
			return text("The calendar is not configured.")
		}
		return text(formatEvents(m.upcoming(ctx, agendaLimit)))
	case intent.AddEvent:
		return text(m.addEvent(ctx, slots))
	case intent.DeleteEvent:
		if slots.Summary == "" {
			return text("I couldn't tell which event to delete.")
		}
		return m.selectEvent(ctx, s, slots.Summary)
	case intent.GetGeneralRecommendation:
		return text(m.recommend(ctx, false))
	case intent.GetUrgentRecommendation:
		return text(m.recommend(ctx, true))
	}
	return text(m.chat(ctx, query))
}

// Resolve applies the pending selection of session to its choice-th
// candidate (1-based). An out-of-range choice leaves the selection pending.
func (m *Manager) Resolve(ctx context.Context, s *Session, token string, choice int) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel := s.selection
	if sel == nil {
		return Reply{}, ErrNoSelection
	}
	if sel.Token != token {
		return Reply{}, ErrUnknownToken
	}
	if choice < 1 || choice > len(sel.Candidates) {
		return Reply{}, fmt.Errorf("%w: pick a number between 1 and %d", ErrChoiceOutOfRange, len(sel.Candidates))
	}
	s.selection = nil
	return text(m.apply(ctx, sel.Action, sel.status, sel.Candidates[choice-1])), nil
}

func text(s string) Reply { return Reply{Text: s} }

func (m *Manager) addTask(ctx context.Context, slots intent.Slots) string {
	if slots.Summary == "" {
		return "I couldn't tell which task to add."
	}
	nt := taskstore.NewTask{
		Description: slots.Summary,
		Priority:    slots.Priority,
		Source:      taskstore.SourceManual,
	}
	if slots.Date != "" {
		due, err := time.ParseInLocation(dateLayout+" 15:04:05", slots.Date+" 23:59:59", m.now().Location())
		if err == nil {
			nt.DueDate = &due
		}
	}
	if _, err := m.tasks.Add(ctx, nt); err != nil {
		m.logger.Error("could not add task", zap.String("summary", slots.Summary), zap.Error(err))
		return fmt.Sprintf("Sorry, I could not add the task '%s'.", slots.Summary)
	}
	return fmt.Sprintf("Task '%s' added.", slots.Summary)
}

func (m *Manager) listTasks(ctx context.Context, status taskstore.Status) string {
	statuses := taskstore.OpenStatuses
	if status != "" {
		statuses = []taskstore.Status{status}
	}
	tasks, err := m.tasks.List(ctx, statuses...)
	if err != nil {
		m.logger.Error("could not list tasks", zap.Error(err))
		return "Sorry, I could not read your tasks."
	}
	return formatTasks(tasks)
}

func (m *Manager) addEvent(ctx context.Context, slots intent.Slots) string {
	if slots.Summary == "" || slots.Date == "" {
		return "I'm missing information: I need the event name and its date."
	}
	if m.calendar == nil {
		return "The calendar is not configured."
	}
	if _, err := m.calendar.CreateAllDay(ctx, slots.Summary, slots.Date); err != nil {
		m.logger.Error("could not create event", zap.String("summary", slots.Summary), zap.Error(err))
		return fmt.Sprintf("Sorry, I could not add the event '%s'.", slots.Summary)
	}
	return fmt.Sprintf("Event '%s' added on %s.", slots.Summary, slots.Date)
}

func (m *Manager) chat(ctx context.Context, query string) string {
	answer := llm.Complete(ctx, m.gen, "Answer the following question concisely: "+query, m.logger)
	if answer == "" {
		return chatApology
	}
	return answer
}

func (m *Manager) recentEmails(ctx context.Context) []email.Analysis {
	if m.emails == nil {
		return nil
	}
	analyses, err := m.emails.AnalyzeRecent(ctx, m.emailLimit)
	if err != nil {
		m.logger.Warn("could not analyse emails", zap.Error(err))
		return nil
	}
	return analyses
}

func (m *Manager) upcoming(ctx context.Context, limit int) []google.Event {
	if m.calendar == nil {
		return nil
	}
	events, err := m.calendar.ListUpcoming(ctx, limit)
	if err != nil {
		m.logger.Warn("could not list upcoming events", zap.Error(err))
		return nil
	}
	return events
}

func (m *Manager) selectTask(ctx context.Context, s *Session, action Action, keyword string, status taskstore.Status) Reply {
	tasks, err := m.tasks.List(ctx, taskstore.OpenStatuses...)
	if err != nil {
		m.logger.Error("could not list tasks", zap.Error(err))
		return text("Sorry, I could not read your tasks.")
	}
	cands := make([]Candidate, len(tasks))
	for i, t := range tasks {
		cands[i] = Candidate{ID: strconv.FormatInt(t.ID, 10), Label: t.Description, Source: SourceTask}
	}
	return m.disambiguate(ctx, s, action, status, keyword, cands, "task")
}

func (m *Manager) selectEvent(ctx context.Context, s *Session, keyword string) Reply {
	if m.calendar == nil {
		return text("The calendar is not configured.")
	}
	events := m.upcoming(ctx, eventSearchLimit)
	cands := make([]Candidate, len(events))
	for i, e := range events {
		cands[i] = Candidate{ID: e.ID, Label: e.Summary, Source: SourceAgenda}
	}
	return m.disambiguate(ctx, s, ActionDeleteEvent, "", keyword, cands, "event")
}

// disambiguate acts on a single match, reports none, and otherwise leaves a
// selection pending on the session.
func (m *Manager) disambiguate(ctx context.Context, s *Session, action Action, status taskstore.Status, keyword string, cands []Candidate, noun string) Reply {
	matches := Match(cands, keyword)
	switch len(matches) {
	case 0:
		return text(fmt.Sprintf("No %s matching '%s' found.", noun, keyword))
	case 1:
		return text(m.apply(ctx, action, status, matches[0]))
	}
	sel := &Selection{
		Token:      uuid.NewString(),
		Action:     action,
		Candidates: matches,
		status:     status,
	}
	s.selection = sel
	out := *sel
	return Reply{Text: formatSelection(keyword, sel), Selection: &out}
}

// Match returns the candidates whose label contains keyword, ignoring case,
// in input order.
func Match(cands []Candidate, keyword string) []Candidate {
	kw := strings.ToLower(keyword)
	var out []Candidate
	for _, c := range cands {
		if strings.Contains(strings.ToLower(c.Label), kw) {
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) apply(ctx context.Context, action Action, status taskstore.Status, c Candidate) string {
	switch action {
	case ActionUpdateTask, ActionDeleteTask:
		id, err := strconv.ParseInt(c.ID, 10, 64)
		if err != nil {
			return fmt.Sprintf("Sorry, '%s' has an invalid id.", c.Label)
		}
		if action == ActionUpdateTask {
			if err := m.tasks.UpdateStatus(ctx, id, status); err != nil {
				m.logger.Error("could not update task", zap.Int64("id", id), zap.Error(err))
				return fmt.Sprintf("Sorry, I could not update the task '%s'.", c.Label)
			}
			return fmt.Sprintf("Task '%s' is now %s.", c.Label, status.Label())
		}
		if err := m.tasks.Delete(ctx, id); err != nil {
			m.logger.Error("could not delete task", zap.Int64("id", id), zap.Error(err))
			return fmt.Sprintf("Sorry, I could not delete the task '%s'.", c.Label)
		}
		return fmt.Sprintf("Task '%s' deleted.", c.Label)
	case ActionDeleteEvent:
		if err := m.calendar.DeleteEvent(ctx, c.ID); err != nil {
			m.logger.Error("could not delete event", zap.String("id", c.ID), zap.Error(err))
			return fmt.Sprintf("Sorry, I could not delete the event '%s'.", c.Label)
		}
		return fmt.Sprintf("Event '%s' deleted.", c.Label)
	}
	return "Sorry, I don't know how to do that."
}
