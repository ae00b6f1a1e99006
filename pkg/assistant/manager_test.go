package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/aide/pkg/email"
	"github.com/harrisonrobin/aide/pkg/google"
	"github.com/harrisonrobin/aide/pkg/intent"
	"github.com/harrisonrobin/aide/pkg/llm"
	"github.com/harrisonrobin/aide/pkg/taskstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var refNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)

type scriptedClassifier struct {
	results []intent.Result
	calls   int
}

func (c *scriptedClassifier) Classify(context.Context, string, time.Time) intent.Result {
	r := c.results[min(c.calls, len(c.results)-1)]
	c.calls++
	return r
}

func classify(results ...intent.Result) *scriptedClassifier {
	return &scriptedClassifier{results: results}
}

type fakeCalendar struct {
	events  []google.Event
	created []string
	deleted []string
	limits  []int
	err     error
}

func (f *fakeCalendar) ListUpcoming(_ context.Context, limit int) ([]google.Event, error) {
	f.limits = append(f.limits, limit)
	return f.events, f.err
}

func (f *fakeCalendar) CreateAllDay(_ context.Context, summary, date string) (google.Event, error) {
	f.created = append(f.created, summary+"@"+date)
	return google.Event{ID: "new", Start: date, Summary: summary}, f.err
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

type fakeEmails struct {
	analyses []email.Analysis
	err      error
}

func (f fakeEmails) AnalyzeRecent(context.Context, int) ([]email.Analysis, error) {
	return f.analyses, f.err
}

// untouchableStore fails the test on any access.
type untouchableStore struct{ t *testing.T }

func (u untouchableStore) Add(context.Context, taskstore.NewTask) (taskstore.Task, error) {
	u.t.Error("task store must not be used")
	return taskstore.Task{}, nil
}

func (u untouchableStore) List(context.Context, ...taskstore.Status) ([]taskstore.Task, error) {
	u.t.Error("task store must not be used")
	return nil, nil
}

func (u untouchableStore) UpdateStatus(context.Context, int64, taskstore.Status) error {
	u.t.Error("task store must not be used")
	return nil
}

func (u untouchableStore) Delete(context.Context, int64) error {
	u.t.Error("task store must not be used")
	return nil
}

type recordingModel struct {
	answer  string
	err     error
	prompts []string
}

func (r *recordingModel) Generate(_ context.Context, prompt string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	return r.answer, r.err
}

func openStore(t *testing.T) *taskstore.Store {
	t.Helper()
	s, err := taskstore.Open(context.Background(), filepath.Join(t.TempDir(), "tasks.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newManager(tasks TaskStore, cal Calendar, emails Emails, c Classifier, gen llm.Generator) *Manager {
	return New(Deps{
		Tasks:      tasks,
		Calendar:   cal,
		Emails:     emails,
		Classifier: c,
		Generator:  gen,
		Logger:     zap.NewNop(),
		Now:        func() time.Time { return refNow },
	})
}

func seed(t *testing.T, s *taskstore.Store, descriptions ...string) []taskstore.Task {
	t.Helper()
	out := make([]taskstore.Task, 0, len(descriptions))
	for _, d := range descriptions {
		task, err := s.Add(context.Background(), taskstore.NewTask{Description: d})
		require.NoError(t, err)
		out = append(out, task)
	}
	return out
}

func TestUnknownGoesToChat(t *testing.T) {
	cal := &fakeCalendar{}
	gen := &recordingModel{answer: "  Paris.  "}
	m := newManager(untouchableStore{t}, cal, nil, classify(intent.Unrecognized()), gen)

	reply := m.Handle(context.Background(), NewSession("s"), "what is the capital of France?")
	assert.Equal(t, "Paris.", reply.Text)
	assert.Nil(t, reply.Selection)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "what is the capital of France?")
	assert.Empty(t, cal.limits)
	assert.Empty(t, cal.created)

	gen = &recordingModel{err: errors.New("offline")}
	m = newManager(untouchableStore{t}, cal, nil, classify(intent.Unrecognized()), gen)
	assert.Equal(t, chatApology, m.Handle(context.Background(), NewSession("s"), "hello").Text)
}

func TestAddTaskDefaults(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	m := newManager(store, nil, nil, classify(
		intent.Known(intent.AddTask, intent.Slots{Summary: "Buy milk"}),
		intent.Known(intent.AddTask, intent.Slots{Summary: "Finish report", Date: "2026-03-15", Priority: 1}),
		intent.Known(intent.AddTask, intent.Slots{}),
	), nil)

	s := NewSession("s")
	assert.Equal(t, "Task 'Buy milk' added.", m.Handle(ctx, s, "add buy milk").Text)
	m.Handle(ctx, s, "add urgent finish report tomorrow")
	assert.Equal(t, "I couldn't tell which task to add.", m.Handle(ctx, s, "add").Text)

	tasks, err := store.List(ctx, taskstore.StatusTodo)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	report, milk := tasks[0], tasks[1]
	assert.Equal(t, "Finish report", report.Description)
	assert.Equal(t, 1, report.Priority)
	require.NotNil(t, report.DueDate)
	assert.Equal(t, "2026-03-15 23:59:59", report.DueDate.Format("2006-01-02 15:04:05"))
	assert.Equal(t, taskstore.SourceManual, report.Source)

	assert.Equal(t, "Buy milk", milk.Description)
	assert.Equal(t, 3, milk.Priority)
	assert.Nil(t, milk.DueDate)
	assert.Equal(t, taskstore.StatusTodo, milk.Status)
}

func TestGetTasksIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seed(t, store, "low one")
	_, err := store.Add(ctx, taskstore.NewTask{Description: "high one", Priority: 1})
	require.NoError(t, err)
	done := seed(t, store, "finished")[0]
	require.NoError(t, store.UpdateStatus(ctx, done.ID, taskstore.StatusDone))

	m := newManager(store, nil, nil, classify(intent.Known(intent.GetTasks, intent.Slots{})), nil)
	s := NewSession("s")
	first := m.Handle(ctx, s, "show my tasks").Text
	second := m.Handle(ctx, s, "show my tasks").Text
	assert.Equal(t, first, second)
	assert.Less(t, strings.Index(first, "high one"), strings.Index(first, "low one"))
	assert.NotContains(t, first, "finished")

	m = newManager(store, nil, nil, classify(intent.Known(intent.GetTasks, intent.Slots{Status: taskstore.StatusDone})), nil)
	out := m.Handle(ctx, s, "show finished tasks").Text
	assert.Contains(t, out, "finished")
	assert.NotContains(t, out, "high one")

	empty := newManager(openStore(t), nil, nil, classify(intent.Known(intent.GetTasks, intent.Slots{})), nil)
	assert.Equal(t, "No tasks to show.", empty.Handle(ctx, s, "tasks").Text)
}

func TestMatch(t *testing.T) {
	cands := []Candidate{
		{ID: "1", Label: "Buy milk"},
		{ID: "2", Label: "Call the bank"},
		{ID: "3", Label: "buy BREAD"},
	}
	got := Match(cands, "BUY")
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
	assert.Empty(t, Match(cands, "zzz"))
	assert.Len(t, Match(cands, "bank"), 1)
}

func TestDeleteTaskDisambiguation(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	tasks := seed(t, store, "Buy milk", "Call the bank", "Buy bread")

	del := func(kw string) intent.Result {
		return intent.Known(intent.DeleteTask, intent.Slots{Summary: kw})
	}
	m := newManager(store, nil, nil, classify(del("zzz"), del("bank"), del("buy")), nil)
	s := NewSession("s")

	reply := m.Handle(ctx, s, "delete zzz")
	assert.Equal(t, "No task matching 'zzz' found.", reply.Text)
	assert.Nil(t, reply.Selection)

	reply = m.Handle(ctx, s, "delete bank")
	assert.Equal(t, "Task 'Call the bank' deleted.", reply.Text)
	assert.Nil(t, reply.Selection)
	_, pending := s.Pending()
	assert.False(t, pending)

	reply = m.Handle(ctx, s, "delete buy")
	require.NotNil(t, reply.Selection)
	require.Len(t, reply.Selection.Candidates, 2)
	assert.Equal(t, "Buy milk", reply.Selection.Candidates[0].Label)
	assert.Equal(t, "Buy bread", reply.Selection.Candidates[1].Label)
	assert.Equal(t, SourceTask, reply.Selection.Candidates[0].Source)
	assert.Contains(t, reply.Text, "1. Buy milk\n2. Buy bread")

	token := reply.Selection.Token
	_, err := m.Resolve(ctx, s, token, 3)
	assert.ErrorIs(t, err, ErrChoiceOutOfRange)
	_, pending = s.Pending()
	assert.True(t, pending, "out-of-range choice keeps the selection live")

	_, err = m.Resolve(ctx, s, "other-token", 1)
	assert.ErrorIs(t, err, ErrUnknownToken)

	got, err := m.Resolve(ctx, s, token, 2)
	require.NoError(t, err)
	assert.Equal(t, "Task 'Buy bread' deleted.", got.Text)

	_, err = m.Resolve(ctx, s, token, 1)
	assert.ErrorIs(t, err, ErrNoSelection)

	left, err := store.List(ctx, taskstore.OpenStatuses...)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, tasks[0].ID, left[0].ID)
}

func TestUpdateTaskStatus(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	task := seed(t, store, "Reply to the email")[0]

	m := newManager(store, nil, nil, classify(
		intent.Known(intent.UpdateTaskStatus, intent.Slots{Summary: "reply"}),
		intent.Known(intent.UpdateTaskStatus, intent.Slots{Summary: "reply", Status: taskstore.StatusInProgress}),
	), nil)
	s := NewSession("s")

	assert.Equal(t, "I need both the task and its new status to update it.", m.Handle(ctx, s, "update reply").Text)
	assert.Equal(t, "Task 'Reply to the email' is now in progress.", m.Handle(ctx, s, "reply is in progress").Text)

	tasks, err := store.List(ctx, taskstore.StatusInProgress)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
}

func TestNewQueryClearsSelection(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seed(t, store, "Buy milk", "Buy bread")

	m := newManager(store, nil, nil, classify(
		intent.Known(intent.DeleteTask, intent.Slots{Summary: "buy"}),
		intent.Known(intent.GetTasks, intent.Slots{}),
	), nil)
	s := NewSession("s")

	reply := m.Handle(ctx, s, "delete buy")
	require.NotNil(t, reply.Selection)
	m.Handle(ctx, s, "list tasks")

	_, err := m.Resolve(ctx, s, reply.Selection.Token, 1)
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestAddEventRequiresDate(t *testing.T) {
	cal := &fakeCalendar{}
	m := newManager(untouchableStore{t}, cal, nil, classify(
		intent.Known(intent.AddEvent, intent.Slots{Summary: "Doctor"}),
		intent.Known(intent.AddEvent, intent.Slots{Summary: "Doctor", Date: "2026-12-25"}),
	), nil)
	s := NewSession("s")

	reply := m.Handle(context.Background(), s, "add doctor")
	assert.Contains(t, reply.Text, "missing information")
	assert.Empty(t, cal.created)

	reply = m.Handle(context.Background(), s, "add doctor on 25 December")
	assert.Equal(t, "Event 'Doctor' added on 2026-12-25.", reply.Text)
	assert.Equal(t, []string{"Doctor@2026-12-25"}, cal.created)
}

func TestAgendaAndDeleteEvent(t *testing.T) {
	cal := &fakeCalendar{events: []google.Event{
		{ID: "e1", Start: "2026-03-14T10:00:00+01:00", Summary: "Project meeting"},
		{ID: "e2", Start: "2026-03-20", Summary: "Holiday"},
		{ID: "e3", Start: "2026-03-21T08:00:00+01:00", Summary: "Project review"},
	}}
	m := newManager(untouchableStore{t}, cal, nil, classify(
		intent.Known(intent.GetAgenda, intent.Slots{}),
		intent.Known(intent.DeleteEvent, intent.Slots{Summary: "holiday"}),
		intent.Known(intent.DeleteEvent, intent.Slots{Summary: "project"}),
	), nil)
	ctx := context.Background()
	s := NewSession("s")

	agenda := m.Handle(ctx, s, "agenda").Text
	assert.Contains(t, agenda, "Here are your next 3 events:")
	assert.Contains(t, agenda, "- Project meeting (14 March 2026 at 10:00)")
	assert.Contains(t, agenda, "- Holiday (20 March 2026, all day)")

	assert.Equal(t, "Event 'Holiday' deleted.", m.Handle(ctx, s, "delete holiday").Text)

	reply := m.Handle(ctx, s, "delete project")
	require.NotNil(t, reply.Selection)
	assert.Equal(t, ActionDeleteEvent, reply.Selection.Action)
	assert.Equal(t, SourceAgenda, reply.Selection.Candidates[0].Source)
	_, err := m.Resolve(ctx, s, reply.Selection.Token, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"e2", "e1"}, cal.deleted)
	assert.Equal(t, []int{agendaLimit, eventSearchLimit, eventSearchLimit}, cal.limits)
}

func TestCollaboratorFailuresDegrade(t *testing.T) {
	ctx := context.Background()
	cal := &fakeCalendar{err: errors.New("503")}
	m := newManager(untouchableStore{t}, cal, fakeEmails{err: errors.New("imap down")}, classify(
		intent.Known(intent.GetAgenda, intent.Slots{}),
		intent.Known(intent.GetEmails, intent.Slots{}),
	), nil)
	s := NewSession("s")
	assert.Equal(t, "No upcoming events in your calendar.", m.Handle(ctx, s, "agenda").Text)
	assert.Equal(t, "No emails to show.", m.Handle(ctx, s, "emails").Text)

	unconfigured := newManager(untouchableStore{t}, nil, nil, classify(
		intent.Known(intent.GetEmails, intent.Slots{}),
		intent.Known(intent.AddEvent, intent.Slots{Summary: "x", Date: "2026-01-01"}),
	), nil)
	assert.Equal(t, "Email is not configured.", unconfigured.Handle(ctx, s, "emails").Text)
	assert.Equal(t, "The calendar is not configured.", unconfigured.Handle(ctx, s, "add x").Text)
}

func TestGetEmailsFormatting(t *testing.T) {
	m := newManager(untouchableStore{t}, nil, fakeEmails{analyses: []email.Analysis{
		{Sender: "ci@example.com", Subject: "Build failed", Resume: "The nightly build failed.", Importance: 4, Action: "Fix"},
		{Sender: "news@example.com", Subject: "Digest"},
	}}, classify(intent.Known(intent.GetEmails, intent.Slots{})), nil)

	out := m.Handle(context.Background(), NewSession("s"), "emails").Text
	assert.Contains(t, out, "--- Email 1 ---")
	assert.Contains(t, out, "Importance: 4/5")
	assert.Contains(t, out, "Suggested action: Fix")
	assert.Contains(t, out, "--- Email 2 ---\n  From: news@example.com\n  Subject: Digest\n  Summary: N/A\n  Importance: N/A")
}
