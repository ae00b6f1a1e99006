package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harrisonrobin/aide/pkg/email"
	"github.com/harrisonrobin/aide/pkg/google"
	"github.com/harrisonrobin/aide/pkg/llm"
	"github.com/harrisonrobin/aide/pkg/taskstore"
	"go.uber.org/zap"
)

// RecommendationPrefix starts every well-formed recommendation answer.
const RecommendationPrefix = "Here are my recommendations:"

const (
	recommendationEvents = 10
	emailBodyRunes       = 500
	recommendApology     = "Sorry, I could not put together recommendations right now."
)

// StripRecommendationPrefix removes RecommendationPrefix from s and reports
// whether it was there.
func StripRecommendationPrefix(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, RecommendationPrefix) {
		return s, false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, RecommendationPrefix)), true
}

// recommend gathers emails, events and open tasks into one prompt and makes
// a single model call.
func (m *Manager) recommend(ctx context.Context, urgent bool) string {
	now := m.now()
	today := now.Format(dateLayout)

	analyses := m.recentEmails(ctx)
	events := m.upcoming(ctx, recommendationEvents)
	tasks, err := m.tasks.List(ctx, taskstore.OpenStatuses...)
	if err != nil {
		m.logger.Warn("could not list tasks for recommendations", zap.Error(err))
		tasks = nil
	}

	if urgent {
		analyses = urgentEmails(analyses)
		events = eventsOn(events, today)
		tasks = urgentTasks(tasks, now)
	}

	prompt := recommendationPrompt(urgent, today, analyses, events, tasks)
	m.logger.Debug("requesting recommendations", zap.Bool("urgent", urgent),
		zap.Int("emails", len(analyses)), zap.Int("events", len(events)), zap.Int("tasks", len(tasks)))

	answer := llm.Complete(ctx, m.gen, prompt, m.logger)
	if answer == "" {
		return recommendApology
	}
	body, ok := StripRecommendationPrefix(answer)
	if !ok {
		m.logger.Warn("recommendation answer is missing its opening phrase")
	}
	return RecommendationPrefix + "\n" + body
}

func urgentEmails(in []email.Analysis) []email.Analysis {
	var out []email.Analysis
	for _, a := range in {
		subject := strings.ToLower(a.Subject)
		if strings.Contains(subject, "alert") || strings.Contains(subject, "urgent") {
			out = append(out, a)
		}
	}
	return out
}

// eventsOn keeps events whose start string begins with date. Starts carrying
// another UTC offset than the local one can land on the wrong day.
func eventsOn(in []google.Event, date string) []google.Event {
	var out []google.Event
	for _, e := range in {
		if strings.HasPrefix(e.Start, date) {
			out = append(out, e)
		}
	}
	return out
}

func urgentTasks(in []taskstore.Task, now time.Time) []taskstore.Task {
	y, mo, d := now.Date()
	var out []taskstore.Task
	for _, t := range in {
		if t.Priority == taskstore.PriorityHigh {
			out = append(out, t)
			continue
		}
		if t.DueDate != nil {
			ty, tm, td := t.DueDate.In(now.Location()).Date()
			if ty == y && tm == mo && td == d {
				out = append(out, t)
			}
		}
	}
	return out
}

func recommendationPrompt(urgent bool, today string, analyses []email.Analysis, events []google.Event, tasks []taskstore.Task) string {
	var b strings.Builder
	b.WriteString("You are a personal assistant helping the user organise their work.\n")
	if urgent {
		fmt.Fprintf(&b, "Today is %s. Using only the information below, tell the user what needs their attention today.\n", today)
	} else {
		fmt.Fprintf(&b, "Today is %s. Using the information below, recommend how the user should organise the coming days.\n", today)
	}

	b.WriteString("\n### EMAILS ###\n")
	if len(analyses) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range analyses {
		fmt.Fprintf(&b, "- From: %s | Subject: %s | Summary: %s | Importance: %d/5 | Body: %s\n",
			a.Sender, a.Subject, a.Resume, a.Importance, truncateRunes(a.Body, emailBodyRunes))
	}

	b.WriteString("\n### CALENDAR ###\n")
	if len(events) == 0 {
		b.WriteString("(none)\n")
	}
	for _, e := range events {
		fmt.Fprintf(&b, "- %s: %s\n", e.Start, e.Summary)
	}

	b.WriteString("\n### TASKS ###\n")
	if len(tasks) == 0 {
		b.WriteString("(none)\n")
	}
	for _, t := range tasks {
		due := "no due date"
		if t.DueDate != nil {
			due = "due " + t.DueDate.Format(dateLayout)
		}
		fmt.Fprintf(&b, "- [%s priority] %s (%s, %s)\n", taskstore.PriorityLabel(t.Priority), t.Description, t.Status.Label(), due)
	}

	b.WriteString("\n### INSTRUCTIONS ###\n")
	b.WriteString("Answer with a numbered list of concrete actions, most important first. ")
	fmt.Fprintf(&b, "Your answer must begin with %q.\n", RecommendationPrefix)
	return b.String()
}
