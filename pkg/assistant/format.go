package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/harrisonrobin/aide/pkg/email"
	"github.com/harrisonrobin/aide/pkg/google"
	"github.com/harrisonrobin/aide/pkg/taskstore"
)

func formatTasks(tasks []taskstore.Task) string {
	if len(tasks) == 0 {
		return "No tasks to show."
	}
	var b strings.Builder
	b.WriteString("Here are your tasks:")
	for _, t := range tasks {
		due := "N/A"
		if t.DueDate != nil {
			due = t.DueDate.Format("02/01/2006")
		}
		fmt.Fprintf(&b, "\n- [ID: %d] %s (Priority: %s, Status: %s, Due: %s)",
			t.ID, t.Description, taskstore.PriorityLabel(t.Priority), t.Status.Label(), due)
	}
	return b.String()
}

func formatEvents(events []google.Event) string {
	if len(events) == 0 {
		return "No upcoming events in your calendar."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here are your next %d events:", len(events))
	for _, e := range events {
		fmt.Fprintf(&b, "\n- %s (%s)", e.Summary, formatStart(e.Start))
	}
	return b.String()
}

// formatStart renders an RFC3339 start time or a YYYY-MM-DD all-day date,
// falling back to the raw string.
func formatStart(start string) string {
	if t, err := time.Parse(time.RFC3339, start); err == nil {
		return t.Format("02 January 2006 at 15:04")
	}
	if t, err := time.Parse("2006-01-02", start); err == nil {
		return t.Format("02 January 2006") + ", all day"
	}
	return start
}

func formatEmails(analyses []email.Analysis) string {
	if len(analyses) == 0 {
		return "No emails to show."
	}
	var b strings.Builder
	b.WriteString("Email analysis complete:")
	for i, a := range analyses {
		importance := "N/A"
		if a.Importance > 0 {
			importance = fmt.Sprintf("%d/5", a.Importance)
		}
		fmt.Fprintf(&b, "\n--- Email %d ---\n  From: %s\n  Subject: %s\n  Summary: %s\n  Importance: %s\n  Suggested action: %s",
			i+1, a.Sender, a.Subject, orNA(a.Resume), importance, orNA(a.Action))
	}
	return b.String()
}

func formatSelection(keyword string, sel *Selection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Several items match '%s'. Which one do you mean?", keyword)
	for i, c := range sel.Candidates {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Label)
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
