// Package orgmode imports Org-mode TODO headlines into the task store.
package orgmode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/harrisonrobin/aide/pkg/taskstore"
	"go.uber.org/zap"
)

// Source tags tasks imported from Org files.
const Source = "orgmode"

var (
	headingRe  = regexp.MustCompile(`^\*+\s`)
	headlineRe = regexp.MustCompile(`^\*+\s+(TODO|NEXT|STARTED|WAITING|DONE|CANCELLED)\s+(?:\[#([A-Z])\]\s*)?(.*?)(?:\s+(:[\w@:]+:))?\s*$`)
	deadlineRe = regexp.MustCompile(`DEADLINE:\s+<(\d{4}-\d{2}-\d{2})(?:\s+[^\s>\d]+)?(?:\s+(\d{2}:\d{2}))?[^>]*>`)
)

// Parse reads the TODO headlines of one Org document. The DEADLINE on the
// line following a headline becomes its due date.
func Parse(r io.Reader) ([]taskstore.Entry, error) {
	sc := bufio.NewScanner(r)
	var entries []taskstore.Entry
	var current *taskstore.Entry

	flush := func() {
		if current != nil && current.Task.Description != "" {
			entries = append(entries, *current)
		}
		current = nil
	}

	for sc.Scan() {
		line := sc.Text()
		// Headings start in the first column; "*bold*" body text does not count.
		if headingRe.MatchString(line) {
			flush()
			m := headlineRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			status, ok := keywordStatus(m[1])
			if !ok {
				continue
			}
			current = &taskstore.Entry{
				Task: taskstore.NewTask{
					Description: strings.TrimSpace(m[3]),
					Priority:    priority(m[2]),
					Source:      Source,
				},
				Status: status,
			}
			continue
		}
		if current == nil || current.Task.DueDate != nil {
			continue
		}
		if m := deadlineRe.FindStringSubmatch(line); m != nil {
			if due, ok := deadline(m[1], m[2]); ok {
				current.Task.DueDate = &due
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return entries, nil
}

// keywordStatus maps an Org TODO keyword. CANCELLED and WAITING items are not
// imported.
func keywordStatus(kw string) (taskstore.Status, bool) {
	switch kw {
	case "TODO", "NEXT":
		return taskstore.StatusTodo, true
	case "STARTED":
		return taskstore.StatusInProgress, true
	case "DONE":
		return taskstore.StatusDone, true
	}
	return "", false
}

// priority maps [#A] [#B] [#C]; no cookie is low.
func priority(cookie string) int {
	switch cookie {
	case "A":
		return taskstore.PriorityHigh
	case "B":
		return taskstore.PriorityMedium
	}
	return taskstore.PriorityLow
}

// deadline parses an Org date, defaulting to the end of the day when no time
// is given.
func deadline(date, clock string) (time.Time, bool) {
	clock += ":00"
	if clock == ":00" {
		clock = "23:59:59"
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+clock, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Store is where imported tasks are written.
type Store interface {
	Import(ctx context.Context, entries []taskstore.Entry) ([]taskstore.Task, error)
}

// ImportFiles parses every file and writes all their tasks in one batch.
func ImportFiles(ctx context.Context, store Store, paths []string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var all []taskstore.Entry
	for _, path := range paths {
		entries, err := parseFile(path)
		if err != nil {
			return 0, err
		}
		logger.Debug("parsed org file", zap.String("file", path), zap.Int("tasks", len(entries)))
		all = append(all, entries...)
	}
	if _, err := store.Import(ctx, all); err != nil {
		return 0, fmt.Errorf("failed to import org tasks: %w", err)
	}
	logger.Info("org import finished", zap.Int("imported", len(all)))
	return len(all), nil
}

func parseFile(path string) ([]taskstore.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return entries, nil
}
