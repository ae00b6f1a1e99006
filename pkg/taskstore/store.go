// Package taskstore persists to-do items in a single SQLite table.
package taskstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is the on-disk format of created_at and due_date. It sorts lexically.
const timeLayout = "2006-01-02 15:04:05"

// Store is a SQLite-backed task store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One query at a time; no pooling.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("could not set sqlite busy_timeout", zap.Error(err))
	}

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// gooseLogger routes migration output through zap.
type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.s.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.s.Fatalf(strings.TrimSuffix(format, "\n"), v...)
}

func (s *Store) prepareGoose() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{s: s.logger.Sugar()})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.prepareGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Reset drops every task and recreates an empty table.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.prepareGoose(); err != nil {
		return err
	}
	if err := goose.ResetContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("reset migrations: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	s.logger.Info("task database initialized")
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a task in the todo state. Priority 0 means the default (low).
func (s *Store) Add(ctx context.Context, nt NewTask) (Task, error) {
	t, err := s.insert(ctx, s.db, nt, StatusTodo)
	if err != nil {
		return Task{}, err
	}
	s.logger.Info("task added",
		zap.Int64("id", t.ID), zap.String("description", t.Description), zap.Int("priority", t.Priority))
	return t, nil
}

// Entry is a task to import together with the status it should have.
type Entry struct {
	Task   NewTask
	Status Status
}

// Import inserts entries in a single transaction: either all of them are
// stored or none is.
func (s *Store) Import(ctx context.Context, entries []Entry) ([]Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin import: %w", err)
	}
	defer tx.Rollback()

	out := make([]Task, 0, len(entries))
	for i, e := range entries {
		t, err := s.insert(ctx, tx, e.Task, e.Status)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, t)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}
	s.logger.Info("tasks imported", zap.Int("count", len(out)))
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, db execer, nt NewTask, status Status) (Task, error) {
	desc := strings.TrimSpace(nt.Description)
	if desc == "" {
		return Task{}, fmt.Errorf("task description is empty")
	}
	if !status.Valid() {
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if nt.Priority == 0 {
		nt.Priority = PriorityLow
	}
	if nt.Priority < PriorityHigh || nt.Priority > PriorityLow {
		return Task{}, fmt.Errorf("%w: %d", ErrInvalidPriority, nt.Priority)
	}
	if nt.Source == "" {
		nt.Source = SourceManual
	}

	created := s.now().UTC().Truncate(time.Second)
	var due sql.NullString
	if nt.DueDate != nil {
		due = sql.NullString{String: nt.DueDate.In(time.Local).Format(timeLayout), Valid: true}
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO tasks (description, status, priority, created_at, due_date, source) VALUES (?, ?, ?, ?, ?, ?)`,
		desc, string(status), nt.Priority, created.Format(timeLayout), due, nt.Source)
	if err != nil {
		return Task{}, fmt.Errorf("failed to insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, fmt.Errorf("failed to read task id: %w", err)
	}

	t := Task{
		ID:          id,
		Description: desc,
		Status:      status,
		Priority:    nt.Priority,
		CreatedAt:   created,
		Source:      nt.Source,
	}
	if nt.DueDate != nil {
		d := *nt.DueDate
		t.DueDate = &d
	}
	return t, nil
}

// List returns the tasks whose status is one of statuses (all tasks when none
// is given), ordered by priority then due date.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]Task, error) {
	query := `SELECT id, description, status, priority, created_at, due_date, source FROM tasks`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY priority ASC, due_date ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(rows *sql.Rows) (Task, error) {
	var (
		t       Task
		status  string
		created string
		due     sql.NullString
	)
	if err := rows.Scan(&t.ID, &t.Description, &status, &t.Priority, &created, &due, &t.Source); err != nil {
		return Task{}, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Status = Status(status)

	c, err := time.ParseInLocation(timeLayout, created, time.UTC)
	if err != nil {
		return Task{}, fmt.Errorf("task %d: bad created_at %q: %w", t.ID, created, err)
	}
	t.CreatedAt = c

	if due.Valid && due.String != "" {
		d, err := time.ParseInLocation(timeLayout, due.String, time.Local)
		if err != nil {
			return Task{}, fmt.Errorf("task %d: bad due_date %q: %w", t.ID, due.String, err)
		}
		t.DueDate = &d
	}
	return t, nil
}

// UpdateStatus moves a task to status. Unknown statuses are rejected before
// touching the database.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", id, err)
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}
	s.logger.Info("task status updated", zap.Int64("id", id), zap.String("status", string(status)))
	return nil
}

// Delete removes a task by id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}
	s.logger.Info("task deleted", zap.Int64("id", id))
	return nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}
