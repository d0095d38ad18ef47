package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
	TaskExpired   = "expired"
)

// Task is a one-shot deferred prompt.
type Task struct {
	ID             string
	Agent          string
	ConversationID string
	Prompt         string
	Description    string
	ExecuteAt      time.Time
	Status         string
	RetryCount     int
	Result         string
	Error          string
	CompletedAt    *time.Time
}

// AddTask enqueues a task.
func (s *Store) AddTask(task Task) (Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = TaskPending
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, agent, conversation_id, prompt, description, execute_at, status, retry_count, result, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Agent, task.ConversationID, task.Prompt, task.Description,
		task.ExecuteAt.UTC(), task.Status, task.RetryCount, task.Result, task.Error, task.CompletedAt)
	if err != nil {
		return Task{}, fmt.Errorf("add task: %w", err)
	}
	return task, nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(id string) (Task, error) {
	row := s.db.QueryRow(`
		SELECT id, agent, conversation_id, prompt, description, execute_at, status, retry_count, result, error, completed_at
		FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks, optionally filtered by status.
func (s *Store) ListTasks(status string) ([]Task, error) {
	query := `
		SELECT id, agent, conversation_id, prompt, description, execute_at, status, retry_count, result, error, completed_at
		FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY execute_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// ClaimDueTasks atomically flips pending tasks whose execute_at has passed to
// running and returns them. The flip and the read share one transaction so
// two pollers cannot claim the same row.
func (s *Store) ClaimDueTasks(now time.Time) ([]Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, agent, conversation_id, prompt, description, execute_at, status, retry_count, result, error, completed_at
		FROM tasks WHERE status = ? AND execute_at <= ? ORDER BY execute_at`,
		TaskPending, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("select due tasks: %w", err)
	}
	var due []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due task: %w", err)
		}
		due = append(due, task)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range due {
		if _, err := tx.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, TaskRunning, due[i].ID); err != nil {
			return nil, fmt.Errorf("claim task %s: %w", due[i].ID, err)
		}
		due[i].Status = TaskRunning
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return due, nil
}

// CompleteTask records a terminal outcome.
func (s *Store) CompleteTask(id, status, result, errText string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, result = ?, error = ?, completed_at = ?
		WHERE id = ?`, status, result, errText, now, id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// RequeueTask puts a running task back to pending with retry_count bumped.
func (s *Store) RequeueTask(id string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, retry_count = retry_count + 1
		WHERE id = ?`, TaskPending, id)
	if err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// CancelTask cancels a pending task. Running and finished tasks are left
// alone.
func (s *Store) CancelTask(id string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
		TaskCancelled, id, TaskPending)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s (not pending)", ErrTaskNotFound, id)
	}
	return nil
}

// ExpireOverdueTasks marks pending tasks older than cutoff as expired and
// returns the count.
func (s *Store) ExpireOverdueTasks(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ? WHERE status = ? AND execute_at <= ?`,
		TaskExpired, TaskPending, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanTask(row rowScanner) (Task, error) {
	var task Task
	var completed sql.NullTime
	err := row.Scan(&task.ID, &task.Agent, &task.ConversationID, &task.Prompt,
		&task.Description, &task.ExecuteAt, &task.Status, &task.RetryCount,
		&task.Result, &task.Error, &completed)
	if err != nil {
		return Task{}, err
	}
	if completed.Valid {
		t := completed.Time
		task.CompletedAt = &t
	}
	return task, nil
}
