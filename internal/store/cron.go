package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CronJob is a recurring prompt bound to an agent.
type CronJob struct {
	ID        string
	Name      string
	Expr      string
	Agent     string
	Prompt    string
	DeliverTo string // "channel:target", empty for none
	Enabled   bool
	LastRunAt *time.Time
}

// AddCronJob inserts a job. Names are unique; a duplicate name is an error.
func (s *Store) AddCronJob(job CronJob) (CronJob, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO cron_jobs (id, name, expr, agent, prompt, deliver_to, enabled, last_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.Expr, job.Agent, job.Prompt, job.DeliverTo, job.Enabled, job.LastRunAt)
	if err != nil {
		return CronJob{}, fmt.Errorf("add cron job: %w", err)
	}
	return job, nil
}

// GetCronJobByName fetches a job by its unique name.
func (s *Store) GetCronJobByName(name string) (CronJob, error) {
	row := s.db.QueryRow(`
		SELECT id, name, expr, agent, prompt, deliver_to, enabled, last_run_at
		FROM cron_jobs WHERE name = ?`, name)
	job, err := scanCronJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CronJob{}, fmt.Errorf("%w: %s", ErrCronJobNotFound, name)
	}
	if err != nil {
		return CronJob{}, fmt.Errorf("get cron job: %w", err)
	}
	return job, nil
}

// ListCronJobs returns all jobs; enabledOnly filters to enabled ones.
func (s *Store) ListCronJobs(enabledOnly bool) ([]CronJob, error) {
	query := `
		SELECT id, name, expr, agent, prompt, deliver_to, enabled, last_run_at
		FROM cron_jobs`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()

	var out []CronJob
	for rows.Next() {
		job, err := scanCronJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cron job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// RemoveCronJobByName deletes a job.
func (s *Store) RemoveCronJobByName(name string) error {
	res, err := s.db.Exec(`DELETE FROM cron_jobs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("remove cron job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrCronJobNotFound, name)
	}
	return nil
}

// SetCronJobEnabled toggles a job.
func (s *Store) SetCronJobEnabled(name string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE cron_jobs SET enabled = ? WHERE name = ?`, enabled, name)
	if err != nil {
		return fmt.Errorf("set cron job enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrCronJobNotFound, name)
	}
	return nil
}

// TouchCronJob records a run. Called whether or not delivery succeeded.
func (s *Store) TouchCronJob(name string, ranAt time.Time) error {
	_, err := s.db.Exec(`UPDATE cron_jobs SET last_run_at = ? WHERE name = ?`, ranAt.UTC(), name)
	if err != nil {
		return fmt.Errorf("touch cron job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCronJob(row rowScanner) (CronJob, error) {
	var job CronJob
	var lastRun sql.NullTime
	err := row.Scan(&job.ID, &job.Name, &job.Expr, &job.Agent, &job.Prompt,
		&job.DeliverTo, &job.Enabled, &lastRun)
	if err != nil {
		return CronJob{}, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		job.LastRunAt = &t
	}
	return job, nil
}
