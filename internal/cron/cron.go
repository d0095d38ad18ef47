// Package cron schedules recurring prompts from the store's cron_jobs
// table. One timer goroutine per enabled job; expressions are evaluated with
// gronx so config validation and runtime agree.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
)

// Dispatcher sends a prompt into an agent's scheduler conversation and
// returns the reply text.
type Dispatcher func(ctx context.Context, agent, conversationID, prompt string) (string, error)

// Scheduler runs cron jobs.
type Scheduler struct {
	store    *store.Store
	bus      *bus.MessageBus
	dispatch Dispatcher

	mu     sync.Mutex
	timers map[string]context.CancelFunc // by job name
	ctx    context.Context
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(st *store.Store, b *bus.MessageBus, dispatch Dispatcher) *Scheduler {
	return &Scheduler{
		store:    st,
		bus:      b,
		dispatch: dispatch,
		timers:   map[string]context.CancelFunc{},
	}
}

// Start loads enabled jobs and starts a timer for each. Runs until ctx is
// done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	jobs, err := s.store.ListCronJobs(true)
	if err != nil {
		return fmt.Errorf("load cron jobs: %w", err)
	}
	for _, job := range jobs {
		s.startTimer(job)
	}
	slog.Info("cron.started", "jobs", len(jobs))
	return nil
}

// Stop cancels all timers and waits for in-flight executions.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for name, cancel := range s.timers {
		cancel()
		delete(s.timers, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// startTimer launches the per-job goroutine. Caller need not hold the lock.
func (s *Scheduler) startTimer(job store.CronJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.timers[job.Name]; running {
		return
	}
	jobCtx, cancel := context.WithCancel(s.ctx)
	s.timers[job.Name] = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			next, err := gronx.NextTick(job.Expr, false)
			if err != nil {
				slog.Error("cron.bad_expression", "job", job.Name, "expr", job.Expr, "error", err)
				return
			}
			select {
			case <-jobCtx.Done():
				return
			case <-time.After(time.Until(next)):
			}
			s.ExecuteJob(jobCtx, job.Name)
		}
	}()
}

func (s *Scheduler) stopTimer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.timers[name]; ok {
		cancel()
		delete(s.timers, name)
	}
}

// ExecuteJob runs one job now: dispatch the prompt, record last_run_at
// whether or not delivery works, then deliver the reply to the job's target
// if one is set.
func (s *Scheduler) ExecuteJob(ctx context.Context, name string) {
	job, err := s.store.GetCronJobByName(name)
	if err != nil {
		slog.Error("cron.job_missing", "job", name, "error", err)
		return
	}

	conversationID := "cron:" + job.Name + ":" + job.Agent
	reply, dispatchErr := s.dispatch(ctx, job.Agent, conversationID, job.Prompt)

	if err := s.store.TouchCronJob(job.Name, time.Now()); err != nil {
		slog.Warn("cron.touch_failed", "job", job.Name, "error", err)
	}

	if dispatchErr != nil {
		slog.Error("cron.job_failed", "job", job.Name, "agent", job.Agent, "error", dispatchErr)
		s.bus.RecordActivity(bus.ActivityEntry{
			Kind: "cron", AgentID: job.Agent,
			Summary: fmt.Sprintf("%s failed: %v", job.Name, dispatchErr),
		})
		return
	}

	if job.DeliverTo != "" {
		channel, target, ok := strings.Cut(job.DeliverTo, ":")
		if ok {
			s.bus.PublishOutbound(bus.OutboundMessage{Channel: channel, ChatID: target, Text: reply})
		} else {
			slog.Warn("cron.bad_deliver_to", "job", job.Name, "deliverTo", job.DeliverTo)
		}
	}
	s.bus.RecordActivity(bus.ActivityEntry{
		Kind: "cron", AgentID: job.Agent, Summary: job.Name,
	})
}

// Add validates and stores a job, starting its timer when enabled.
func (s *Scheduler) Add(job store.CronJob) (store.CronJob, error) {
	if !gronx.New().IsValid(job.Expr) {
		return store.CronJob{}, fmt.Errorf("invalid cron expression %q", job.Expr)
	}
	added, err := s.store.AddCronJob(job)
	if err != nil {
		return store.CronJob{}, err
	}
	if added.Enabled && s.ctx != nil {
		s.startTimer(added)
	}
	return added, nil
}

// RemoveByName stops the timer and deletes the job.
func (s *Scheduler) RemoveByName(name string) error {
	s.stopTimer(name)
	return s.store.RemoveCronJobByName(name)
}

// Enable turns a job on and starts its timer if not already running.
func (s *Scheduler) Enable(name string) error {
	if err := s.store.SetCronJobEnabled(name, true); err != nil {
		return err
	}
	job, err := s.store.GetCronJobByName(name)
	if err != nil {
		return err
	}
	if s.ctx != nil {
		s.startTimer(job)
	}
	return nil
}

// Disable stops the timer and turns the job off.
func (s *Scheduler) Disable(name string) error {
	s.stopTimer(name)
	return s.store.SetCronJobEnabled(name, false)
}
