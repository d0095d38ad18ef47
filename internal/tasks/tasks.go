// Package tasks polls the store's one-shot deferred prompts and dispatches
// them when due.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
)

const (
	// DefaultPollInterval between claim passes.
	DefaultPollInterval = 30 * time.Second
	// ExpiryHorizon after which a still-pending task is marked expired.
	ExpiryHorizon = 24 * time.Hour
	// maxRetries before a failing task is marked failed for good.
	maxRetries = 3
)

// Dispatcher sends the task prompt into a conversation and returns the
// reply text.
type Dispatcher func(ctx context.Context, agent, conversationID, prompt string) (string, error)

// Worker runs the poll loop.
type Worker struct {
	store    *store.Store
	bus      *bus.MessageBus
	dispatch Dispatcher
	interval time.Duration
}

// New creates a Worker. interval <= 0 takes the default.
func New(st *store.Store, b *bus.MessageBus, dispatch Dispatcher, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{store: st, bus: b, dispatch: dispatch, interval: interval}
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll expires long-overdue tasks, claims due ones and executes them.
func (w *Worker) Poll(ctx context.Context) {
	now := time.Now()

	if n, err := w.store.ExpireOverdueTasks(now.Add(-ExpiryHorizon)); err != nil {
		slog.Warn("tasks.expire_failed", "error", err)
	} else if n > 0 {
		slog.Info("tasks.expired", "count", n)
	}

	due, err := w.store.ClaimDueTasks(now)
	if err != nil {
		slog.Error("tasks.claim_failed", "error", err)
		return
	}
	for _, task := range due {
		w.execute(ctx, task)
	}
}

func (w *Worker) execute(ctx context.Context, task store.Task) {
	conversationID := task.ConversationID
	if conversationID == "" {
		conversationID = "task:" + task.ID
	}

	result, err := w.dispatch(ctx, task.Agent, conversationID, task.Prompt)
	if err != nil {
		if task.RetryCount+1 < maxRetries {
			slog.Warn("tasks.retry", "task", task.ID, "attempt", task.RetryCount+1, "error", err)
			if rqErr := w.store.RequeueTask(task.ID); rqErr != nil {
				slog.Error("tasks.requeue_failed", "task", task.ID, "error", rqErr)
			}
			return
		}
		slog.Error("tasks.failed", "task", task.ID, "error", err)
		if cErr := w.store.CompleteTask(task.ID, store.TaskFailed, "", err.Error()); cErr != nil {
			slog.Error("tasks.complete_failed", "task", task.ID, "error", cErr)
		}
		w.bus.RecordActivity(bus.ActivityEntry{
			Kind: "task", AgentID: task.Agent,
			Summary: "failed: " + task.Description,
		})
		return
	}

	if err := w.store.CompleteTask(task.ID, store.TaskCompleted, result, ""); err != nil {
		slog.Error("tasks.complete_failed", "task", task.ID, "error", err)
	}
	w.bus.RecordActivity(bus.ActivityEntry{
		Kind: "task", AgentID: task.Agent,
		Summary: "completed: " + task.Description,
	})
}
