package ralph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxIterations bounds a single Run.
	DefaultMaxIterations = 50
	// DefaultMaxRetries before a failing task is marked blocked.
	DefaultMaxRetries = 3
	// verifyTimeout is the wall-clock budget for one verification command.
	verifyTimeout = 5 * time.Minute
)

// Runner executes one work prompt against the agent and returns its output.
type Runner func(ctx context.Context, prompt string) (string, error)

// Config for one loop run.
type Config struct {
	PlanPath      string
	ProgressPath  string
	WorkDir       string
	MaxIterations int
	MaxRetries    int
	VerifyCommand string
	Domain        string
	// AutoCommit overrides the default (enabled iff Domain is "coding").
	AutoCommit *bool
}

// Result summarizes a completed run.
type Result struct {
	TotalIterations int   `json:"totalIterations"`
	TasksCompleted  int   `json:"tasksCompleted"`
	TasksBlocked    int   `json:"tasksBlocked"`
	TasksRemaining  int   `json:"tasksRemaining"`
	DurationMs      int64 `json:"durationMs"`
	Aborted         bool  `json:"aborted"`
}

// Loop drives an agent through the plan file one task per iteration.
type Loop struct {
	cfg     Config
	run     Runner
	aborted atomic.Bool
}

// NewLoop applies defaults and returns a Loop.
func NewLoop(cfg Config, run Runner) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Domain == "" {
		cfg.Domain = "general"
	}
	if cfg.ProgressPath == "" {
		cfg.ProgressPath = "progress.md"
	}
	return &Loop{cfg: cfg, run: run}
}

// Abort requests a stop. Checked at task boundaries and between the agent
// call and the verify step.
func (l *Loop) Abort() { l.aborted.Store(true) }

func (l *Loop) autoCommit() bool {
	if l.cfg.AutoCommit != nil {
		return *l.cfg.AutoCommit
	}
	return l.cfg.Domain == "coding"
}

// Run iterates until the plan is exhausted, the iteration budget runs out,
// or Abort is called.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	retries := map[int]int{}
	resetUsed := false

	var res Result
	for res.TotalIterations < l.cfg.MaxIterations && !l.aborted.Load() {
		res.TotalIterations++

		content, err := os.ReadFile(l.cfg.PlanPath)
		if err != nil {
			return res, fmt.Errorf("read plan: %w", err)
		}
		tasks := ParsePlan(string(content))

		next, ok := firstOpen(tasks)
		if !ok {
			// No open task. Stale in_progress markers get one reset pass,
			// then the loop halts.
			if hasInProgress(tasks) && !resetUsed {
				resetUsed = true
				for _, t := range tasks {
					if t.Status == StatusInProgress {
						if err := UpdateTaskStatus(l.cfg.PlanPath, t.Index, StatusOpen); err != nil {
							return res, err
						}
					}
				}
				continue
			}
			break
		}

		if err := UpdateTaskStatus(l.cfg.PlanPath, next.Index, StatusInProgress); err != nil {
			return res, err
		}

		progress, _ := os.ReadFile(l.cfg.ProgressPath)
		prompt := buildWorkPrompt(next, string(progress), l.cfg)

		taskStart := time.Now()
		output, runErr := l.run(ctx, prompt)
		if runErr != nil {
			slog.Warn("ralph.task_errored", "task", next.Text, "error", runErr)
			l.recordFailure(next, retries, res.TotalIterations, time.Since(taskStart), runErr.Error())
			continue
		}

		if l.aborted.Load() {
			if err := UpdateTaskStatus(l.cfg.PlanPath, next.Index, StatusOpen); err != nil {
				return res, err
			}
			break
		}

		success := true
		verifyOut := ""
		if l.cfg.VerifyCommand != "" {
			success, verifyOut = l.verify(ctx)
		}

		if l.aborted.Load() {
			if err := UpdateTaskStatus(l.cfg.PlanPath, next.Index, StatusOpen); err != nil {
				return res, err
			}
			break
		}

		if success {
			if err := UpdateTaskStatus(l.cfg.PlanPath, next.Index, StatusDone); err != nil {
				return res, err
			}
			l.appendEntry(Entry{
				Iteration: res.TotalIterations,
				Task:      next.Text,
				Status:    "completed",
				Duration:  time.Since(taskStart),
				Output:    output,
			})
			if l.autoCommit() {
				l.commit(ctx, next.Text)
			}
			slog.Info("ralph.task_completed", "task", next.Text)
			continue
		}

		slog.Warn("ralph.verify_failed", "task", next.Text)
		l.recordFailure(next, retries, res.TotalIterations, time.Since(taskStart), verifyOut)
	}

	res.Aborted = l.aborted.Load()
	res.DurationMs = time.Since(start).Milliseconds()
	l.tally(&res)
	return res, nil
}

// recordFailure reverts the task to open, or blocks it once retries are
// spent, and appends a failure entry in the latter case.
func (l *Loop) recordFailure(task Task, retries map[int]int, iteration int, elapsed time.Duration, output string) {
	retries[task.Index]++
	if retries[task.Index] >= l.cfg.MaxRetries {
		if err := UpdateTaskStatus(l.cfg.PlanPath, task.Index, StatusBlocked); err != nil {
			slog.Error("ralph.plan_update_failed", "error", err)
		}
		l.appendEntry(Entry{
			Iteration: iteration,
			Task:      task.Text,
			Status:    "blocked",
			Duration:  elapsed,
			Output:    output,
		})
		return
	}
	if err := UpdateTaskStatus(l.cfg.PlanPath, task.Index, StatusOpen); err != nil {
		slog.Error("ralph.plan_update_failed", "error", err)
	}
}

func (l *Loop) verify(ctx context.Context) (bool, string) {
	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	cmd := exec.CommandContext(vctx, "sh", "-c", l.cfg.VerifyCommand)
	cmd.Dir = l.cfg.WorkDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Sprintf("verify %q: %v\n%s", l.cfg.VerifyCommand, err, out)
	}
	return true, string(out)
}

// commit stages and commits everything in the work dir. Failures are logged
// and otherwise ignored.
func (l *Loop) commit(ctx context.Context, taskText string) {
	script := fmt.Sprintf("git add -A && git commit -m %q", "Complete task: "+taskText)
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = l.cfg.WorkDir
	if out, err := cmd.CombinedOutput(); err != nil {
		slog.Warn("ralph.commit_failed", "error", err, "output", string(out))
	}
}

func (l *Loop) appendEntry(e Entry) {
	if err := AppendEntry(l.cfg.ProgressPath, e); err != nil {
		slog.Error("ralph.progress_append_failed", "error", err)
	}
}

func (l *Loop) tally(res *Result) {
	content, err := os.ReadFile(l.cfg.PlanPath)
	if err != nil {
		return
	}
	for _, t := range ParsePlan(string(content)) {
		switch t.Status {
		case StatusDone:
			res.TasksCompleted++
		case StatusBlocked:
			res.TasksBlocked++
		default:
			res.TasksRemaining++
		}
	}
}

func firstOpen(tasks []Task) (Task, bool) {
	for _, t := range tasks {
		if t.Status == StatusOpen {
			return t, true
		}
	}
	return Task{}, false
}

func hasInProgress(tasks []Task) bool {
	for _, t := range tasks {
		if t.Status == StatusInProgress {
			return true
		}
	}
	return false
}
