package ralph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func loopConfig(t *testing.T, plan string) Config {
	t.Helper()
	dir := t.TempDir()
	planPath := filepath.Join(dir, "PLAN.md")
	if err := os.WriteFile(planPath, []byte(plan), 0o644); err != nil {
		t.Fatal(err)
	}
	return Config{
		PlanPath:     planPath,
		ProgressPath: filepath.Join(dir, "progress.md"),
		WorkDir:      dir,
	}
}

func TestRunCompletesAllTasks(t *testing.T) {
	cfg := loopConfig(t, "- [ ] First\n- [ ] Second\n")
	calls := 0
	loop := NewLoop(cfg, func(_ context.Context, prompt string) (string, error) {
		calls++
		return "done", nil
	})

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("runner calls = %d", calls)
	}
	if res.TasksCompleted != 2 || res.TasksRemaining != 0 || res.TasksBlocked != 0 || res.Aborted {
		t.Errorf("result = %+v", res)
	}

	plan, _ := os.ReadFile(cfg.PlanPath)
	if string(plan) != "- [x] First\n- [x] Second\n" {
		t.Errorf("plan = %q", plan)
	}
	progress, _ := os.ReadFile(cfg.ProgressPath)
	if !strings.Contains(string(progress), `## Iteration 1 – Task: "First"`) {
		t.Errorf("progress missing first entry:\n%s", progress)
	}
	if !strings.Contains(string(progress), "- Status: completed") {
		t.Errorf("progress missing status:\n%s", progress)
	}
}

func TestRunPromptCarriesProgress(t *testing.T) {
	cfg := loopConfig(t, "- [ ] First\n- [ ] Second\n")
	var prompts []string
	loop := NewLoop(cfg, func(_ context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return "learned something useful", nil
	})
	if _, err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(prompts) != 2 {
		t.Fatalf("prompts = %d", len(prompts))
	}
	if strings.Contains(prompts[0], "Progress notes") {
		t.Error("first prompt already has progress notes")
	}
	if !strings.Contains(prompts[1], "learned something useful") {
		t.Error("second prompt missing accumulated learnings")
	}
}

func TestRunVerifyFailureBlocksAfterRetries(t *testing.T) {
	cfg := loopConfig(t, "- [ ] Flaky task\n")
	cfg.VerifyCommand = "exit 1"
	cfg.MaxRetries = 2
	calls := 0
	loop := NewLoop(cfg, func(_ context.Context, prompt string) (string, error) {
		calls++
		return "tried", nil
	})

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if calls != cfg.MaxRetries {
		t.Errorf("runner calls = %d, want %d", calls, cfg.MaxRetries)
	}
	if res.TasksBlocked != 1 || res.TasksCompleted != 0 {
		t.Errorf("result = %+v", res)
	}
	plan, _ := os.ReadFile(cfg.PlanPath)
	if string(plan) != "- [!] Flaky task\n" {
		t.Errorf("plan = %q", plan)
	}
	progress, _ := os.ReadFile(cfg.ProgressPath)
	if !strings.Contains(string(progress), "- Status: blocked") {
		t.Errorf("no failure entry:\n%s", progress)
	}
}

func TestRunVerifySuccess(t *testing.T) {
	cfg := loopConfig(t, "- [ ] Task\n")
	cfg.VerifyCommand = "true"
	loop := NewLoop(cfg, func(_ context.Context, prompt string) (string, error) {
		if !strings.Contains(prompt, "verified with: true") {
			t.Error("prompt missing verify command")
		}
		return "ok", nil
	})
	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.TasksCompleted != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunnerErrorRevertsToOpen(t *testing.T) {
	cfg := loopConfig(t, "- [ ] Task\n")
	cfg.MaxRetries = 3
	calls := 0
	loop := NewLoop(cfg, func(_ context.Context, prompt string) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("subprocess crashed")
		}
		return "recovered", nil
	})
	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.TasksCompleted != 1 || res.TasksBlocked != 0 {
		t.Errorf("result = %+v", res)
	}
	if calls != 3 {
		t.Errorf("runner calls = %d", calls)
	}
}

func TestAbortBetweenCallAndVerify(t *testing.T) {
	cfg := loopConfig(t, "- [ ] First\n- [ ] Second\n")
	loop := NewLoop(cfg, nil)
	loop.run = func(_ context.Context, prompt string) (string, error) {
		loop.Abort()
		return "partial", nil
	}

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Aborted {
		t.Error("abort not reported")
	}
	// The in-flight task reverts to open; nothing completes.
	plan, _ := os.ReadFile(cfg.PlanPath)
	if string(plan) != "- [ ] First\n- [ ] Second\n" {
		t.Errorf("plan = %q", plan)
	}
	if res.TasksRemaining != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunResetsStaleInProgressOnce(t *testing.T) {
	cfg := loopConfig(t, "- [~] Stale task\n")
	loop := NewLoop(cfg, func(_ context.Context, prompt string) (string, error) {
		return "done", nil
	})
	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.TasksCompleted != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunHaltsWhenPlanExhausted(t *testing.T) {
	cfg := loopConfig(t, "- [x] Done\n- [!] Blocked\n")
	loop := NewLoop(cfg, func(_ context.Context, prompt string) (string, error) {
		t.Error("runner called with no open tasks")
		return "", nil
	})
	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.TasksCompleted != 1 || res.TasksBlocked != 1 || res.TasksRemaining != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestAutoCommitDefault(t *testing.T) {
	on, off := true, false
	tests := []struct {
		domain   string
		override *bool
		want     bool
	}{
		{"coding", nil, true},
		{"research", nil, false},
		{"general", nil, false},
		{"coding", &off, false},
		{"ops", &on, true},
	}
	for _, tt := range tests {
		l := NewLoop(Config{Domain: tt.domain, AutoCommit: tt.override, PlanPath: "x"}, nil)
		if got := l.autoCommit(); got != tt.want {
			t.Errorf("autoCommit(domain=%s, override=%v) = %v, want %v", tt.domain, tt.override, got, tt.want)
		}
	}
}

func TestFormatEntryTruncatesOutput(t *testing.T) {
	long := strings.Repeat("x", maxOutputChars+500)
	got := formatEntry(Entry{Iteration: 3, Task: "Big task", Status: "completed", Duration: time.Second, Output: long}, time.Now())
	if !strings.Contains(got, "...(truncated)") {
		t.Error("long output not truncated")
	}
	if strings.Count(got, "x") != maxOutputChars {
		t.Errorf("kept %d chars, want %d", strings.Count(got, "x"), maxOutputChars)
	}

	short := formatEntry(Entry{Iteration: 1, Task: "Small", Status: "completed", Output: "fine"}, time.Now())
	if strings.Contains(short, "truncated") {
		t.Error("short output truncated")
	}
	if !strings.Contains(short, `## Iteration 1 – Task: "Small"`) {
		t.Errorf("bad heading:\n%s", short)
	}
}
