package cron

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recorder) dispatch(_ context.Context, agent, conv, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, agent+"|"+conv+"|"+prompt)
	if r.err != nil {
		return "", r.err
	}
	return "job output", nil
}

func newTestScheduler(t *testing.T, rec *recorder) (*Scheduler, *store.Store, *bus.MessageBus) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	b := bus.New()
	return New(st, b, rec.dispatch), st, b
}

func TestExecuteJobDeliversAndTouches(t *testing.T) {
	rec := &recorder{}
	s, st, b := newTestScheduler(t, rec)

	_, err := st.AddCronJob(store.CronJob{
		Name: "report", Expr: "0 9 * * *", Agent: "jarvis",
		Prompt: "write the report", DeliverTo: "slack:#reports", Enabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	s.ExecuteJob(context.Background(), "report")

	if len(rec.calls) != 1 || !strings.Contains(rec.calls[0], "cron:report:jarvis") {
		t.Errorf("dispatch calls = %v", rec.calls)
	}

	job, _ := st.GetCronJobByName("report")
	if job.LastRunAt == nil {
		t.Error("last_run_at not recorded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, ok := b.ConsumeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound delivery")
	}
	if out.Channel != "slack" || out.ChatID != "#reports" || out.Text != "job output" {
		t.Errorf("outbound = %+v", out)
	}
}

func TestExecuteJobTouchesOnDispatchFailure(t *testing.T) {
	rec := &recorder{err: errors.New("worker down")}
	s, st, b := newTestScheduler(t, rec)

	st.AddCronJob(store.CronJob{
		Name: "flaky", Expr: "* * * * *", Agent: "jarvis",
		Prompt: "p", DeliverTo: "slack:#x", Enabled: true,
	})

	s.ExecuteJob(context.Background(), "flaky")

	// last_run_at advances regardless of delivery.
	job, _ := st.GetCronJobByName("flaky")
	if job.LastRunAt == nil {
		t.Error("failed run did not record last_run_at")
	}

	// No outbound on failure.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if out, ok := b.ConsumeOutbound(ctx); ok {
		t.Errorf("unexpected outbound %+v", out)
	}

	// Failure shows up in the activity feed.
	entries := b.Activity()
	if len(entries) != 1 || entries[0].Kind != "cron" {
		t.Errorf("activity = %+v", entries)
	}
}

func TestAddRejectsBadExpression(t *testing.T) {
	rec := &recorder{}
	s, _, _ := newTestScheduler(t, rec)

	if _, err := s.Add(store.CronJob{Name: "bad", Expr: "not cron", Agent: "a", Prompt: "p"}); err == nil {
		t.Error("invalid expression accepted")
	}
	if _, err := s.Add(store.CronJob{Name: "good", Expr: "*/5 * * * *", Agent: "a", Prompt: "p"}); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
}

func TestEnableDisableRemove(t *testing.T) {
	rec := &recorder{}
	s, st, _ := newTestScheduler(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if _, err := s.Add(store.CronJob{Name: "j", Expr: "0 0 1 1 *", Agent: "a", Prompt: "p", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	if err := s.Disable("j"); err != nil {
		t.Fatal(err)
	}
	job, _ := st.GetCronJobByName("j")
	if job.Enabled {
		t.Error("job still enabled")
	}

	if err := s.Enable("j"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveByName("j"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetCronJobByName("j"); !errors.Is(err, store.ErrCronJobNotFound) {
		t.Errorf("job survives removal: %v", err)
	}
}
