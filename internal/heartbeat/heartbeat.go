// Package heartbeat runs each agent's recurring self-review cycle: read the
// checklist, prompt the agent, suppress all-clear responses, deliver the
// rest.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/config"
	"github.com/nextlevelbuilder/clawfleet/internal/registry"
)

// Token is the exact all-clear sentinel an agent responds with when nothing
// needs attention.
const Token = "HEARTBEAT_OK"

// Dispatcher sends the heartbeat prompt into the agent's heartbeat
// conversation and returns the reply text.
type Dispatcher func(ctx context.Context, agent, conversationID, prompt string) (string, error)

// Runner drives per-agent heartbeat tickers.
type Runner struct {
	registry *registry.Registry
	bus      *bus.MessageBus
	dispatch Dispatcher
	now      func() time.Time

	wg sync.WaitGroup
}

// New creates a Runner.
func New(reg *registry.Registry, b *bus.MessageBus, dispatch Dispatcher) *Runner {
	return &Runner{
		registry: reg,
		bus:      b,
		dispatch: dispatch,
		now:      time.Now,
	}
}

// Start launches a ticker for every agent with a heartbeat configured.
// Tickers stop with ctx and never block shutdown.
func (r *Runner) Start(ctx context.Context) {
	for _, agent := range r.registry.List() {
		hb := agent.Config.Heartbeat
		if hb == nil || hb.Every == "" {
			continue
		}
		interval := ParseInterval(hb.Every)
		slog.Info("heartbeat.scheduled", "agent", agent.Slug, "every", interval)

		r.wg.Add(1)
		go func(slug string, hb config.HeartbeatConfig) {
			defer r.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.Tick(ctx, slug, hb)
				}
			}
		}(agent.Slug, *hb)
	}
}

// Wait blocks until all tickers have exited.
func (r *Runner) Wait() { r.wg.Wait() }

// Tick runs one heartbeat cycle for an agent.
func (r *Runner) Tick(ctx context.Context, slug string, hb config.HeartbeatConfig) {
	if !InWindow(hb.ActiveHours, r.now()) {
		slog.Debug("heartbeat.outside_window", "agent", slug)
		return
	}

	checklist, err := r.registry.ReadFile(slug, registry.HeartbeatFile)
	if err != nil {
		slog.Warn("heartbeat.checklist_read_failed", "agent", slug, "error", err)
	}

	prompt := buildPrompt(string(checklist), hb.Mode)
	conversationID := "heartbeat:" + slug
	reply, err := r.dispatch(ctx, slug, conversationID, prompt)
	if err != nil {
		slog.Error("heartbeat.dispatch_failed", "agent", slug, "error", err)
		r.bus.RecordActivity(bus.ActivityEntry{
			Kind: "heartbeat", AgentID: slug,
			Summary: fmt.Sprintf("failed: %v", err),
		})
		return
	}

	allClear := isAllClear(reply)
	if !(allClear && hb.SuppressOK) && hb.DeliverTo != "" {
		channel, target, ok := strings.Cut(hb.DeliverTo, ":")
		if ok {
			r.bus.PublishOutbound(bus.OutboundMessage{Channel: channel, ChatID: target, Text: reply})
		} else {
			slog.Warn("heartbeat.bad_deliver_to", "agent", slug, "deliverTo", hb.DeliverTo)
		}
	}

	summary := "tick"
	if allClear {
		summary = "ok"
	}
	r.bus.RecordActivity(bus.ActivityEntry{Kind: "heartbeat", AgentID: slug, Summary: summary})
}

// isAllClear reports whether the reply signals nothing to report: either
// exactly the token after trimming, or the token contained in a short reply.
func isAllClear(reply string) bool {
	trimmed := strings.TrimSpace(reply)
	return trimmed == Token || strings.Contains(trimmed, Token)
}

func buildPrompt(checklist, mode string) string {
	var b strings.Builder
	b.WriteString("Heartbeat check. Your checklist:\n\n")
	if strings.TrimSpace(checklist) != "" {
		b.WriteString(checklist)
		b.WriteString("\n")
	} else {
		b.WriteString("(no checklist configured)\n")
	}
	b.WriteString("\n")
	if mode == "work" {
		b.WriteString("Review each item and perform any work that needs doing now.\n")
	} else {
		b.WriteString("Review each item and report anything that needs attention.\n")
	}
	b.WriteString("If nothing needs attention, respond with exactly: " + Token)
	return b.String()
}
