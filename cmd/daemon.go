package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/channels"
	"github.com/nextlevelbuilder/clawfleet/internal/channels/discord"
	"github.com/nextlevelbuilder/clawfleet/internal/channels/slack"
	"github.com/nextlevelbuilder/clawfleet/internal/channels/telegram"
	"github.com/nextlevelbuilder/clawfleet/internal/channels/webchat"
	"github.com/nextlevelbuilder/clawfleet/internal/config"
	"github.com/nextlevelbuilder/clawfleet/internal/cron"
	"github.com/nextlevelbuilder/clawfleet/internal/heartbeat"
	"github.com/nextlevelbuilder/clawfleet/internal/ipc"
	"github.com/nextlevelbuilder/clawfleet/internal/memory"
	"github.com/nextlevelbuilder/clawfleet/internal/registry"
	"github.com/nextlevelbuilder/clawfleet/internal/router"
	"github.com/nextlevelbuilder/clawfleet/internal/session"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
	"github.com/nextlevelbuilder/clawfleet/internal/tasks"
	"github.com/nextlevelbuilder/clawfleet/internal/toolserver"
	"github.com/nextlevelbuilder/clawfleet/internal/tracing"
)

const memoryWatchDebounce = 2 * time.Second

func runDaemon() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	root := config.DataRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		slog.Error("data root unavailable", "path", root, "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(resolveConfigPath(root))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	reg := registry.New(root)
	for _, slug := range cfg.AgentSlugs() {
		agentCfg, _ := cfg.Agent(slug)
		if _, err := reg.Ensure(slug, agentCfg); err != nil {
			slog.Error("agent setup failed", "agent", slug, "error", err)
			os.Exit(1)
		}
	}

	st, err := store.Open(filepath.Join(root, "orchestrator.db"))
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	msgBus := bus.New()

	hub := ipc.NewHub(root)
	tools := toolserver.New(cfg, root, hub.Path())
	go tools.ProbeAll(ctx)

	sessions, err := session.NewManager(cfg, reg, st, tools, msgBus, root)
	if err != nil {
		slog.Error("failed to init session manager", "error", err)
		os.Exit(1)
	}

	chans := channels.NewManager(msgBus)
	registerChannels(chans, cfg)

	ipc.RegisterHandlers(hub, sessions, reg, chans)
	if err := hub.Start(ctx); err != nil {
		slog.Error("failed to start ipc hub", "error", err)
		os.Exit(1)
	}
	defer hub.Stop()

	rt := router.New(cfg.Routing, reg.Slugs(), st)

	dispatch := func(ctx context.Context, agent, conversationID, prompt string) (string, error) {
		reply, err := sessions.Send(ctx, session.Request{
			Agent:          agent,
			ConversationID: conversationID,
			Prompt:         prompt,
		})
		if err != nil {
			return "", err
		}
		return reply.Text, nil
	}

	sched := cron.New(st, msgBus, cron.Dispatcher(dispatch))
	if err := sched.Start(ctx); err != nil {
		slog.Error("failed to start cron scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	hb := heartbeat.New(reg, msgBus, heartbeat.Dispatcher(dispatch))
	hb.Start(ctx)

	taskWorker := tasks.New(st, msgBus, tasks.Dispatcher(dispatch), 0)
	go taskWorker.Run(ctx)

	engines := openMemoryEngines(ctx, cfg, reg)
	defer func() {
		for _, eng := range engines {
			eng.Close()
		}
	}()

	chans.ConnectAll(ctx)
	defer chans.DisconnectAll(context.Background())
	go chans.DispatchOutbound(ctx)
	go pumpInbound(ctx, msgBus, rt, sessions, chans)

	slog.Info("clawfleet running", "root", root, "agents", len(reg.Slugs()), "socket", hub.Path())
	<-ctx.Done()

	slog.Info("shutting down")
	hb.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown failed", "error", err)
	}
}

func registerChannels(chans *channels.Manager, cfg *config.Config) {
	if c := cfg.Channels.Telegram; c.Enabled {
		chans.Register(telegram.New(c.Token))
	}
	if c := cfg.Channels.Discord; c.Enabled {
		chans.Register(discord.New(c.Token))
	}
	if c := cfg.Channels.Slack; c.Enabled {
		chans.Register(slack.New(c.BotToken, c.AppToken))
	}
	if c := cfg.Channels.WebChat; c.Enabled {
		listen := c.Listen
		if listen == "" {
			listen = "127.0.0.1:18791"
		}
		chans.Register(webchat.New(listen))
	}
}

func openMemoryEngines(ctx context.Context, cfg *config.Config, reg *registry.Registry) map[string]*memory.Engine {
	var embedder memory.Embedder
	if cfg.Memory.EmbeddingAPIKey != "" {
		embedder = memory.NewOpenAIEmbedder(cfg.Memory.EmbeddingAPIKey, cfg.Memory.EmbeddingBase, cfg.Memory.EmbeddingModel)
	}

	engines := map[string]*memory.Engine{}
	for _, agent := range reg.List() {
		eng, err := memory.Open(agent.Dir, memory.Options{
			ChunkSize:    cfg.Memory.ChunkSize,
			ChunkOverlap: cfg.Memory.ChunkOverlap,
			Embedder:     embedder,
		})
		if err != nil {
			slog.Error("memory engine unavailable", "agent", agent.Slug, "error", err)
			continue
		}
		if err := eng.Reindex(ctx); err != nil {
			slog.Warn("memory reindex failed", "agent", agent.Slug, "error", err)
		}
		go eng.Watch(ctx, memoryWatchDebounce)
		engines[agent.Slug] = eng
	}
	return engines
}

// pumpInbound routes channel messages into agent sessions and publishes the
// replies. Each message runs on its own goroutine; ordering within a
// conversation is enforced by the session manager's per-conversation lock.
func pumpInbound(ctx context.Context, msgBus *bus.MessageBus, rt *router.Router, sessions *session.Manager, chans *channels.Manager) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go func(msg bus.InboundMessage) {
			route, err := rt.Route(msg)
			if err != nil {
				slog.Warn("message dropped", "channel", msg.Channel, "error", err)
				return
			}
			if err := chans.Typing(ctx, msg.Channel, msg.ChatID); err != nil {
				slog.Debug("typing indicator failed", "channel", msg.Channel, "error", err)
			}

			reply, err := sessions.Send(ctx, session.Request{
				Agent:          route.AgentID,
				ConversationID: route.SessionKey,
				Channel:        msg.Channel,
				UserID:         msg.UserID,
				ChatID:         msg.ChatID,
				Prompt:         route.Text,
			})
			if err != nil {
				slog.Error("agent send failed", "agent", route.AgentID, "error", err)
				msgBus.PublishOutbound(bus.OutboundMessage{
					Channel: msg.Channel, ChatID: msg.ChatID, ThreadID: msg.ThreadID,
					Text: "Sorry, something went wrong handling that message.",
				})
				return
			}
			if reply.Text == "" {
				return
			}
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel:  msg.Channel,
				ChatID:   msg.ChatID,
				ThreadID: msg.ThreadID,
				Text:     reply.Text,
			})
			msgBus.RecordActivity(bus.ActivityEntry{
				Kind: "message", AgentID: route.AgentID,
				Summary: "replied on " + msg.Channel,
			})
		}(msg)
	}
}
