package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/config"
	"github.com/nextlevelbuilder/clawfleet/internal/ipc"
	"github.com/nextlevelbuilder/clawfleet/internal/ralph"
	"github.com/nextlevelbuilder/clawfleet/internal/session"
	"github.com/nextlevelbuilder/clawfleet/internal/toolserver"
)

func ralphCmd() *cobra.Command {
	var (
		maxIterations int
		maxRetries    int
		verify        string
		domain        string
		autoCommit    string
	)
	cmd := &cobra.Command{
		Use:   "ralph <agent>",
		Short: "Work through the agent's PLAN.md one task at a time",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, reg, err := loadRegistry()
			if err != nil {
				fail(err)
			}
			agent, err := reg.Get(args[0])
			if err != nil {
				fail(err)
			}
			st, err := openStore()
			if err != nil {
				fail(err)
			}
			defer st.Close()

			root := config.DataRoot()
			tools := toolserver.New(cfg, root, ipc.SocketPath(root))
			sessions, err := session.NewManager(cfg, reg, st, tools, bus.New(), root)
			if err != nil {
				fail(err)
			}

			loopCfg := ralph.Config{
				PlanPath:      filepath.Join(agent.Dir, "PLAN.md"),
				ProgressPath:  filepath.Join(agent.Dir, "progress.md"),
				WorkDir:       agent.Dir,
				MaxIterations: maxIterations,
				MaxRetries:    maxRetries,
				VerifyCommand: verify,
				Domain:        domain,
			}
			switch autoCommit {
			case "on":
				on := true
				loopCfg.AutoCommit = &on
			case "off":
				off := false
				loopCfg.AutoCommit = &off
			}

			conversationID := "ralph:" + agent.Slug
			loop := ralph.NewLoop(loopCfg, func(ctx context.Context, prompt string) (string, error) {
				reply, err := sessions.Send(ctx, session.Request{
					Agent:          agent.Slug,
					ConversationID: conversationID,
					Prompt:         prompt,
				})
				if err != nil {
					return "", err
				}
				return reply.Text, nil
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				loop.Abort()
			}()

			res, err := loop.Run(ctx)
			if err != nil {
				fail(err)
			}
			fmt.Printf("iterations=%d completed=%d blocked=%d remaining=%d duration=%s aborted=%v\n",
				res.TotalIterations, res.TasksCompleted, res.TasksBlocked, res.TasksRemaining,
				time.Duration(res.DurationMs)*time.Millisecond, res.Aborted)
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration budget (default 50)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retries before a task is blocked (default 3)")
	cmd.Flags().StringVar(&verify, "verify", "", "shell command that must exit 0 for a task to count as done")
	cmd.Flags().StringVar(&domain, "domain", "general", "guideline set: coding, research, ops or general")
	cmd.Flags().StringVar(&autoCommit, "auto-commit", "", "override auto commit: on or off (default: on for coding)")
	return cmd
}
