package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/config"
	"github.com/nextlevelbuilder/clawfleet/internal/ipc"
	"github.com/nextlevelbuilder/clawfleet/internal/session"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
	"github.com/nextlevelbuilder/clawfleet/internal/toolserver"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect conversation sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsEndCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				fail(err)
			}
			defer st.Close()
			sessions, err := st.ListSessions(agent)
			if err != nil {
				fail(err)
			}
			for _, s := range sessions {
				fmt.Printf("%-40s agent=%-12s channel=%-10s %-10s turns=%d last=%s\n",
					s.ConversationID, s.Agent, s.Channel, s.Status, s.Turns,
					s.LastActiveAt.Format("2006-01-02 15:04"))
			}
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent slug")
	return cmd
}

// openSessionManager builds the same session manager the daemon uses so
// maintenance commands share its session-map handling.
func openSessionManager() (*session.Manager, *store.Store, error) {
	cfg, reg, err := loadRegistry()
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	root := config.DataRoot()
	tools := toolserver.New(cfg, root, ipc.SocketPath(root))
	mgr, err := session.NewManager(cfg, reg, st, tools, bus.New(), root)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return mgr, st, nil
}

func sessionsEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <conversation-id>",
		Short: "Terminate a conversation; the next message starts a fresh session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mgr, st, err := openSessionManager()
			if err != nil {
				fail(err)
			}
			defer st.Close()
			if err := mgr.End(args[0]); err != nil {
				fail(err)
			}
			fmt.Printf("ended %s\n", args[0])
		},
	}
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Remove a conversation's session row and resume mapping",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mgr, st, err := openSessionManager()
			if err != nil {
				fail(err)
			}
			defer st.Close()
			if err := mgr.Delete(args[0]); err != nil {
				fail(err)
			}
			fmt.Printf("deleted %s\n", args[0])
		},
	}
}
