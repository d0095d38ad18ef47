package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawfleet/internal/config"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
)

func openStore() (*store.Store, error) {
	return store.Open(filepath.Join(config.DataRoot(), "orchestrator.db"))
}

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage recurring agent prompts",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronRemoveCmd())
	cmd.AddCommand(cronEnableCmd(true))
	cmd.AddCommand(cronEnableCmd(false))
	return cmd
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cron jobs",
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				fail(err)
			}
			defer st.Close()
			jobs, err := st.ListCronJobs(false)
			if err != nil {
				fail(err)
			}
			for _, job := range jobs {
				state := "enabled"
				if !job.Enabled {
					state = "disabled"
				}
				last := "never"
				if job.LastRunAt != nil {
					last = job.LastRunAt.Format("2006-01-02 15:04")
				}
				fmt.Printf("%-20s %-16s agent=%-12s %s  last=%s\n", job.Name, job.Expr, job.Agent, state, last)
			}
		},
	}
}

func cronAddCmd() *cobra.Command {
	var deliverTo string
	cmd := &cobra.Command{
		Use:   "add <name> <expr> <agent> <prompt>",
		Short: "Add a cron job",
		Args:  cobra.ExactArgs(4),
		Run: func(cmd *cobra.Command, args []string) {
			if err := config.ValidateCronExpr(args[1]); err != nil {
				fail(err)
			}
			st, err := openStore()
			if err != nil {
				fail(err)
			}
			defer st.Close()
			job, err := st.AddCronJob(store.CronJob{
				Name:      args[0],
				Expr:      args[1],
				Agent:     args[2],
				Prompt:    args[3],
				DeliverTo: deliverTo,
				Enabled:   true,
			})
			if err != nil {
				fail(err)
			}
			fmt.Printf("cron job %s added (%s)\n", job.Name, job.ID)
		},
	}
	cmd.Flags().StringVar(&deliverTo, "deliver-to", "", "channel target for the output, e.g. slack:#alerts")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a cron job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				fail(err)
			}
			defer st.Close()
			if err := st.RemoveCronJobByName(args[0]); err != nil {
				fail(err)
			}
			fmt.Printf("cron job %s removed\n", args[0])
		},
	}
}

func cronEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <name>", "Enable a cron job"
	if !enable {
		use, short = "disable <name>", "Disable a cron job"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				fail(err)
			}
			defer st.Close()
			if err := st.SetCronJobEnabled(args[0], enable); err != nil {
				fail(err)
			}
		},
	}
}
