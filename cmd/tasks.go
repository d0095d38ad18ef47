package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawfleet/internal/store"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage deferred one-shot prompts",
	}
	cmd.AddCommand(tasksListCmd())
	cmd.AddCommand(tasksAddCmd())
	cmd.AddCommand(tasksCancelCmd())
	return cmd
}

func tasksListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				fail(err)
			}
			defer st.Close()
			list, err := st.ListTasks(status)
			if err != nil {
				fail(err)
			}
			for _, task := range list {
				fmt.Printf("%-36s agent=%-12s %-10s at=%s  %s\n",
					task.ID, task.Agent, task.Status,
					task.ExecuteAt.Format("2006-01-02 15:04"), task.Description)
			}
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func tasksAddCmd() *cobra.Command {
	var in time.Duration
	var description string
	cmd := &cobra.Command{
		Use:   "add <agent> <prompt>",
		Short: "Schedule a one-shot prompt",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				fail(err)
			}
			defer st.Close()
			task, err := st.AddTask(store.Task{
				Agent:       args[0],
				Prompt:      args[1],
				Description: description,
				ExecuteAt:   time.Now().Add(in),
			})
			if err != nil {
				fail(err)
			}
			fmt.Printf("task %s scheduled for %s\n", task.ID, task.ExecuteAt.Format(time.RFC3339))
		},
	}
	cmd.Flags().DurationVar(&in, "in", 0, "delay before execution, e.g. 2h30m")
	cmd.Flags().StringVar(&description, "description", "", "short task description")
	return cmd
}

func tasksCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				fail(err)
			}
			defer st.Close()
			if err := st.CancelTask(args[0]); err != nil {
				fail(err)
			}
			fmt.Printf("task %s cancelled\n", args[0])
		},
	}
}
