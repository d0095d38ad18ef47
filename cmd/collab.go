package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawfleet/internal/collab"
	"github.com/nextlevelbuilder/clawfleet/internal/config"
)

func collabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collab",
		Short: "Inspect agent-to-agent collaboration state",
	}
	cmd.AddCommand(collabDelegationsCmd())
	cmd.AddCommand(collabTopicsCmd())
	cmd.AddCommand(collabMessagesCmd())
	cmd.AddCommand(collabSubscriptionsCmd())
	return cmd
}

func collabStore() *collab.Store {
	return collab.New(config.DataRoot())
}

func collabDelegationsCmd() *cobra.Command {
	var agent, status string
	cmd := &cobra.Command{
		Use:   "delegations",
		Short: "List delegations",
		Run: func(cmd *cobra.Command, args []string) {
			list, err := collabStore().ListDelegations(agent, status)
			if err != nil {
				fail(err)
			}
			for _, d := range list {
				fmt.Printf("%-36s %s -> %-12s %-12s %s\n", d.ID, d.From, d.To, d.Status, d.Task)
			}
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent (either side)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func collabTopicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List topics",
		Run: func(cmd *cobra.Command, args []string) {
			topics, err := collabStore().Topics()
			if err != nil {
				fail(err)
			}
			for _, topic := range topics {
				fmt.Println(topic)
			}
		},
	}
}

func collabMessagesCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "messages <topic>",
		Short: "Show a topic's messages in publication order",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var cutoff time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					fail(fmt.Errorf("parse --since: %w", err))
				}
				cutoff = t
			}
			msgs, err := collabStore().Messages(args[0], cutoff)
			if err != nil {
				fail(err)
			}
			for _, m := range msgs {
				fmt.Printf("%s  %-12s %s\n", m.Timestamp.Format(time.RFC3339), m.From, m.Text)
			}
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only messages strictly after this RFC3339 timestamp")
	return cmd
}

func collabSubscriptionsCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "List topic subscriptions",
		Run: func(cmd *cobra.Command, args []string) {
			subs, err := collabStore().Subscriptions(agent)
			if err != nil {
				fail(err)
			}
			for _, s := range subs {
				fmt.Printf("%-12s %-20s since %s\n", s.Agent, s.Topic, s.CreatedAt.Format("2006-01-02"))
			}
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent")
	return cmd
}
