package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawfleet/internal/config"
	"github.com/nextlevelbuilder/clawfleet/internal/registry"
)

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agent identities",
	}
	cmd.AddCommand(agentsListCmd())
	cmd.AddCommand(agentsInitCmd())
	cmd.AddCommand(agentsRemoveCmd())
	return cmd
}

func loadRegistry() (*config.Config, *registry.Registry, error) {
	root := config.DataRoot()
	cfg, err := config.Load(resolveConfigPath(root))
	if err != nil {
		return nil, nil, err
	}
	reg := registry.New(root)
	for _, slug := range cfg.AgentSlugs() {
		agentCfg, _ := cfg.Agent(slug)
		if _, err := reg.Ensure(slug, agentCfg); err != nil {
			return nil, nil, fmt.Errorf("ensure agent %s: %w", slug, err)
		}
	}
	return cfg, reg, nil
}

func agentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured agents",
		Run: func(cmd *cobra.Command, args []string) {
			_, reg, err := loadRegistry()
			if err != nil {
				fail(err)
			}
			agents := reg.List()
			for _, agent := range agents {
				line := fmt.Sprintf("%-16s %s", agent.Slug, agent.Dir)
				if agent.Config.Heartbeat != nil {
					line += fmt.Sprintf("  heartbeat=%s", agent.Config.Heartbeat.Every)
				}
				fmt.Println(line)
			}
			if len(agents) == 0 {
				fmt.Printf("no agents configured; add them under \"agents\" in %s\n", resolveConfigPath(config.DataRoot()))
			}
		},
	}
}

func agentsInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <slug>",
		Short: "Create an agent directory with seeded identity files",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			root := config.DataRoot()
			cfg, err := config.Load(resolveConfigPath(root))
			if err != nil {
				fail(err)
			}
			agentCfg, _ := cfg.Agent(args[0])
			reg := registry.New(root)
			agent, err := reg.Ensure(args[0], agentCfg)
			if err != nil {
				fail(err)
			}
			fmt.Printf("agent %s ready at %s\n", agent.Slug, agent.Dir)
		},
	}
}

func agentsRemoveCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "remove <slug>",
		Short: "Unregister an agent (keeps files unless --purge)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, reg, err := loadRegistry()
			if err != nil {
				fail(err)
			}
			if err := reg.Remove(args[0], purge); err != nil {
				fail(err)
			}
			fmt.Printf("agent %s removed\n", args[0])
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also delete the agent directory")
	return cmd
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
