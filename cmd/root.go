package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawfleet/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/clawfleet/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "clawfleet",
	Short: "clawfleet — local multi-agent runtime",
	Long:  "clawfleet runs a fleet of long-lived agents on top of a worker CLI: persistent sessions, markdown memory, channel adapters, schedulers and agent-to-agent collaboration.",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data root>/config.json or $CLAWFLEET_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(ralphCmd())
	rootCmd.AddCommand(collabCmd())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon",
		Run: func(cmd *cobra.Command, args []string) {
			runDaemon()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clawfleet %s\n", Version)
		},
	}
}

func resolveConfigPath(root string) string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CLAWFLEET_CONFIG"); v != "" {
		return v
	}
	return config.Path(root)
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
