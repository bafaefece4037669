package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Runs the Kanban task orchestrator's control loops and health surface",
	Long: `orchestrator drives two cooperating control loops over a shared Kanban
board: a Spec Generator that turns backlog projects into a spec plus
task list, and a Task Runner that dispatches queued tasks to local
agent processes.

Examples:
  orchestrator run --config config.yaml
  orchestrator agents list --agents agents.json
  orchestrator export --addr 127.0.0.1:8099`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config.yaml")
}
