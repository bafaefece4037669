package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/DYAI2025/kanban-orchestrator/internal/registry"
	"github.com/spf13/cobra"
)

var (
	agentsPath   string
	outputFormat string
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect the agent registry",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents known to the registry",
	RunE:  runAgentsList,
}

func init() {
	agentsCmd.PersistentFlags().StringVar(&agentsPath, "agents", "agents.json", "Path to the agent registry file (JSON or .toml)")
	agentsListCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json")
	agentsCmd.AddCommand(agentsListCmd)
	rootCmd.AddCommand(agentsCmd)
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	reg, err := registry.Load(agentsPath)
	if err != nil {
		return fmt.Errorf("agents list: %w", err)
	}
	agents := reg.List()

	if outputFormat == "json" {
		data, err := json.MarshalIndent(agents, "", "  ")
		if err != nil {
			return fmt.Errorf("agents list: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(agents) == 0 {
		fmt.Printf("No agents found in '%s'\n", agentsPath)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tENABLED\tDEFAULT\tRAM_MB\tKEYWORDS")
	for _, a := range agents {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\t%v\n", a.ID, a.Name, a.Enabled, a.Default, a.RAMMB, a.Keywords)
	}
	return w.Flush()
}
