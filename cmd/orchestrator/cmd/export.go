package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var exportAddr string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Trigger a board backup on a running orchestrator and print where it landed",
	Long: `export calls the /export endpoint on a running orchestrator process
rather than building a backup standalone, so the CLI and the health
surface always agree on what a backup contains.

Example:
  orchestrator export --addr 127.0.0.1:8099`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportAddr, "addr", "127.0.0.1:8099", "Address of a running orchestrator's health surface")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/export", exportAddr))
	if err != nil {
		return fmt.Errorf("export: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("export: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("export: server returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Path          string `json:"path"`
		ManifestPath  string `json:"manifestPath"`
		TaskCount     int    `json:"taskCount"`
		ArchiveCount  int    `json:"archiveCount"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("export: decode response: %w", err)
	}

	fmt.Printf("Backup written to %s\n", result.Path)
	fmt.Printf("Manifest written to %s\n", result.ManifestPath)
	fmt.Printf("Tasks: %d, result archives: %d\n", result.TaskCount, result.ArchiveCount)
	return nil
}
