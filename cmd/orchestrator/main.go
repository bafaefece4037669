package main

import (
	"os"

	"github.com/DYAI2025/kanban-orchestrator/cmd/orchestrator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
