package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DYAI2025/kanban-orchestrator/internal/board"
	"github.com/DYAI2025/kanban-orchestrator/internal/columns"
	"github.com/DYAI2025/kanban-orchestrator/internal/config"
	"github.com/DYAI2025/kanban-orchestrator/internal/contextpipe"
	"github.com/DYAI2025/kanban-orchestrator/internal/events"
	"github.com/DYAI2025/kanban-orchestrator/internal/health"
	"github.com/DYAI2025/kanban-orchestrator/internal/llmchain"
	"github.com/DYAI2025/kanban-orchestrator/internal/nats"
	"github.com/DYAI2025/kanban-orchestrator/internal/notify"
	"github.com/DYAI2025/kanban-orchestrator/internal/registry"
	"github.com/DYAI2025/kanban-orchestrator/internal/runner"
	"github.com/DYAI2025/kanban-orchestrator/internal/specgen"
	"github.com/DYAI2025/kanban-orchestrator/internal/sysmem"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Spec Generator and Task Runner control loops plus the health surface",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	store, err := buildStore(cfg.Board)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	reg, err := registry.Load(cfg.Runner.AgentsPath)
	if err != nil {
		return fmt.Errorf("run: load agent registry: %w", err)
	}

	cols := columns.NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := columns.Bootstrap(ctx, store, cols); err != nil {
		return fmt.Errorf("run: bootstrap columns: %w", err)
	}

	bus := events.NewBus(nil)
	var embeddedNATS *nats.EmbeddedServer
	if cfg.Events.NATSEnabled {
		embeddedNATS, err = nats.NewEmbeddedServer(nats.EmbeddedServerConfig{Port: cfg.Events.NATSPort})
		if err != nil {
			return fmt.Errorf("run: embedded NATS: %w", err)
		}
		if err := embeddedNATS.Start(); err != nil {
			return fmt.Errorf("run: start embedded NATS: %w", err)
		}
		defer embeddedNATS.Shutdown()

		natsClient, err := nats.NewClient(embeddedNATS.URL())
		if err != nil {
			return fmt.Errorf("run: connect to embedded NATS: %w", err)
		}
		defer natsClient.Close()
		bus.SetNATSMirror(natsClient, cfg.Events.NATSSubject)
	}

	notifier := notify.New("kanban-orchestrator", fmt.Sprintf("http://%s/", cfg.Health.Addr))

	github := contextpipe.NewGithubClient(os.Getenv("GITHUB_TOKEN"))
	chain := buildLLMChain(cfg.Specgen)

	specLoop := specgen.New(store, github, chain)
	specLoop.SetAlerter(notifier)
	specLoop.SetEventBus(bus)

	runnerLoop := runner.New(store, reg, cols, sysmem.FreeMB, runner.Config{
		Concurrency:   cfg.Runner.Concurrency,
		GlobalFloorMB: cfg.Runner.GlobalFloorMB,
		WorkspaceDir:  cfg.Runner.WorkspaceDir,
		ResultsDir:    cfg.Runner.ResultsDir,
	})
	runnerLoop.SetAlerter(notifier)
	runnerLoop.SetEventBus(bus)

	healthSrv := health.New(runnerLoop, reg, store, cols, bus, health.Config{
		ExportDir:  cfg.Health.ExportDir,
		ResultsDir: cfg.Runner.ResultsDir,
		FreeMB:     sysmem.FreeMB,
	})

	go specLoop.Run(ctx)
	go runnerLoop.Run(ctx)
	go func() {
		if err := healthSrv.ListenAndServe(cfg.Health.Addr); err != nil {
			log.Printf("[HEALTH] server stopped: %v", err)
		}
	}()
	log.Printf("[RUN] orchestrator listening on %s", cfg.Health.Addr)

	waitForSignal(ctx, cancel, reg, healthSrv)
	return nil
}

// waitForSignal blocks until SIGTERM/SIGINT, giving active children a
// grace period to finish before the process exits (spec 4.M); SIGHUP
// reloads the agent registry in place without interrupting either loop.
func waitForSignal(ctx context.Context, cancel context.CancelFunc, reg *registry.Registry, healthSrv *health.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if err := reg.Reload(); err != nil {
				log.Printf("[RUN] registry reload failed, keeping previous snapshot: %v", err)
			} else {
				log.Printf("[RUN] registry reloaded")
			}
			continue
		}

		log.Printf("[RUN] received %s, shutting down", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[RUN] health server shutdown: %v", err)
		}
		shutdownCancel()
		return
	}
}

func buildStore(cfg config.BoardConfig) (board.Store, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		return board.NewRemoteStore(cfg.RemoteURL, os.Getenv("BOARD_TOKEN"), cfg.HTTPTimeout), nil
	case config.BackendLocal:
		return board.NewLocalStore(cfg.LocalPath)
	case config.BackendMemory:
		return board.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown board backend %q", cfg.Backend)
	}
}

func buildLLMChain(cfg config.SpecgenConfig) *llmchain.Chain {
	chain := &llmchain.Chain{}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		chain.Primary = llmchain.NewOpenAIProvider(key, "", "")
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		chain.Fallback = llmchain.NewAnthropicProvider(key, "", "")
	}
	return chain
}
