package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/aiteam/internal/agent"
	"github.com/mtzanidakis/aiteam/internal/memory"
	"github.com/mtzanidakis/aiteam/internal/natsbus"
	"github.com/mtzanidakis/aiteam/internal/store"
	"github.com/mtzanidakis/aiteam/internal/worker"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve expert prepare units from the broker",
	Long: `Connect to the broker and prepare experts submitted by aiteam serve.

Examples:
  # Join the embedded broker of a local server
  aiteam worker

  # Join an external broker with four concurrent units
  NATS_URL=nats://broker:4222 aiteam worker --concurrency 4`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "concurrent units (default dispatch.workers)")
}

func runWorker() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	url := brokerURL(cfg.NATS)
	client, err := natsbus.NewClientFromURL(url)
	if err != nil {
		return err
	}
	defer client.Close()

	team := &agent.Team{
		Memory: memory.NewSQLite(db),
		Graph:  memory.NewKnowledgeGraph(db),
	}

	concurrency := workerConcurrency
	if concurrency <= 0 {
		concurrency = cfg.Dispatch.Workers
	}
	w := worker.New(client, team.Prepare, concurrency)
	if err := w.Start(); err != nil {
		return err
	}
	slog.Info("worker started", "url", url, "concurrency", concurrency)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	w.Stop()
	return nil
}
