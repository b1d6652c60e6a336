package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/aiteam/internal/pipeline"
)

var (
	runDebug bool
	runAsync bool
)

var runCmd = &cobra.Command{
	Use:   "run <description>",
	Short: "Run the pipeline once and print its events as JSON lines",
	Long: `Run the full pipeline for a task description and print every event as
one JSON object per line.

Examples:
  aiteam run "Build a chat app with a React frontend"

  # Include the expert selection trace and prefer broker workers
  aiteam run --debug --async "Migrate billing to Postgres"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), strings.Join(args, " "), os.Stdout)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "include the expert selection trace")
	runCmd.Flags().BoolVar(&runAsync, "async", false, "prepare experts on broker workers when available")
}

func runOnce(ctx context.Context, description string, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mode := brokerNone
	if runAsync {
		mode = brokerDial
	}
	a, err := newApp(cfg, mode)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	return streamEvents(ctx, a.orchestrator, description, pipeline.Options{
		Debug:          runDebug,
		AsyncPreferred: runAsync,
	}, out)
}

// streamEvents writes each event of one run to out and returns the run error.
func streamEvents(ctx context.Context, orch *pipeline.Orchestrator, description string, opts pipeline.Options, out io.Writer) error {
	run := orch.Stream(ctx, description, opts)
	enc := json.NewEncoder(out)
	var writeErr error
	for e := range run.Events() {
		if writeErr != nil {
			continue
		}
		if err := enc.Encode(e); err != nil {
			writeErr = fmt.Errorf("write event: %w", err)
		}
	}
	if _, err := run.Wait(); err != nil {
		return err
	}
	return writeErr
}
