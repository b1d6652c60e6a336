package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/aiteam/internal/memory"
	"github.com/mtzanidakis/aiteam/internal/store"
)

var memoryLimit int

var memoryCmd = &cobra.Command{
	Use:   "memory [agent]",
	Short: "Show an agent's short-term memory, or per-agent totals",
	Long: `Without an agent, list every agent key with its record count and last
activity. With an agent key (po, ac, expert-<role>), print its most recent
records oldest first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer db.Close()

		if len(args) == 0 {
			return printMemoryStats(cmd.Context(), db, cmd.OutOrStdout())
		}
		limit := memoryLimit
		if !cmd.Flags().Changed("limit") {
			limit = cfg.Pipeline.HistoryLimit
		}
		return printHistory(cmd.Context(), memory.NewSQLite(db), args[0], limit, cmd.OutOrStdout())
	},
}

func init() {
	memoryCmd.Flags().IntVar(&memoryLimit, "limit", 0, "number of records (default pipeline.history_limit)")
}

func printHistory(ctx context.Context, g memory.Gateway, agent string, limit int, out io.Writer) error {
	records, err := g.History(ctx, agent, limit)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Fprintf(out, "%s  %s\n", r.Timestamp.Local().Format(time.DateTime), r.Payload)
	}
	return nil
}

func printMemoryStats(ctx context.Context, db *store.Store, out io.Writer) error {
	stats, err := db.GetMemoryStats(ctx)
	if err != nil {
		return err
	}
	agents := make([]string, 0, len(stats))
	for a := range stats {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tRECORDS\tLAST ACTIVE")
	for _, a := range agents {
		st := stats[a]
		fmt.Fprintf(tw, "%s\t%d\t%s\n", st.Agent, st.ItemCount, st.LastActive.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
