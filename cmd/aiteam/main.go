package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/aiteam/internal/config"
)

var (
	version = "dev"

	// logLevel is shared by the installed handler so SIGHUP can change it.
	logLevel = new(slog.LevelVar)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aiteam",
	Short: "Agile AI team orchestrator",
	Long: `aiteam turns a task description into a plan, coach feedback and a set of
prepared domain experts, streaming every step as it happens.`,
	Version:      version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aiteam %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(retroCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration and installs the logger it describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	logLevel.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: logLevel}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
