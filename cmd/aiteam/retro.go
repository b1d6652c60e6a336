package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/aiteam/internal/retro"
)

var retroCmd = &cobra.Command{
	Use:   "retro",
	Short: "Run a retrospective now",
	Long: `Run the agile coach's retrospective once. When a broker is reachable the
result is also published to observers of a running server.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, brokerDial)
		if err != nil {
			return err
		}
		defer a.Close()

		if !cfg.Retro.Enabled {
			fmt.Println(a.coach.Retro(cmd.Context()))
			return nil
		}

		sched, err := retro.New(a.coach, a.publisher(), cfg.Retro.Schedule)
		if err != nil {
			return err
		}
		fmt.Println(sched.RunNow(cmd.Context()))
		if a.client != nil {
			_ = a.client.FlushTimeout(2 * time.Second)
		}
		fmt.Printf("Next scheduled retrospective: %s\n", sched.Next().Local().Format("2006-01-02 15:04"))
		return nil
	},
}
