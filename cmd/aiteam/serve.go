package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/aiteam/internal/config"
	"github.com/mtzanidakis/aiteam/internal/retro"
	"github.com/mtzanidakis/aiteam/internal/web"
	"github.com/mtzanidakis/aiteam/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker, local worker, retro scheduler and web API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting aiteam", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(cfg, brokerEmbed)
	if err != nil {
		return err
	}
	defer a.Close()

	// Local worker
	var local *worker.Worker
	if a.client != nil && cfg.Dispatch.LocalWorker {
		local = worker.New(a.client, a.team.Prepare, cfg.Dispatch.Workers)
		if err := local.Start(); err != nil {
			return fmt.Errorf("start local worker: %w", err)
		}
		defer local.Stop()
		slog.Info("local worker started", "concurrency", cfg.Dispatch.Workers)
	}

	// Retro scheduler
	retros := &retroControl{coach: a.coach, events: a.publisher()}
	if err := retros.apply(ctx, cfg.Retro); err != nil {
		return err
	}
	defer retros.stop()

	// Web API
	var srv *web.Server
	if cfg.Web.Enabled {
		srv = web.NewServer(web.Deps{
			Orchestrator:   a.orchestrator,
			Planner:        a.planner,
			Coach:          a.coach,
			Memory:         a.memory,
			Graph:          a.graph,
			Runs:           a.store,
			Retro:          retros,
			Events:         a.client,
			Config:         cfg.Web,
			AsyncPreferred: cfg.Dispatch.AsyncPreferred,
			HistoryLimit:   cfg.Pipeline.HistoryLimit,
			Version:        version,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	current := cfg
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			slog.Info("shutting down", "signal", sig)
			cancel()
			return nil
		}

		next, err := config.Load()
		if err != nil {
			slog.Error("config reload failed", "error", err)
			continue
		}
		reload(ctx, a, srv, retros, current, next)
		current = next
	}
	return nil
}

// reload applies the reloadable sections of next.
func reload(ctx context.Context, a *app, srv *web.Server, retros *retroControl, old, next *config.Config) {
	d := config.Diff(old, next)
	for _, field := range d.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}
	if !d.HasChanges() {
		slog.Info("config reloaded, nothing to apply")
		return
	}

	if d.LogLevelChanged {
		logLevel.Set(parseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LLMChanged {
		a.applyLLM(d.NewLLM)
	}
	if d.DispatchChanged {
		a.dispatcher.SetTimeout(d.NewDispatch.Timeout)
		if srv != nil {
			srv.SetAsyncPreferred(d.NewDispatch.AsyncPreferred)
		}
		if d.NewDispatch.Workers != old.Dispatch.Workers {
			slog.Warn("config change requires restart", "field", "dispatch.workers")
		}
	}
	if d.PipelineChanged {
		a.orchestrator.UpdateSettings(d.NewPipeline.Timeout, d.NewPipeline.StepDelay)
		if srv != nil {
			srv.SetHistoryLimit(d.NewPipeline.HistoryLimit)
		}
	}
	if d.RetroChanged {
		if err := retros.apply(ctx, d.NewRetro); err != nil {
			slog.Error("retro reload failed", "error", err)
		}
	}
	slog.Info("config reloaded")
}

// retroControl owns the retro scheduler so it can be enabled, disabled or
// rescheduled at runtime. Manual runs work even when scheduling is off.
type retroControl struct {
	coach  retro.Coach
	events retro.Publisher

	mu     sync.Mutex
	sched  *retro.Scheduler
	cancel context.CancelFunc
}

func (r *retroControl) apply(ctx context.Context, cfg config.RetroConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !cfg.Enabled {
		if r.cancel != nil {
			r.cancel()
			r.sched, r.cancel = nil, nil
		}
		return nil
	}

	if r.sched != nil {
		return r.sched.UpdateSchedule(cfg.Schedule)
	}

	sched, err := retro.New(r.coach, r.events, cfg.Schedule)
	if err != nil {
		return fmt.Errorf("init retro scheduler: %w", err)
	}
	sctx, cancel := context.WithCancel(ctx)
	r.sched, r.cancel = sched, cancel
	go sched.Start(sctx)
	return nil
}

func (r *retroControl) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// RunNow runs a retrospective through the scheduler when one is active.
func (r *retroControl) RunNow(ctx context.Context) string {
	r.mu.Lock()
	sched := r.sched
	r.mu.Unlock()
	if sched != nil {
		return sched.RunNow(ctx)
	}
	return r.coach.Retro(ctx)
}
