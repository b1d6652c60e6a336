package main

import (
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/aiteam/internal/agent"
	"github.com/mtzanidakis/aiteam/internal/config"
	"github.com/mtzanidakis/aiteam/internal/dispatch"
	"github.com/mtzanidakis/aiteam/internal/expert"
	"github.com/mtzanidakis/aiteam/internal/llm"
	"github.com/mtzanidakis/aiteam/internal/memory"
	"github.com/mtzanidakis/aiteam/internal/natsbus"
	"github.com/mtzanidakis/aiteam/internal/pipeline"
	"github.com/mtzanidakis/aiteam/internal/store"
	"github.com/mtzanidakis/aiteam/internal/worker"
)

type brokerMode int

const (
	// brokerNone runs every expert in process.
	brokerNone brokerMode = iota
	// brokerDial connects to a running broker if one answers.
	brokerDial
	// brokerEmbed starts the embedded broker unless an external URL is set.
	brokerEmbed
)

// app holds the collaborators shared by the serve, run and retro commands.
type app struct {
	cfg *config.Config

	store  *store.Store
	memory memory.Gateway
	graph  memory.Graph

	planner *agent.Planner
	coach   *agent.Coach
	team    *agent.Team

	selector     *expert.Selector
	dispatcher   *dispatch.Dispatcher
	orchestrator *pipeline.Orchestrator

	bus    *natsbus.Bus
	client *natsbus.Client
}

func newApp(cfg *config.Config, broker brokerMode) (*app, error) {
	a := &app{cfg: cfg}

	db, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.store = db
	slog.Info("store initialized", "path", cfg.Store.Path)

	a.memory = memory.NewSQLite(db)
	a.graph = memory.NewKnowledgeGraph(db)
	a.planner = agent.NewPlanner(a.memory, a.graph)
	a.coach = agent.NewCoach(a.memory, a.graph)
	a.team = &agent.Team{Memory: a.memory, Graph: a.graph}

	if err := a.connectBroker(broker); err != nil {
		a.Close()
		return nil, err
	}

	a.selector = expert.NewSelector(newClassifier(cfg.LLM), cfg.LLM.Timeout)

	var pool dispatch.Pool
	if a.client != nil {
		pool = worker.NewPool(a.client)
	}
	a.dispatcher = dispatch.New(a.team.Prepare, pool, cfg.Dispatch.Timeout)

	a.orchestrator = pipeline.New(pipeline.Deps{
		Planner:    a.planner,
		Coach:      a.coach,
		Selector:   a.selector,
		Catalog:    expert.DefaultCatalog(),
		Dispatcher: a.dispatcher,
		Runs:       db,
		Events:     a.publisher(),
		Timeout:    cfg.Pipeline.Timeout,
		StepDelay:  cfg.Pipeline.StepDelay,
	})

	return a, nil
}

func (a *app) connectBroker(mode brokerMode) error {
	if mode == brokerNone || !a.cfg.NATS.Enabled {
		return nil
	}

	if mode == brokerEmbed && a.cfg.NATS.URL == "" {
		bus, err := natsbus.New(a.cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		a.bus = bus
		slog.Info("nats started", "port", a.cfg.NATS.Port)

		client, err := natsbus.NewClient(bus)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		a.client = client
		return nil
	}

	url := brokerURL(a.cfg.NATS)
	client, err := natsbus.NewClientFromURL(url)
	if err != nil {
		// Without a broker every expert runs in process.
		slog.Warn("nats unavailable, dispatching in process", "url", url, "error", err)
		return nil
	}
	a.client = client
	slog.Info("nats connected", "url", url)
	return nil
}

// publisher returns the event publisher, or nil without a broker.
func (a *app) publisher() pipeline.Publisher {
	if a.client == nil {
		return nil
	}
	return a.client
}

// applyLLM rebuilds the classifier from cfg.
func (a *app) applyLLM(cfg config.LLMConfig) {
	a.selector.Configure(newClassifier(cfg), cfg.Timeout)
}

func (a *app) Close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// newClassifier returns nil when no provider is configured or usable.
func newClassifier(cfg config.LLMConfig) *expert.Classifier {
	provider, err := llm.Detect(cfg)
	if err != nil {
		slog.Warn("llm provider unavailable, using keyword heuristic", "error", err)
		return nil
	}
	if provider == nil {
		slog.Info("llm disabled, using keyword heuristic")
		return nil
	}
	slog.Info("llm provider selected", "provider", provider.Name())
	return expert.NewClassifier(provider)
}

// brokerURL is the external URL, or the embedded broker of a local server.
func brokerURL(cfg config.NATSConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("nats://127.0.0.1:%d", cfg.Port)
}
