// Package pipeline runs the team on one task description. A run moves
// through Received, Planning, Feedback, Selecting and Dispatching to
// Completed, or to Failed on a fatal error, and reports its progress as an
// ordered stream of events.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/aiteam/internal/agent"
	"github.com/mtzanidakis/aiteam/internal/dispatch"
	"github.com/mtzanidakis/aiteam/internal/expert"
	"github.com/mtzanidakis/aiteam/internal/natsbus"
	"github.com/mtzanidakis/aiteam/internal/store"
)

// Options control a single run.
type Options struct {
	Debug          bool `json:"debug"`
	AsyncPreferred bool `json:"async_preferred"`
}

// Result is the assembled outcome of a completed run.
type Result struct {
	RunID       string                 `json:"run_id"`
	Description string                 `json:"description"`
	Tasks       []string               `json:"tasks"`
	Feedback    string                 `json:"feedback"`
	Experts     []expert.Role          `json:"experts"`
	Results     map[expert.Role]string `json:"results"`
	Mode        dispatch.Mode          `json:"mode"`
	Debug       *expert.DebugTrace     `json:"debug,omitempty"`
}

// RunStore persists run records.
type RunStore interface {
	SavePipelineRun(r *store.PipelineRun) error
}

// Publisher fans events out to observers.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Deps are the collaborators of an Orchestrator. Runs, Events, Selector and
// Catalog are optional.
type Deps struct {
	Planner    *agent.Planner
	Coach      *agent.Coach
	Selector   *expert.Selector
	Catalog    *expert.Catalog
	Dispatcher *dispatch.Dispatcher
	Runs       RunStore
	Events     Publisher
	Timeout    time.Duration
	StepDelay  time.Duration
}

type Orchestrator struct {
	planner    *agent.Planner
	coach      *agent.Coach
	selector   *expert.Selector
	catalog    *expert.Catalog
	dispatcher *dispatch.Dispatcher
	runs       RunStore
	events     Publisher
	metrics    *Metrics

	mu        sync.RWMutex
	timeout   time.Duration
	stepDelay time.Duration
}

func New(d Deps) *Orchestrator {
	catalog := d.Catalog
	if catalog == nil {
		catalog = expert.DefaultCatalog()
	}
	return &Orchestrator{
		planner:    d.Planner,
		coach:      d.Coach,
		selector:   d.Selector,
		catalog:    catalog,
		dispatcher: d.Dispatcher,
		runs:       d.Runs,
		events:     d.Events,
		metrics:    NewMetrics(),
		timeout:    d.Timeout,
		stepDelay:  d.StepDelay,
	}
}

// UpdateSettings replaces the timing settings used by new runs.
func (o *Orchestrator) UpdateSettings(timeout, stepDelay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeout = timeout
	o.stepDelay = stepDelay
}

func (o *Orchestrator) settings() (time.Duration, time.Duration) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.timeout, o.stepDelay
}

// Catalog returns the expert catalog used for selection.
func (o *Orchestrator) Catalog() *expert.Catalog { return o.catalog }

// Run is one pipeline execution. Its event stream is finite and can be
// consumed once.
type Run struct {
	ID     string
	events chan Event
	done   chan struct{}
	result *Result
	err    error
}

// Events returns the ordered event stream. It is closed after the last
// event.
func (r *Run) Events() <-chan Event { return r.events }

// Wait blocks until the run has finished. The caller must drain Events or
// cancel the context passed to Stream, otherwise the run cannot finish.
func (r *Run) Wait() (*Result, error) {
	<-r.done
	return r.result, r.err
}

// Stream starts a run. Cancelling ctx stops event delivery; the run itself
// keeps going until it finishes or hits the pipeline timeout so that memory
// and run records are still written.
func (o *Orchestrator) Stream(ctx context.Context, description string, opts Options) *Run {
	r := &Run{
		ID:     uuid.New().String(),
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	go o.execute(ctx, r, description, opts)
	return r
}

// RunPipeline runs to completion and returns the result and every event.
func (o *Orchestrator) RunPipeline(ctx context.Context, description string, opts Options) (*Result, []Event, error) {
	run := o.Stream(ctx, description, opts)
	var events []Event
	for e := range run.Events() {
		events = append(events, e)
	}
	res, err := run.Wait()
	return res, events, err
}

type runState struct {
	o         *Orchestrator
	run       *Run
	client    context.Context
	stage     Stage
	abandoned bool
	timeout   time.Duration
}

func (s *runState) emit(e Event) {
	s.o.metrics.EventsTotal.WithLabelValues(string(e.Type)).Inc()
	s.o.publish(s.run.ID, e)
	if s.abandoned {
		return
	}
	select {
	case s.run.events <- e:
	case <-s.client.Done():
		s.abandoned = true
		s.o.metrics.AbandonedTotal.Inc()
		slog.Info("client gone, dropping remaining events", "run", s.run.ID, "stage", s.stage)
	}
}

// checkDeadline turns an expired run context into a pipeline timeout.
func (s *runState) checkDeadline(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return fmt.Errorf("%w after %s", ErrPipelineTimeout, s.timeout)
}

func (o *Orchestrator) execute(clientCtx context.Context, r *Run, description string, opts Options) {
	defer close(r.done)
	defer close(r.events)

	timeout, stepDelay := o.settings()
	ctx := context.WithoutCancel(clientCtx)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	o.metrics.RunsInFlight.Inc()
	defer func() {
		o.metrics.RunsInFlight.Dec()
		o.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	s := &runState{o: o, run: r, client: clientCtx, stage: StageReceived, timeout: timeout}
	fail := func(err error) {
		serr := &StageError{Stage: s.stage, Err: err}
		slog.Error("pipeline failed", "run", r.ID, "stage", s.stage, "error", err)
		s.emit(Event{Type: EventError, Stage: s.stage, Message: err.Error()})
		r.err = serr
		o.metrics.RunsTotal.WithLabelValues(string(StageFailed), string(s.stage)).Inc()
		o.record(&store.PipelineRun{ID: r.ID, Description: description, Status: string(StageFailed), Error: serr.Error()})
	}

	desc := strings.TrimSpace(description)
	if desc == "" {
		fail(fmt.Errorf("%w: empty description", agent.ErrInvalidInput))
		return
	}
	slog.Info("pipeline started", "run", r.ID, "async_preferred", opts.AsyncPreferred, "debug", opts.Debug)
	o.record(&store.PipelineRun{ID: r.ID, Description: desc, Status: "running"})

	// Planning
	s.stage = StagePlanning
	s.emit(Event{Type: EventPlanStart, Message: "Planning started."})
	tasks, err := o.planner.Plan(ctx, desc)
	if err != nil {
		fail(err)
		return
	}
	for i, task := range tasks {
		if stepDelay > 0 {
			sleepCtx(ctx, stepDelay)
		}
		if err := s.checkDeadline(ctx); err != nil {
			fail(err)
			return
		}
		s.emit(Event{Type: EventPlanStep, Index: i + 1, Task: task})
	}
	s.emit(Event{
		Type:    EventPlanFinal,
		Message: fmt.Sprintf("Plan created: %d task(s)", len(tasks)),
		Tasks:   append([]string(nil), tasks...),
	})

	// Feedback
	s.stage = StageFeedback
	feedback := o.coach.Review(ctx, tasks)
	if err := s.checkDeadline(ctx); err != nil {
		fail(err)
		return
	}
	s.emit(Event{Type: EventFeedback, Message: feedback})

	// Selecting
	s.stage = StageSelecting
	roles, trace := o.selector.Select(ctx, desc, o.catalog)
	if err := s.checkDeadline(ctx); err != nil {
		fail(err)
		return
	}
	o.metrics.ExpertsPerRun.Observe(float64(len(roles)))
	sel := Event{Type: EventExpertUpdate, Message: "Selecting experts..."}
	if opts.Debug {
		sel.Debug = trace
	}
	s.emit(sel)

	// Dispatching
	s.stage = StageDispatching
	preferred := dispatch.ModeSync
	if opts.AsyncPreferred {
		preferred = dispatch.ModeAsync
	}
	out := o.dispatcher.Dispatch(ctx, desc, roles, preferred, func(res dispatch.Result) {
		s.emit(Event{
			Type:    EventExpertUpdate,
			Expert:  res.Role,
			Status:  roleStatus(res),
			Message: res.Message,
		})
	})
	if err := s.checkDeadline(ctx); err != nil {
		fail(err)
		return
	}
	s.emit(Event{
		Type:    EventExpertUpdate,
		Message: "Experts prepared.",
		Experts: append([]expert.Role(nil), roles...),
	})

	res := &Result{
		RunID:       r.ID,
		Description: desc,
		Tasks:       tasks,
		Feedback:    feedback,
		Experts:     roles,
		Results:     out.Messages(),
		Mode:        out.Mode,
	}
	if opts.Debug {
		res.Debug = trace
	}
	r.result = res
	s.stage = StageCompleted

	o.metrics.RunsTotal.WithLabelValues(string(StageCompleted), string(StageDispatching)).Inc()
	o.record(completedRecord(res))
	slog.Info("pipeline completed", "run", r.ID, "experts", len(roles), "mode", out.Mode, "duration", time.Since(start))
}

func roleStatus(r dispatch.Result) string {
	switch {
	case r.Err == nil:
		return "ok"
	case isTimeout(r.Err):
		return "timeout"
	default:
		return "failed"
	}
}

func completedRecord(res *Result) *store.PipelineRun {
	roles, _ := json.Marshal(nonNil(res.Experts))
	result, _ := json.Marshal(res)
	return &store.PipelineRun{
		ID:          res.RunID,
		Description: res.Description,
		Status:      string(StageCompleted),
		Mode:        string(res.Mode),
		Roles:       roles,
		Result:      result,
	}
}

func (o *Orchestrator) record(run *store.PipelineRun) {
	if o.runs == nil {
		return
	}
	if err := o.runs.SavePipelineRun(run); err != nil {
		slog.Warn("save pipeline run failed", "run", run.ID, "error", err)
	}
}

type envelope struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp string    `json:"timestamp"`
	Data      Event     `json:"data"`
}

func (o *Orchestrator) publish(runID string, e Event) {
	if o.events == nil {
		return
	}
	env := envelope{
		Type:      e.Type,
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      e,
	}
	if err := o.events.PublishJSON(natsbus.TopicEventsPipeline(runID), env); err != nil {
		slog.Debug("publish pipeline event failed", "run", runID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
