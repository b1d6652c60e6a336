// Package worker serves expert prepare units from the NATS queue group and
// provides the dispatch.Pool that submits them.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/mtzanidakis/aiteam/internal/dispatch"
	"github.com/mtzanidakis/aiteam/internal/natsbus"
)

// Worker runs prepare units received on natsbus.TopicExpertPrepare with
// bounded concurrency. Units run to completion even if the submitter has
// stopped waiting.
type Worker struct {
	client  *natsbus.Client
	prepare dispatch.PrepareFunc
	sem     *semaphore.Weighted

	// stopping is cancelled by Stop and only aborts units still waiting
	// for a slot.
	stopping context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	subs     []*nats.Subscription
}

func New(client *natsbus.Client, prepare dispatch.PrepareFunc, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	stopping, stop := context.WithCancel(context.Background())
	return &Worker{
		client:   client,
		prepare:  prepare,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		stopping: stopping,
		stop:     stop,
	}
}

// Start subscribes to the prepare and ping topics.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sub, err := w.client.QueueSubscribe(natsbus.TopicExpertPrepare, natsbus.QueueExpertWorkers, w.handleUnit)
	if err != nil {
		return fmt.Errorf("subscribe prepare: %w", err)
	}
	w.subs = append(w.subs, sub)

	ping, err := w.client.QueueSubscribe(natsbus.TopicWorkerPing, natsbus.QueueExpertWorkers, func(msg *nats.Msg) {
		_ = msg.Respond([]byte("pong"))
	})
	if err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("subscribe ping: %w", err)
	}
	w.subs = append(w.subs, ping)

	if err := w.client.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	slog.Info("expert worker started", "topic", natsbus.TopicExpertPrepare)
	return nil
}

// Stop unsubscribes and waits for in-flight units to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	for _, s := range w.subs {
		_ = s.Unsubscribe()
	}
	w.subs = nil
	w.mu.Unlock()

	w.stop()
	w.wg.Wait()
	slog.Info("expert worker stopped")
}

func (w *Worker) handleUnit(msg *nats.Msg) {
	var u dispatch.Unit
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		slog.Warn("invalid prepare unit", "error", err)
		respond(msg, dispatch.Reply{Error: "invalid unit: " + err.Error()})
		return
	}

	w.wg.Add(1)
	if err := w.sem.Acquire(w.stopping, 1); err != nil {
		w.wg.Done()
		respond(msg, dispatch.Reply{UnitID: u.ID, Role: u.Role, Error: "worker stopping"})
		return
	}
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		respond(msg, w.run(u))
	}()
}

func (w *Worker) run(u dispatch.Unit) (reply dispatch.Reply) {
	reply = dispatch.Reply{UnitID: u.ID, Role: u.Role}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("prepare panicked", "unit", u.ID, "role", u.Role, "panic", r)
			reply.Message = ""
			reply.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	msg, err := w.prepare(context.Background(), u.Role, u.Description)
	if err != nil {
		slog.Warn("prepare failed", "unit", u.ID, "role", u.Role, "error", err)
		reply.Error = err.Error()
		return reply
	}
	slog.Debug("prepare done", "unit", u.ID, "role", u.Role)
	reply.Message = msg
	return reply
}

func respond(msg *nats.Msg, r dispatch.Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Debug("respond failed", "unit", r.UnitID, "error", err)
	}
}
