// Package retro schedules the agile coach's retrospective on a cron
// expression.
package retro

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/mtzanidakis/aiteam/internal/natsbus"
)

const defaultPollInterval = 30 * time.Second

// Coach runs one retrospective and returns its summary.
type Coach interface {
	Retro(ctx context.Context) string
}

// Publisher fans retro events out to observers.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

type Scheduler struct {
	coach  Coach
	events Publisher

	mu           sync.Mutex
	expr         string
	next         time.Time
	pollInterval time.Duration
	reloadCh     chan struct{}
	now          func() time.Time
}

// New returns a scheduler for expr. events may be nil.
func New(coach Coach, events Publisher, expr string) (*Scheduler, error) {
	s := &Scheduler{
		coach:        coach,
		events:       events,
		pollInterval: defaultPollInterval,
		reloadCh:     make(chan struct{}, 1),
		now:          time.Now,
	}
	if err := s.setSchedule(expr); err != nil {
		return nil, err
	}
	return s, nil
}

// NextRun returns the first tick of expr strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	if !gronx.New().IsValid(expr) {
		return time.Time{}, fmt.Errorf("invalid cron expression: %s", expr)
	}
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next tick: %w", err)
	}
	return next, nil
}

func (s *Scheduler) setSchedule(expr string) error {
	next, err := NextRun(expr, s.now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.expr = expr
	s.next = next
	s.mu.Unlock()
	return nil
}

// UpdateSchedule replaces the cron expression and signals the run loop.
func (s *Scheduler) UpdateSchedule(expr string) error {
	if err := s.setSchedule(expr); err != nil {
		return err
	}
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
	return nil
}

// Schedule returns the current cron expression.
func (s *Scheduler) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// Next returns the time of the next scheduled retrospective.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("retro scheduler started", "schedule", s.Schedule(), "next", s.Next())

	for {
		select {
		case <-ctx.Done():
			slog.Info("retro scheduler stopped")
			return
		case <-s.reloadCh:
			slog.Info("retro schedule reloaded", "schedule", s.Schedule(), "next", s.Next())
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	due := !now.Before(s.next)
	expr := s.expr
	s.mu.Unlock()
	if !due {
		return
	}

	s.RunNow(ctx)

	next, err := NextRun(expr, now)
	if err != nil {
		slog.Error("retro next run failed", "schedule", expr, "error", err)
		return
	}
	s.mu.Lock()
	s.next = next
	s.mu.Unlock()
}

// RunNow runs a retrospective immediately.
func (s *Scheduler) RunNow(ctx context.Context) string {
	slog.Info("running retrospective")
	msg := s.coach.Retro(ctx)
	s.publish(msg)
	return msg
}

func (s *Scheduler) publish(msg string) {
	if s.events == nil {
		return
	}
	event := map[string]any{
		"type":      "retro_completed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"message": msg,
		},
	}
	if err := s.events.PublishJSON(natsbus.TopicEventsRetro(), event); err != nil {
		slog.Debug("publish retro event failed", "error", err)
	}
}
