// Package dispatch runs the prepare action of every selected expert, either
// in process or on a NATS worker pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/aiteam/internal/expert"
)

type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

var (
	// ErrTimeout marks a role that did not complete within the dispatch bound.
	ErrTimeout = errors.New("dispatch timeout")
	// ErrPrepare marks a role whose prepare action failed.
	ErrPrepare = errors.New("prepare failed")
)

// PrepareFunc runs one role's prepare action in process.
type PrepareFunc func(ctx context.Context, role, description string) (string, error)

// Unit is one role's prepare request sent to a worker.
type Unit struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

// Reply is a worker's answer to a Unit.
type Reply struct {
	UnitID  string `json:"unit_id"`
	Role    string `json:"role"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Pool is a distributed worker pool.
//
// Submit must deliver exactly one Reply on the returned channel, at the
// latest once ctx is done. The unit itself may keep running on the worker.
type Pool interface {
	Connected() bool
	Submit(ctx context.Context, u Unit) (<-chan Reply, error)
}

// Result is one role's outcome.
type Result struct {
	Role    expert.Role
	Message string
	Err     error
}

// Failed reports whether the role did not prepare successfully.
func (r Result) Failed() bool { return r.Err != nil }

// Outcome is the result of one dispatch call.
type Outcome struct {
	Mode Mode
	// Results in completion order, one per distinct role.
	Results []Result
}

// Messages returns the role to message mapping.
func (o Outcome) Messages() map[expert.Role]string {
	out := make(map[expert.Role]string, len(o.Results))
	for _, r := range o.Results {
		out[r.Role] = r.Message
	}
	return out
}

// defaultTimeout bounds async units when no positive timeout is configured.
var defaultTimeout = 30 * time.Second

type Dispatcher struct {
	prepare PrepareFunc
	pool    Pool
	metrics *Metrics

	mu      sync.RWMutex
	timeout time.Duration
}

// New returns a dispatcher. pool may be nil, in which case every call runs
// in process. timeout bounds the wait for async units; a non-positive value
// falls back to the default bound.
func New(prepare PrepareFunc, pool Pool, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		prepare: prepare,
		pool:    pool,
		timeout: boundOrDefault(timeout),
		metrics: NewMetrics(),
	}
}

// SetTimeout changes the async bound for subsequent calls.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	d.mu.Lock()
	d.timeout = boundOrDefault(timeout)
	d.mu.Unlock()
}

func boundOrDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultTimeout
	}
	return timeout
}

func (d *Dispatcher) Timeout() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timeout
}

// Mode returns the mode a call preferring preferred would use right now.
func (d *Dispatcher) Mode(preferred Mode) Mode {
	if preferred == ModeAsync && d.pool != nil && d.pool.Connected() {
		return ModeAsync
	}
	return ModeSync
}

// Dispatch prepares every role and returns exactly one Result per distinct
// role. report, when not nil, is called from the calling goroutine for each
// result as it becomes available. The mode is decided once per call.
func (d *Dispatcher) Dispatch(ctx context.Context, description string, roles []expert.Role, preferred Mode, report func(Result)) Outcome {
	roles = distinct(roles)
	mode := d.Mode(preferred)
	if preferred == ModeAsync && mode == ModeSync {
		slog.Warn("worker broker unavailable, dispatching in process", "roles", len(roles))
	}

	start := time.Now()
	d.metrics.DispatchesTotal.WithLabelValues(string(mode)).Inc()

	out := Outcome{Mode: mode, Results: make([]Result, 0, len(roles))}
	emit := func(r Result) {
		out.Results = append(out.Results, r)
		d.metrics.RolesTotal.WithLabelValues(string(mode), outcomeLabel(r.Err)).Inc()
		if r.Err != nil {
			slog.Warn("expert prepare failed", "role", r.Role, "mode", mode, "error", r.Err)
		}
		if report != nil {
			report(r)
		}
	}

	if mode == ModeAsync {
		d.runAsync(ctx, description, roles, emit)
	} else {
		d.runSync(ctx, description, roles, emit)
	}

	d.metrics.Duration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	return out
}

func (d *Dispatcher) runSync(ctx context.Context, description string, roles []expert.Role, emit func(Result)) {
	for _, role := range roles {
		msg, err := d.safePrepare(ctx, role, description)
		if err != nil {
			emit(Result{Role: role, Message: failureMessage(role, err), Err: err})
			continue
		}
		emit(Result{Role: role, Message: msg})
	}
}

func (d *Dispatcher) safePrepare(ctx context.Context, role expert.Role, description string) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrPrepare, r)
		}
	}()
	if d.prepare == nil {
		return "", fmt.Errorf("%w: no prepare action", ErrPrepare)
	}
	msg, err = d.prepare(ctx, string(role), description)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPrepare, err)
	}
	return msg, nil
}

func (d *Dispatcher) runAsync(ctx context.Context, description string, roles []expert.Role, emit func(Result)) {
	bound := d.Timeout()
	wctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	type arrival struct {
		role  expert.Role
		reply Reply
	}
	arrivals := make(chan arrival, len(roles))
	pending := make(map[expert.Role]struct{}, len(roles))

	for _, role := range roles {
		u := Unit{ID: uuid.New().String(), Role: string(role), Description: description}
		ch, err := d.pool.Submit(wctx, u)
		if err != nil {
			err = fmt.Errorf("%w: submit: %w", ErrPrepare, err)
			emit(Result{Role: role, Message: failureMessage(role, err), Err: err})
			continue
		}
		pending[role] = struct{}{}
		go func(role expert.Role, ch <-chan Reply) {
			arrivals <- arrival{role: role, reply: <-ch}
		}(role, ch)
	}

	for len(pending) > 0 {
		select {
		case a := <-arrivals:
			delete(pending, a.role)
			if a.reply.Error != "" && wctx.Err() != nil {
				// The pool gave up because the bound expired.
				emit(timeoutResult(a.role, bound, wctx.Err()))
				continue
			}
			emit(replyResult(a.role, a.reply))
		case <-wctx.Done():
			// Report the stragglers in submission order.
			for _, role := range roles {
				if _, ok := pending[role]; !ok {
					continue
				}
				delete(pending, role)
				emit(timeoutResult(role, bound, wctx.Err()))
			}
		}
	}
}

func timeoutResult(role expert.Role, bound time.Duration, cause error) Result {
	err := fmt.Errorf("%w: %w", ErrTimeout, cause)
	return Result{Role: role, Message: timeoutMessage(role, bound), Err: err}
}

func replyResult(role expert.Role, r Reply) Result {
	if r.Error != "" {
		err := fmt.Errorf("%w: %s", ErrPrepare, r.Error)
		return Result{Role: role, Message: failureMessage(role, err), Err: err}
	}
	return Result{Role: role, Message: r.Message}
}

func failureMessage(role expert.Role, err error) string {
	return fmt.Sprintf("[%s] failed: %v", role, err)
}

func timeoutMessage(role expert.Role, bound time.Duration) string {
	if bound <= 0 {
		return fmt.Sprintf("[%s] timed out", role)
	}
	return fmt.Sprintf("[%s] timed out after %s", role, bound)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "failed"
	}
}

func distinct(roles []expert.Role) []expert.Role {
	seen := make(map[expert.Role]struct{}, len(roles))
	out := make([]expert.Role, 0, len(roles))
	for _, r := range roles {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
