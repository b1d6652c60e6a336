package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mtzanidakis/aiteam/internal/expert"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func prepareOK(_ context.Context, role, description string) (string, error) {
	return "[" + role + "] solving: Prepare for: " + description, nil
}

// fakePool answers each unit after a per-role delay. Roles in hang never
// answer until ctx is done; roles in fail answer with an error.
type fakePool struct {
	connected bool
	delay     map[string]time.Duration
	hang      map[string]bool
	fail      map[string]string

	mu        sync.Mutex
	submitted []Unit
}

func (p *fakePool) Connected() bool { return p.connected }

func (p *fakePool) Submit(ctx context.Context, u Unit) (<-chan Reply, error) {
	p.mu.Lock()
	p.submitted = append(p.submitted, u)
	p.mu.Unlock()

	ch := make(chan Reply, 1)
	go func() {
		if p.hang[u.Role] {
			<-ctx.Done()
			ch <- Reply{UnitID: u.ID, Role: u.Role, Error: ctx.Err().Error()}
			return
		}
		select {
		case <-time.After(p.delay[u.Role]):
		case <-ctx.Done():
			ch <- Reply{UnitID: u.ID, Role: u.Role, Error: ctx.Err().Error()}
			return
		}
		if msg, ok := p.fail[u.Role]; ok {
			ch <- Reply{UnitID: u.ID, Role: u.Role, Error: msg}
			return
		}
		msg, _ := prepareOK(ctx, u.Role, u.Description)
		ch <- Reply{UnitID: u.ID, Role: u.Role, Message: msg}
	}()
	return ch, nil
}

func roleSet(rs []Result) []expert.Role {
	out := make([]expert.Role, len(rs))
	for i, r := range rs {
		out[i] = r.Role
	}
	return out
}

func TestDispatchSync(t *testing.T) {
	d := New(prepareOK, nil, time.Second)
	roles := []expert.Role{"frontend", "backend", "xenobiology"}

	var reported []Result
	out := d.Dispatch(context.Background(), "Build chat", roles, ModeSync, func(r Result) {
		reported = append(reported, r)
	})

	assert.Equal(t, ModeSync, out.Mode)
	assert.Equal(t, out.Results, reported)
	assert.Equal(t, roles, roleSet(out.Results))
	assert.Equal(t, "[backend] solving: Prepare for: Build chat", out.Messages()["backend"])
}

func TestDispatchDeduplicatesRoles(t *testing.T) {
	d := New(prepareOK, nil, 0)
	out := d.Dispatch(context.Background(), "x", []expert.Role{"qa", "qa", "QA"}, ModeSync, nil)
	assert.Equal(t, []expert.Role{"qa", "QA"}, roleSet(out.Results))
}

func TestDispatchEmptyRoles(t *testing.T) {
	d := New(prepareOK, &fakePool{connected: true}, time.Second)
	out := d.Dispatch(context.Background(), "x", nil, ModeAsync, nil)
	assert.Empty(t, out.Results)
	assert.Empty(t, out.Messages())
}

func TestDispatchSyncPerRoleFailure(t *testing.T) {
	prepare := func(ctx context.Context, role, description string) (string, error) {
		switch role {
		case "legal":
			panic("boom")
		case "finance":
			return "", errors.New("ledger locked")
		}
		return prepareOK(ctx, role, description)
	}
	d := New(prepare, nil, 0)

	out := d.Dispatch(context.Background(), "x", []expert.Role{"frontend", "legal", "finance"}, ModeSync, nil)
	require.Len(t, out.Results, 3)

	byRole := map[expert.Role]Result{}
	for _, r := range out.Results {
		byRole[r.Role] = r
	}
	assert.False(t, byRole["frontend"].Failed())
	assert.ErrorIs(t, byRole["legal"].Err, ErrPrepare)
	assert.Contains(t, byRole["legal"].Message, "failed")
	assert.Contains(t, byRole["legal"].Message, "boom")
	assert.ErrorIs(t, byRole["finance"].Err, ErrPrepare)
	assert.Contains(t, byRole["finance"].Message, "ledger locked")
}

func TestDispatchFallsBackWhenBrokerDown(t *testing.T) {
	pool := &fakePool{connected: false}
	d := New(prepareOK, pool, time.Second)
	roles := []expert.Role{"frontend", "backend"}

	async := d.Dispatch(context.Background(), "x", roles, ModeAsync, nil)
	syncOut := d.Dispatch(context.Background(), "x", roles, ModeSync, nil)

	assert.Equal(t, ModeSync, async.Mode)
	assert.Equal(t, syncOut.Messages(), async.Messages())
	assert.Empty(t, pool.submitted)
}

func TestDispatchAsyncCompletionOrder(t *testing.T) {
	pool := &fakePool{
		connected: true,
		delay: map[string]time.Duration{
			"frontend": 150 * time.Millisecond,
			"backend":  10 * time.Millisecond,
		},
	}
	d := New(prepareOK, pool, 2*time.Second)

	out := d.Dispatch(context.Background(), "Build chat", []expert.Role{"frontend", "backend"}, ModeAsync, nil)
	assert.Equal(t, ModeAsync, out.Mode)
	assert.Equal(t, []expert.Role{"backend", "frontend"}, roleSet(out.Results))
	for _, r := range out.Results {
		assert.NoError(t, r.Err)
	}
	assert.Len(t, pool.submitted, 2)
}

func TestDispatchAsyncTimeout(t *testing.T) {
	pool := &fakePool{
		connected: true,
		delay:     map[string]time.Duration{"frontend": 5 * time.Millisecond},
		hang:      map[string]bool{"backend": true, "legal": true},
	}
	d := New(prepareOK, pool, 100*time.Millisecond)

	start := time.Now()
	out := d.Dispatch(context.Background(), "x", []expert.Role{"frontend", "backend", "legal"}, ModeAsync, nil)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, out.Results, 3)
	assert.Equal(t, expert.Role("frontend"), out.Results[0].Role)
	assert.NoError(t, out.Results[0].Err)
	for _, r := range out.Results[1:] {
		assert.ErrorIs(t, r.Err, ErrTimeout)
		assert.True(t, strings.Contains(r.Message, "timed out"), r.Message)
	}
}

func TestDispatchSetTimeout(t *testing.T) {
	pool := &fakePool{connected: true, hang: map[string]bool{"backend": true}}
	d := New(prepareOK, pool, time.Minute)
	d.SetTimeout(30 * time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, d.Timeout())

	out := d.Dispatch(context.Background(), "x", []expert.Role{"backend"}, ModeAsync, nil)
	require.Len(t, out.Results, 1)
	assert.ErrorIs(t, out.Results[0].Err, ErrTimeout)
	assert.Equal(t, "[backend] timed out after 30ms", out.Results[0].Message)
}

func TestDispatchZeroTimeoutIsBounded(t *testing.T) {
	saved := defaultTimeout
	defaultTimeout = 40 * time.Millisecond
	t.Cleanup(func() { defaultTimeout = saved })

	pool := &fakePool{connected: true, hang: map[string]bool{"qa": true}}
	d := New(prepareOK, pool, 0)
	assert.Equal(t, 40*time.Millisecond, d.Timeout())

	done := make(chan Outcome, 1)
	go func() {
		done <- d.Dispatch(context.Background(), "x", []expert.Role{"qa"}, ModeAsync, nil)
	}()

	select {
	case out := <-done:
		require.Len(t, out.Results, 1)
		assert.ErrorIs(t, out.Results[0].Err, ErrTimeout)
		assert.Equal(t, "[qa] timed out after 40ms", out.Results[0].Message)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch with zero timeout never returned")
	}

	d.SetTimeout(-time.Second)
	assert.Equal(t, 40*time.Millisecond, d.Timeout())
}

func TestDispatchAsyncWorkerError(t *testing.T) {
	pool := &fakePool{
		connected: true,
		fail:      map[string]string{"legal": "worker crashed"},
	}
	d := New(prepareOK, pool, time.Second)

	out := d.Dispatch(context.Background(), "x", []expert.Role{"legal", "qa"}, ModeAsync, nil)
	msgs := out.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs["legal"], "worker crashed")
	assert.Contains(t, msgs["qa"], "solving")
}

type brokenPool struct{}

func (brokenPool) Connected() bool { return true }

func (brokenPool) Submit(context.Context, Unit) (<-chan Reply, error) {
	return nil, errors.New("no responders")
}

func TestDispatchAsyncSubmitFailure(t *testing.T) {
	d := New(prepareOK, brokenPool{}, time.Second)
	out := d.Dispatch(context.Background(), "x", []expert.Role{"qa", "hr"}, ModeAsync, nil)

	assert.Equal(t, ModeAsync, out.Mode)
	require.Len(t, out.Results, 2)
	for _, r := range out.Results {
		assert.ErrorIs(t, r.Err, ErrPrepare)
	}
}
