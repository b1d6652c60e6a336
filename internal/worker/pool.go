package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mtzanidakis/aiteam/internal/dispatch"
	"github.com/mtzanidakis/aiteam/internal/natsbus"
)

const defaultPingTimeout = 250 * time.Millisecond

// Pool submits prepare units to workers over NATS request/reply.
type Pool struct {
	client      *natsbus.Client
	pingTimeout time.Duration
}

func NewPool(client *natsbus.Client) *Pool {
	return &Pool{client: client, pingTimeout: defaultPingTimeout}
}

// Connected reports whether the broker is reachable and at least one worker
// answers a ping.
func (p *Pool) Connected() bool {
	if p == nil || p.client == nil || !p.client.Connected() {
		return false
	}
	_, err := p.client.Request(natsbus.TopicWorkerPing, nil, p.pingTimeout)
	return err == nil
}

// Submit sends u to the worker queue group. The returned channel receives
// the worker's reply, or an error reply once ctx is done.
func (p *Pool) Submit(ctx context.Context, u dispatch.Unit) (<-chan dispatch.Reply, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}

	ch := make(chan dispatch.Reply, 1)
	go func() {
		msg, err := p.client.RequestWithContext(ctx, natsbus.TopicExpertPrepare, data)
		if err != nil {
			ch <- dispatch.Reply{UnitID: u.ID, Role: u.Role, Error: err.Error()}
			return
		}
		var r dispatch.Reply
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			ch <- dispatch.Reply{UnitID: u.ID, Role: u.Role, Error: "decode reply: " + err.Error()}
			return
		}
		ch <- r
	}()
	return ch, nil
}
