package memory

import (
	"context"
	"sync"
	"time"
)

type agentLog struct {
	mu      sync.Mutex
	records []Record
}

// InMemory is a process-local Gateway. Appends are serialized per agent key;
// distinct keys never contend on a shared lock.
type InMemory struct {
	logs sync.Map // agent -> *agentLog
	now  func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{now: time.Now}
}

func (m *InMemory) log(agent string) *agentLog {
	if l, ok := m.logs.Load(agent); ok {
		return l.(*agentLog)
	}
	l, _ := m.logs.LoadOrStore(agent, &agentLog{})
	return l.(*agentLog)
}

func (m *InMemory) Append(_ context.Context, agent, payload string) error {
	l := m.log(agent)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, Record{
		Agent:     agent,
		Payload:   payload,
		Timestamp: m.now().UTC(),
	})
	return nil
}

func (m *InMemory) History(_ context.Context, agent string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	l := m.log(agent)
	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if len(l.records) > limit {
		start = len(l.records) - limit
	}
	out := make([]Record, len(l.records)-start)
	copy(out, l.records[start:])
	return out, nil
}
