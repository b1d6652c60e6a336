package pipeline

import (
	"encoding/json"

	"github.com/mtzanidakis/aiteam/internal/expert"
)

type EventType string

const (
	EventPlanStart    EventType = "plan_start"
	EventPlanStep     EventType = "plan_step"
	EventPlanFinal    EventType = "plan_final"
	EventFeedback     EventType = "feedback"
	EventExpertUpdate EventType = "expert_update"
	EventError        EventType = "error"
)

// Event is one progress update of a run. Which fields are set depends on
// Type; MarshalJSON only writes the fields that belong to it.
type Event struct {
	Type    EventType
	Index   int
	Task    string
	Tasks   []string
	Message string
	// Expert is set on per-role expert updates only.
	Expert  expert.Role
	Status  string
	Experts []expert.Role
	Debug   *expert.DebugTrace
	Stage   Stage
}

// RoleUpdate reports whether e is a per-role expert update.
func (e Event) RoleUpdate() bool {
	return e.Type == EventExpertUpdate && e.Expert != ""
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": e.Type}
	switch e.Type {
	case EventPlanStart:
		m["message"] = e.Message
	case EventPlanStep:
		m["index"] = e.Index
		m["task"] = e.Task
	case EventPlanFinal:
		m["message"] = e.Message
		m["tasks"] = nonNil(e.Tasks)
	case EventFeedback:
		m["message"] = e.Message
	case EventExpertUpdate:
		m["message"] = e.Message
		if e.Expert != "" {
			m["expert"] = e.Expert
			m["status"] = e.Status
		} else {
			m["experts"] = nonNil(e.Experts)
		}
		if e.Debug != nil {
			m["debug"] = e.Debug
		}
	case EventError:
		m["stage"] = e.Stage
		m["message"] = e.Message
	}
	return json.Marshal(m)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
