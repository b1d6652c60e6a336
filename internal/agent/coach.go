package agent

import (
	"context"
	"strings"

	"github.com/mtzanidakis/aiteam/internal/memory"
)

const (
	msgNoPlan        = "Please formulate at least one actionable task."
	msgAcceptance    = "Define measurable acceptance criteria."
	msgExperts       = "Involve the right experts early."
	msgSlice         = "Slice work into small, testable increments."
	msgRetro         = "Scheduled next retrospective"
	noteRetroCapture = "retro: improvements captured"
)

// Coach is the agile coach. It reviews plans and runs retrospectives.
type Coach struct {
	Base
}

func NewCoach(mem memory.Gateway, graph memory.Graph) *Coach {
	return &Coach{Base{Name: KeyCoach, Role: "Agile Coach", Memory: mem, Graph: graph}}
}

// Review returns feedback on tasks. It never fails; an empty plan yields a
// request for at least one task.
func (c *Coach) Review(ctx context.Context, tasks []string) string {
	var advice string
	if len(tasks) == 0 {
		advice = msgNoPlan
	} else {
		var acceptance, experts bool
		for _, t := range tasks {
			lt := strings.ToLower(t)
			acceptance = acceptance || strings.Contains(lt, "acceptance")
			experts = experts || strings.Contains(lt, "expert")
		}
		var suggestions []string
		if !acceptance {
			suggestions = append(suggestions, msgAcceptance)
		}
		if !experts {
			suggestions = append(suggestions, msgExperts)
		}
		suggestions = append(suggestions, msgSlice)
		advice = strings.Join(suggestions, " ")
	}

	c.Observe(ctx, "ac_feedback: "+advice)
	c.Note(ctx, "feedback: "+advice)
	return advice
}

func (c *Coach) ScheduleRetro(ctx context.Context) string {
	c.Observe(ctx, msgRetro)
	return msgRetro
}

// Retro captures the retrospective outcome and schedules the next one.
func (c *Coach) Retro(ctx context.Context) string {
	c.Note(ctx, noteRetroCapture)
	return c.ScheduleRetro(ctx)
}
