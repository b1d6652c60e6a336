package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

const (
	// TopicExpertPrepare carries expert prepare units to the worker pool.
	TopicExpertPrepare = "expert.prepare"
	// QueueExpertWorkers is the queue group shared by all expert workers.
	QueueExpertWorkers = "expert-workers"
	// TopicWorkerPing is answered by every live worker.
	TopicWorkerPing = "expert.ping"
)

func TopicEventsPipeline(runID string) string {
	return fmt.Sprintf("events.pipeline.%s", runID)
}

func TopicEventsRetro() string {
	return "events.retro"
}

// TopicEventsAll matches every pipeline and retro event.
const TopicEventsAll = "events.>"
