package ports

import "time"

// MetricsCollector records orchestration telemetry.
type MetricsCollector interface {
	RecordInputRouted(team, method string)
	RecordSessionFinished(status string, duration time.Duration)
	RecordPhaseExecuted(phase, status string, duration time.Duration)
	RecordTransition(from, to string)
	RecordHalt(phase string)
	RecordProgressEvent(status string)
	SetActiveWorkflows(count int)
	RecordLLMCall(model string, latency time.Duration, inputTokens, outputTokens int64)
	RecordSweep(kind string, evicted int)
	RecordTriggerProcessed(eventType, status string)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
