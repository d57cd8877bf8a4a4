package jobs

import "sync/atomic"

// Event is the kind of lifecycle event counted by StatsCollector and
// reported to the metrics sink.
type Event string

// Lifecycle events
const (
	EventEnqueue  Event = "enqueue"
	EventComplete Event = "complete"
	EventRetry    Event = "retry"
	EventFail     Event = "fail"
)

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	Enqueued    int64   `json:"enqueued"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Retried     int64   `json:"retried"`
	SuccessRate float64 `json:"success_rate"`
}

// StatsCollector keeps monotonic counters that are safe for concurrent use.
type StatsCollector struct {
	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

// NewStatsCollector creates a zeroed collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

// Record increments the counter matching event. Unknown events are ignored.
func (c *StatsCollector) Record(event Event) {
	switch event {
	case EventEnqueue:
		c.enqueued.Add(1)
	case EventComplete:
		c.completed.Add(1)
	case EventRetry:
		c.retried.Add(1)
	case EventFail:
		c.failed.Add(1)
	}
}

// Snapshot reads the counters and derives the success rate.
func (c *StatsCollector) Snapshot() Stats {
	stats := Stats{
		Enqueued:  c.enqueued.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		Retried:   c.retried.Load(),
	}
	stats.SuccessRate = successRate(stats.Completed, stats.Failed)
	return stats
}

func successRate(completed, failed int64) float64 {
	finished := completed + failed
	if finished == 0 {
		return 0
	}
	return float64(completed) / float64(finished)
}
