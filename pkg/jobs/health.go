package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/jobqueue/pkg/health"
)

const (
	defaultManagerHealthCheckName = "jobs-dispatch"
	defaultBacklogHealthCheckName = "jobs-backlog"
	defaultBacklogThreshold       = 0.8
)

// NewManagerHealthChecker reports unhealthy while the dispatch loop is stopped
// or the store does not answer.
func NewManagerHealthChecker(name string, manager *Manager, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultManagerHealthCheckName
	}
	return health.NewAdapterChecker(checkName, manager, timeout)
}

// NewBacklogHealthChecker reports degraded once the active job count reaches
// threshold (a fraction of capacity). A threshold outside (0, 1] uses 0.8.
func NewBacklogHealthChecker(manager *Manager, capacity int, threshold float64) health.Checker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if threshold <= 0 || threshold > 1 {
		threshold = defaultBacklogThreshold
	}

	return health.NewCustomChecker(defaultBacklogHealthCheckName, func(ctx context.Context) (health.Status, string, map[string]any, error) {
		active, err := manager.store.ActiveCount(ctx)
		if err != nil {
			return health.StatusUnhealthy, "", nil, fmt.Errorf("count active jobs: %w", err)
		}
		stored, err := manager.store.Count(ctx, "")
		if err != nil {
			return health.StatusUnhealthy, "", nil, fmt.Errorf("count stored jobs: %w", err)
		}
		stats := manager.Stats()
		metadata := map[string]any{
			"active":       active,
			"stored":       stored,
			"capacity":     capacity,
			"enqueued":     stats.Enqueued,
			"completed":    stats.Completed,
			"failed":       stats.Failed,
			"retried":      stats.Retried,
			"success_rate": stats.SuccessRate,
		}
		if float64(active) >= threshold*float64(capacity) {
			return health.StatusDegraded, fmt.Sprintf("%d of %d active jobs", active, capacity), metadata, nil
		}
		return health.StatusHealthy, "OK", metadata, nil
	})
}
