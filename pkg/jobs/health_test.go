package jobs

import (
	"context"
	"testing"

	"github.com/nimburion/jobqueue/pkg/health"
)

func TestManagerHealthChecker(t *testing.T) {
	tm := newTestManager(t, PolicyConfig{AllowedTypes: []string{"echo"}}, ManagerConfig{})
	checker := NewManagerHealthChecker("", tm.Manager, 0)
	if checker.Name() != "jobs-dispatch" {
		t.Fatalf("unexpected default name %q", checker.Name())
	}
	if result := checker.Check(context.Background()); result.Status != health.StatusUnhealthy {
		t.Fatalf("expected unhealthy before Run, got %s", result.Status)
	}
}

func TestBacklogHealthChecker(t *testing.T) {
	tm := newTestManager(t, PolicyConfig{AllowedTypes: []string{"echo"}, Capacity: 10}, ManagerConfig{})
	checker := NewBacklogHealthChecker(tm.Manager, 10, 0.5)

	result := checker.Check(context.Background())
	if result.Status != health.StatusHealthy || result.Metadata["active"] != 0 {
		t.Fatalf("expected healthy empty backlog, got %+v", result)
	}

	for idx := 0; idx < 5; idx++ {
		if _, err := tm.Enqueue(context.Background(), "echo", nil, EnqueueOptions{}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	result = checker.Check(context.Background())
	if result.Status != health.StatusDegraded {
		t.Fatalf("expected degraded at threshold, got %+v", result)
	}
	if result.Metadata["enqueued"] != int64(5) || result.Metadata["stored"] != 5 {
		t.Fatalf("expected stats in metadata, got %v", result.Metadata)
	}
}
