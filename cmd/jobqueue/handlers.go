package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nimburion/jobqueue/pkg/config"
	"github.com/nimburion/jobqueue/pkg/jobs"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
)

const maxSleep = 5 * time.Minute

// registerBuiltinHandlers installs the handlers shipped with the binary.
// Types must still be listed in queue.allowed_types to be admitted.
func registerBuiltinHandlers(_ *config.Config, log logger.Logger, manager *jobs.Manager) error {
	if err := manager.RegisterProcessor("echo", echo); err != nil {
		return err
	}
	if err := manager.RegisterProcessor("sleep", sleep); err != nil {
		return err
	}
	log.Info("builtin job handlers registered", "types", []string{"echo", "sleep"})
	return nil
}

func echo(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

type sleepPayload struct {
	Duration string `json:"duration"`
}

// sleep waits for payload.duration and honours cancellation.
func sleep(ctx context.Context, payload []byte) ([]byte, error) {
	var req sleepPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode sleep payload: %w", err)
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil || d < 0 || d > maxSleep {
		return nil, fmt.Errorf("sleep duration must be between 0 and %s", maxSleep)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return json.Marshal(map[string]string{"slept": d.String()})
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
