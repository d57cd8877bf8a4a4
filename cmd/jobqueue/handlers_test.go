package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimburion/jobqueue/pkg/jobs"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
)

func TestBuiltinHandlersRegistered(t *testing.T) {
	policy, err := jobs.NewPolicy(jobs.PolicyConfig{AllowedTypes: []string{"echo"}})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	registry := jobs.NewRegistry(logger.Nop())
	manager, err := jobs.NewManager(jobs.ManagerDeps{Policy: policy, Registry: registry, Logger: logger.Nop()}, jobs.ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if err := registerBuiltinHandlers(nil, logger.Nop(), manager); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := registry.Types(); len(got) != 2 || got[0] != "echo" || got[1] != "sleep" {
		t.Fatalf("unexpected types %v", got)
	}
}

func TestEcho(t *testing.T) {
	out, err := echo(context.Background(), []byte(`{"a":1}`))
	if err != nil || string(out) != `{"a":1}` {
		t.Fatalf("unexpected echo result %q, %v", out, err)
	}
}

func TestSleep(t *testing.T) {
	out, err := sleep(context.Background(), []byte(`{"duration":"1ms"}`))
	if err != nil || string(out) != `{"slept":"1ms"}` {
		t.Fatalf("unexpected sleep result %q, %v", out, err)
	}

	for _, payload := range []string{`nope`, `{"duration":"forever"}`, `{"duration":"-1s"}`, `{"duration":"1h"}`} {
		if _, err := sleep(context.Background(), []byte(payload)); err == nil {
			t.Fatalf("expected %s to be rejected", payload)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := sleep(ctx, []byte(`{"duration":"1m"}`)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
