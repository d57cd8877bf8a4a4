package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistry_RegisterAndProcess(t *testing.T) {
	log := &managerTestLogger{}
	registry := NewRegistry(log)

	if err := registry.Register("", func(context.Context, []byte) ([]byte, error) { return nil, nil }); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty type, got %v", err)
	}
	if err := registry.Register("echo", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for nil handler, got %v", err)
	}

	_ = registry.Register("echo", func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	})
	out, err := registry.Process(context.Background(), &Job{Type: "echo", Payload: []byte("ping")})
	if err != nil || string(out) != "ping" {
		t.Fatalf("unexpected result %q err=%v", out, err)
	}

	_ = registry.Register("echo", func(context.Context, []byte) ([]byte, error) {
		return []byte("pong"), nil
	})
	out, _ = registry.Process(context.Background(), &Job{Type: "echo"})
	if string(out) != "pong" {
		t.Fatalf("expected replacement handler, got %q", out)
	}
	if warns := log.warnings(); len(warns) != 1 || warns[0] != "jobs handler replaced" {
		t.Fatalf("expected one replacement warning, got %v", warns)
	}

	_ = registry.Register("report", func(context.Context, []byte) ([]byte, error) { return nil, nil })
	types := registry.Types()
	if strings.Join(types, ",") != "echo,report" {
		t.Fatalf("unexpected types: %v", types)
	}
}

func TestRegistry_ProcessUnregistered(t *testing.T) {
	registry := NewRegistry(nil)
	_, err := registry.Process(context.Background(), &Job{Type: "ghost"})
	if !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("expected unregistered type, got %v", err)
	}
	var typed *UnregisteredTypeError
	if !errors.As(err, &typed) || typed.JobType != "ghost" {
		t.Fatalf("expected typed error for ghost, got %v", err)
	}
	if !strings.Contains(err.Error(), `no handler registered for "ghost"`) {
		t.Fatalf("unexpected message: %s", err)
	}
}

func TestRegistry_HandlerGetsPayloadCopy(t *testing.T) {
	registry := NewRegistry(nil)
	_ = registry.Register("mutate", func(_ context.Context, payload []byte) ([]byte, error) {
		payload[0] = 'X'
		return nil, nil
	})
	job := &Job{Type: "mutate", Payload: []byte("abc")}
	if _, err := registry.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
	if string(job.Payload) != "abc" {
		t.Fatalf("handler must not mutate the job payload, got %s", job.Payload)
	}
}
