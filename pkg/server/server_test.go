package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/testutil"
)

func TestServerServeAndShutdown(t *testing.T) {
	testutil.SkipWithoutLoopback(t)
	release := make(chan struct{})
	handler := http.NewServeMux()
	handler.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	handler.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = io.WriteString(w, "done")
	})

	srv := NewServer("test", Config{ShutdownTimeout: 5 * time.Second}, handler, logger.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errChan := make(chan error, 1)
	go func() { errChan <- srv.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/ping")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "pong" {
		t.Fatalf("unexpected body %q", body)
	}
	if srv.Addr() != ln.Addr().String() {
		t.Fatalf("expected addr %s, got %s", ln.Addr(), srv.Addr())
	}

	slowDone := make(chan string, 1)
	go func() {
		resp, err := http.Get(base + "/slow")
		if err != nil {
			slowDone <- "error: " + err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		slowDone <- string(b)
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if got := <-slowDone; got != "done" {
		t.Fatalf("expected in-flight request to finish, got %q", got)
	}
}

func TestServerStartFailsOnBusyPort(t *testing.T) {
	testutil.SkipWithoutLoopback(t)
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer("busy", Config{Port: port}, http.NewServeMux(), logger.Nop())
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := NewServer("idle", Config{}, http.NewServeMux(), logger.Nop())
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown, got %v", err)
	}
	if srv.Addr() != "" {
		t.Fatalf("expected empty addr, got %q", srv.Addr())
	}
}
