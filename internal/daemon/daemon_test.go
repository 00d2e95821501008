package daemon_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"oculith/internal/daemon"
	"oculith/internal/testsupport"
)

func TestRunStartsAndStopsCleanly(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	d, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !strings.Contains(err.Error(), "context canceled") {
			t.Fatalf("Run returned: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}

func TestSecondInstanceIsRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	first, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- first.Run(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	second, err := daemon.New(cfg, nil)
	if err != nil {
		t.Fatalf("daemon.New second: %v", err)
	}
	if err := second.Run(context.Background()); err == nil {
		t.Fatal("expected second instance to be refused")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first daemon did not stop")
	}
}
