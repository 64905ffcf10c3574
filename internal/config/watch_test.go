package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatchAppliesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panel.yaml")
	write := func(level string) {
		t.Helper()
		content := "log_level: " + level + "\nsources:\n  wireguard:\n    enabled: true\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing config: %v", err)
		}
	}
	write("info")

	var mu sync.Mutex
	var applied []*Config
	apply := func(cfg *Config) {
		mu.Lock()
		applied = append(applied, cfg)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() {
		defer close(done)
		Watch(ctx, path, logger, apply)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before touching the file.
	time.Sleep(100 * time.Millisecond)
	write("debug")

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := len(applied)
		var last *Config
		if n > 0 {
			last = applied[n-1]
		}
		mu.Unlock()
		if last != nil && last.LogLevel == "debug" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("reload not applied; %d applies observed", n)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestWatchKeepsConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panel.yaml")
	good := "sources:\n  wireguard:\n    enabled: true\n"
	if err := os.WriteFile(path, []byte(good), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	applies := make(chan *Config, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() {
		defer close(done)
		Watch(ctx, path, logger, func(cfg *Config) { applies <- cfg })
	}()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(100 * time.Millisecond)
	// Invalid: no sources enabled. Load fails and apply must not fire.
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	select {
	case cfg := <-applies:
		t.Fatalf("invalid config applied: %+v", cfg)
	case <-time.After(1 * time.Second):
	}
}
