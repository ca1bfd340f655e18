package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	path := filepath.Join(dir, "feedstack.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  maxSizeBytes: 1000\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader("FEEDSTACK", path)
	if _, err := loader.Load(ctx); err != nil {
		t.Fatalf("loader failed: %v", err)
	}

	changeCh := make(chan Config, 4)
	errCh := make(chan error, 4)
	watcher, err := loader.Watch(ctx, func(cfg Config) {
		changeCh <- cfg
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte("cache:\n  maxSizeBytes: 2000\n"), 0o600); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	select {
	case cfg := <-changeCh:
		if cfg.Cache.MaxSizeBytes != 2000 {
			t.Fatalf("expected reloaded size 2000, got %d", cfg.Cache.MaxSizeBytes)
		}
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload event")
	}
}

func TestWatchReportsInvalidDocument(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	path := filepath.Join(dir, "feedstack.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  maxSizeBytes: 1000\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader("FEEDSTACK", path)
	changeCh := make(chan Config, 4)
	errCh := make(chan error, 4)
	watcher, err := loader.Watch(ctx, func(cfg Config) {
		changeCh <- cfg
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte("cache:\n  maxSizeBytes: -5\n"), 0o600); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	select {
	case cfg := <-changeCh:
		t.Fatalf("invalid document should not be delivered: %+v", cfg.Cache)
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for validation error")
	}
}

func TestWatchRequiresFile(t *testing.T) {
	loader := NewLoader("FEEDSTACK")
	if _, err := loader.Watch(context.Background(), func(Config) {}, nil); err == nil {
		t.Fatal("expected error without configuration files")
	}
	if _, err := NewLoader("FEEDSTACK", "x.yaml").Watch(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error without change callback")
	}
}
