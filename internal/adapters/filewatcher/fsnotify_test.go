package filewatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestAutoUpdater_Creation(t *testing.T) {
	updater, err := NewAutoUpdater(time.Second, func(ctx context.Context) {}, nil)
	if err != nil {
		t.Fatalf("failed to create updater: %v", err)
	}
	defer updater.Stop()

	if updater.debounce != time.Second {
		t.Errorf("unexpected debounce: %v", updater.debounce)
	}
}

func TestAutoUpdater_DefaultDebounce(t *testing.T) {
	updater, _ := NewAutoUpdater(0, func(ctx context.Context) {}, nil)
	defer updater.Stop()

	if updater.debounce != DefaultDebounce {
		t.Errorf("expected default debounce, got %v", updater.debounce)
	}
}

func TestAutoUpdater_FiresAfterSettle(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int32
	updater, _ := NewAutoUpdater(100*time.Millisecond, func(ctx context.Context) {
		fired.Add(1)
	}, nil)
	defer updater.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := updater.Watch(ctx, dir); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "new.txt"), []byte("hi"), 0644)

	deadline := time.Now().Add(4 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Error("update callback never fired")
	}
}

func TestAutoUpdater_IgnoresUnsupportedFiles(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int32
	updater, _ := NewAutoUpdater(100*time.Millisecond, func(ctx context.Context) {
		fired.Add(1)
	}, nil)
	defer updater.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := updater.Watch(ctx, dir); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "archive.zip"), []byte("zip"), 0644)
	os.WriteFile(filepath.Join(dir, ".hidden.txt"), []byte("hidden"), 0644)

	time.Sleep(1500 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("callback should not fire for unsupported or hidden files")
	}
}

func TestAutoUpdater_Stop(t *testing.T) {
	updater, _ := NewAutoUpdater(time.Second, func(ctx context.Context) {}, nil)
	if err := updater.Stop(); err != nil {
		t.Errorf("stop failed: %v", err)
	}
}
