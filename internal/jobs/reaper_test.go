package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/tex-forge/internal/storage"
)

func newTestReaper(t *testing.T, expiry time.Duration) (*Reaper, *Store, *storage.LocalStore) {
	t.Helper()
	store := newTestStore(t)
	artifacts, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}
	reaper := NewReaper(store, artifacts, expiry, time.Minute, zap.NewNop().Sugar())
	return reaper, store, artifacts
}

func TestReaperSweepRemovesExpired(t *testing.T) {
	reaper, store, artifacts := newTestReaper(t, time.Hour)
	ctx := context.Background()

	workDir := filepath.Join(t.TempDir(), "job-1")
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		t.Fatalf("failed to create work dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "main.tex"), []byte("x"), 0o640); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}
	if err := os.WriteFile(artifacts.Path("job-1"), []byte("%PDF-1.4"), 0o640); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "job-1", Status: StatusCompleted, WorkDir: workDir}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// 有効期限を過ぎた未来を現在時刻として掃除する
	reaper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	reaper.sweep(ctx)

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected record removed, got %#v", got)
	}
	if artifacts.Exists("job-1") {
		t.Fatal("expected artifact removed")
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatalf("expected work dir removed, stat err=%v", err)
	}
}

func TestReaperSweepKeepsFresh(t *testing.T) {
	reaper, store, artifacts := newTestReaper(t, time.Hour)
	ctx := context.Background()

	if err := os.WriteFile(artifacts.Path("job-1"), []byte("%PDF-1.4"), 0o640); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "job-1", Status: StatusCompleted}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	reaper.sweep(ctx)

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got == nil {
		t.Fatal("fresh job must survive the sweep")
	}
	if !artifacts.Exists("job-1") {
		t.Fatal("fresh artifact must survive the sweep")
	}
}

func TestReaperSweepToleratesMissingPaths(t *testing.T) {
	// 成果物も作業ディレクトリも残っていないジョブでもレコードは消える
	reaper, store, _ := newTestReaper(t, time.Hour)
	ctx := context.Background()

	if err := store.Create(ctx, &Job{
		ID:      "job-1",
		Status:  StatusFailed,
		WorkDir: filepath.Join(t.TempDir(), "already-gone"),
	}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	reaper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	reaper.sweep(ctx)

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected record removed, got %#v", got)
	}
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	reaper, _, _ := newTestReaper(t, time.Hour)
	reaper.interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
