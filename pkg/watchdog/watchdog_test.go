package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"bugbane/internal/types"
)

func TestWatcherReportsNewSamples(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan types.FindingMessage, 16)
	w, err := NewFindingWatcher(ctx, ch, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFindingWatcher: %v", err)
	}
	w.AddDir(dir, "basic1", types.FindingCrash)

	if err := os.WriteFile(filepath.Join(dir, "id:000000,sig:11"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ch:
		if msg.Kind != types.FindingCrash || msg.Instance != "basic1" {
			t.Fatalf("message = %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no finding message within 3s")
	}
}

func TestWatcherIgnoresBookkeepingFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan types.FindingMessage, 16)
	w, err := NewFindingWatcher(ctx, ch, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFindingWatcher: %v", err)
	}
	w.AddDir(dir, "basic1", types.FindingHang)

	os.WriteFile(filepath.Join(dir, "README.txt"), []byte("afl"), 0644)
	os.WriteFile(filepath.Join(dir, ".state"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "crash.output"), []byte("x"), 0644)

	select {
	case msg := <-ch:
		t.Fatalf("bookkeeping file reported: %+v", msg)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherAddDirDuringDispatch(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := filepath.Join(root, "basic1", "crashes")
	if err := os.MkdirAll(first, 0755); err != nil {
		t.Fatal(err)
	}

	ch := make(chan types.FindingMessage, 256)
	w, err := NewFindingWatcher(ctx, ch, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFindingWatcher: %v", err)
	}
	w.AddDir(first, "basic1", types.FindingCrash)

	// Registrations from the poll loop race against event dispatch in
	// the watch goroutine; both touch the directory table.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			dir := filepath.Join(root, "basic1", "hangs")
			if err := os.MkdirAll(dir, 0755); err != nil {
				t.Error(err)
				return
			}
			w.AddDir(dir, "basic1", types.FindingHang)
		}
	}()

	for i := 0; i < 50; i++ {
		name := filepath.Join(first, "id:"+string(rune('a'+i%26)))
		if err := os.WriteFile(name, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	<-done

	select {
	case msg := <-ch:
		if msg.Kind != types.FindingCrash {
			t.Fatalf("message = %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no finding message within 3s")
	}
}

func TestIsSample(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/out/basic1/crashes/id:000000,sig:11", true},
		{"/out/basic1/crashes/README.txt", false},
		{"/out/basic1/crashes/.state", false},
		{"/out/basic1/crashes/id:000000.output", false},
		{"/out/basic1/crashes/id:000000.quoted", false},
	}
	for _, tt := range tests {
		if got := isSample(tt.path); got != tt.want {
			t.Errorf("isSample(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
