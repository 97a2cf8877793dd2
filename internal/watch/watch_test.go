package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherBatchesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	w, err := New(50*time.Millisecond, dir)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	path := filepath.Join(dir, "main.cir")
	if err := os.WriteFile(path, []byte("script demo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("script demo\nfn main() -> unit {\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case batch, ok := <-w.Changes():
		if !ok {
			t.Fatal("changes channel closed before delivering a batch")
		}
		found := false
		for _, p := range batch {
			if p == path {
				found = true
			}
		}
		if !found {
			t.Fatalf("batch %v does not mention %s", batch, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch within 5s")
	}
}

func TestWatcherCloseShutsChannel(t *testing.T) {
	dir := t.TempDir()
	w, err := New(10*time.Millisecond, dir)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-w.Changes():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("changes channel still open 5s after close")
		}
	}
}

func TestWatcherRejectsMissingPath(t *testing.T) {
	if _, err := New(0, filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("watching a missing path succeeded")
	}
}

func TestWatcherAddExtendsWatchSet(t *testing.T) {
	base := t.TempDir()
	extra := t.TempDir()
	w, err := New(20*time.Millisecond, base)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	if err := w.Add(extra); err != nil {
		t.Fatalf("add: %v", err)
	}
	path := filepath.Join(extra, "lib.cir")
	if err := os.WriteFile(path, []byte("library util\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case batch := <-w.Changes():
		found := false
		for _, p := range batch {
			if p == path {
				found = true
			}
		}
		if !found {
			t.Fatalf("batch %v does not mention %s", batch, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch within 5s")
	}
}
