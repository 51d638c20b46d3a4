package tasks

import (
	"path/filepath"
	"testing"
	"time"
)

func TestMovieWatcherEmitsSettledDirectory(t *testing.T) {
	root := t.TempDir()
	movie := filepath.Join(root, "m1")
	touchFrames(t, movie, "seed.txt")

	w, err := NewMovieWatcher([]string{root}, 100*time.Millisecond, 2, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	touchFrames(t, movie, "f1.tif", "f2.tif")

	select {
	case ev := <-w.Events:
		if ev.Dir != movie || ev.Frames != 2 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for movie event")
	}
}

func TestMovieWatcherStopClosesEvents(t *testing.T) {
	w, err := NewMovieWatcher([]string{t.TempDir()}, time.Second, 2, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.Stop()
	w.Stop()
	if _, ok := <-w.Events; ok {
		t.Fatalf("expected closed events channel")
	}
}
