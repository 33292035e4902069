package pathwatch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWatcherDetectsCreation(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "audiosrv.sock")

	w, err := New(target)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if ev, err := w.CheckExisting(); err != nil {
		t.Fatalf("CheckExisting: %v", err)
	} else if ev != nil {
		t.Fatalf("expected no event before file exists, got %v", ev)
	}

	f, err := os.Create(target)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Close()

	deadlineEvents := pollUntil(t, w)
	found := false
	for _, ev := range deadlineEvents {
		if ev.Type == Created && ev.Name == "audiosrv.sock" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Created event for audiosrv.sock, got %v", deadlineEvents)
	}
}

// pollUntil drains whatever inotify events are immediately available,
// calling Dispatch up to 10 times with no delay between calls and stopping
// as soon as any event has been collected.
func pollUntil(t *testing.T, w *Watcher) []Event {
	t.Helper()
	var all []Event
	for i := 0; i < 10; i++ {
		evs, err := w.Dispatch()
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		all = append(all, evs...)
		if len(all) > 0 {
			break
		}
	}
	return all
}
