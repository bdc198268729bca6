package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callcoach/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
live:
  voice: Kore
`

const watcherUpdatedYAML = `
server:
  log_level: debug
live:
  voice: Puck
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type changes struct {
	mu   sync.Mutex
	seen [][2]*config.Config
}

func (c *changes) record(old, new *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, [2]*config.Config{old, new})
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func newWatcher(t *testing.T, content string) (*config.Watcher, string, *changes) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content, time.Now().Add(-time.Hour))
	ch := &changes{}
	w, err := config.NewWatcher(path, ch.record, config.WithLoadOptions(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path, ch
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := newWatcher(t, watcherValidYAML)
	if got := w.Current().Live.Voice; got != "Kore" {
		t.Errorf("voice = %q", got)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML, time.Now())
	if _, err := config.NewWatcher(path, nil, config.WithLoadOptions(noEnv)); err == nil {
		t.Fatal("NewWatcher accepted an invalid config")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	w, path, ch := newWatcher(t, watcherValidYAML)

	writeFile(t, path, watcherUpdatedYAML, time.Now())
	w.Check()

	if ch.count() != 1 {
		t.Fatalf("onChange calls = %d, want 1", ch.count())
	}
	pair := ch.seen[0]
	if pair[0].Live.Voice != "Kore" || pair[1].Live.Voice != "Puck" {
		t.Errorf("old/new voice = %q/%q", pair[0].Live.Voice, pair[1].Live.Voice)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("current log level = %q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()
	w, path, ch := newWatcher(t, watcherValidYAML)

	writeFile(t, path, watcherInvalidYAML, time.Now())
	w.Check()

	if ch.count() != 0 {
		t.Errorf("onChange called for an invalid edit")
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("current config replaced by invalid edit")
	}
}

func TestWatcher_TouchWithoutChange(t *testing.T) {
	t.Parallel()
	w, path, ch := newWatcher(t, watcherValidYAML)

	writeFile(t, path, watcherValidYAML, time.Now())
	w.Check()
	if ch.count() != 0 {
		t.Errorf("onChange called for identical content")
	}
}

func TestWatcher_RunStopsWithContext(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML, time.Now().Add(-time.Hour))
	ch := &changes{}
	w, err := config.NewWatcher(path, ch.record, config.WithInterval(10*time.Millisecond), config.WithLoadOptions(noEnv))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, path, watcherUpdatedYAML, time.Now())
	deadline := time.After(2 * time.Second)
	for ch.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("change not picked up by Run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
