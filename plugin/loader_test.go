package plugin

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

const pingDescriptor = "cmd = [\"ping\"]\n[exec]\nbuiltin = \"ping\"\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	root := t.TempDir()
	return NewLoader(root, NewRegistry(), testHandlers(), LoaderOptions{}), root
}

func TestLoadAllSkipsBrokenFiles(t *testing.T) {
	l, root := newTestLoader(t)
	writeFile(t, filepath.Join(root, "main", "ping.toml"), pingDescriptor)
	writeFile(t, filepath.Join(root, "main", "menu.yaml"), "cmd: [menu, help]\nexec:\n  builtin: menu\n")
	writeFile(t, filepath.Join(root, "broken.toml"), "cmd = [")
	writeFile(t, filepath.Join(root, "unknown.toml"), "cmd = \"x\"\n[exec]\nbuiltin = \"nope\"\n")
	writeFile(t, filepath.Join(root, "_disabled", "skip.toml"), pingDescriptor)
	writeFile(t, filepath.Join(root, "notes.txt"), "not a plugin")

	err := l.LoadAll(context.Background())
	if err == nil {
		t.Fatal("expected combined load errors")
	}
	reg := l.Registry()
	if got := len(reg.Plugins()); got != 2 {
		t.Fatalf("loaded %d plugins, want 2", got)
	}
	if p, ok := reg.Find("help"); !ok || p.ID != "main/menu.yaml" {
		t.Errorf("Find(help) = %v", p)
	}
	if reg.Generation() != 1 {
		t.Errorf("LoadAll rebuilt %d times, want 1", reg.Generation())
	}
}

func TestReloadSameContentRebuildsOnce(t *testing.T) {
	l, root := newTestLoader(t)
	path := filepath.Join(root, "ping.toml")
	writeFile(t, path, pingDescriptor)
	ctx := context.Background()

	first, err := l.Reload(ctx, path)
	if err != nil || !first {
		t.Fatalf("first reload = %v, %v", first, err)
	}
	second, err := l.Reload(ctx, path)
	if err != nil || second {
		t.Fatalf("second reload = %v, %v", second, err)
	}
	if g := l.Registry().Generation(); g != 1 {
		t.Errorf("generation = %d, want exactly one rebuild", g)
	}

	writeFile(t, path, "description = \"pong\"\n"+pingDescriptor)
	if changed, err := l.Reload(ctx, path); err != nil || !changed {
		t.Fatalf("changed reload = %v, %v", changed, err)
	}
	if g := l.Registry().Generation(); g != 2 {
		t.Errorf("generation = %d, want 2", g)
	}
}

func TestReloadInvalidEvictsPrevious(t *testing.T) {
	l, root := newTestLoader(t)
	path := filepath.Join(root, "ping.toml")
	writeFile(t, path, pingDescriptor)
	ctx := context.Background()
	if err := l.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.Registry().Find("ping"); !ok {
		t.Fatal("ping not loaded")
	}

	writeFile(t, path, "cmd = [\"ping\"\n[exec")
	changed, err := l.Reload(ctx, path)
	if err == nil {
		t.Fatal("expected a load error")
	}
	if !changed {
		t.Error("eviction must rebuild the registry")
	}
	if _, ok := l.Registry().Find("ping"); ok {
		t.Error("invalid plugin still registered")
	}

	// Restoring the last good content loads it again even though its hash
	// matches the recorded one.
	writeFile(t, path, pingDescriptor)
	if changed, err := l.Reload(ctx, path); err != nil || !changed {
		t.Fatalf("restore reload = %v, %v", changed, err)
	}
	if _, ok := l.Registry().Find("ping"); !ok {
		t.Error("restored plugin not registered")
	}
}

func TestReloadDeletedFileRemovesPlugin(t *testing.T) {
	l, root := newTestLoader(t)
	path := filepath.Join(root, "sub", "ping.toml")
	writeFile(t, path, pingDescriptor)
	ctx := context.Background()
	if err := l.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	out := &lockedBuffer{}
	changed, err := l.Reload(log.WithContext(ctx, log.New(out)), path)
	if err != nil || !changed {
		t.Fatalf("reload of deleted file = %v, %v", changed, err)
	}
	if !out.Contains("Plugin removed") || out.Contains("Plugin reloaded") {
		t.Errorf("deleted file logged as:\n%s", out.buf.String())
	}
	if len(l.Registry().Plugins()) != 0 {
		t.Error("deleted plugin still registered")
	}
	if l.Remove(ctx, "sub/ping.toml") {
		t.Error("second removal reported a change")
	}
}

func TestModuleID(t *testing.T) {
	l, root := newTestLoader(t)
	id, err := l.ModuleID(filepath.Join(root, "a", "b.toml"))
	if err != nil || id != "a/b.toml" {
		t.Errorf("ModuleID = %q, %v", id, err)
	}
	if id, _ := l.ModuleID("a/b.toml"); id != "a/b.toml" {
		t.Errorf("relative ModuleID = %q", id)
	}
	if _, err := l.ModuleID(filepath.Join(root, "..", "x.toml")); err == nil {
		t.Error("expected an error for a path outside the root")
	}
}

func TestConcurrentReloadsRebuildOnce(t *testing.T) {
	l, root := newTestLoader(t)
	path := filepath.Join(root, "ping.toml")
	writeFile(t, path, pingDescriptor)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reload(ctx, path); err != nil {
				t.Errorf("Reload: %v", err)
			}
		}()
	}
	wg.Wait()
	if g := l.Registry().Generation(); g != 1 {
		t.Errorf("generation = %d, want 1", g)
	}
	if _, ok := l.Registry().Find("ping"); !ok {
		t.Error("ping not registered")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(b.buf.String(), s)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchNewSubdirectory(t *testing.T) {
	root := t.TempDir()
	l := NewLoader(root, NewRegistry(), testHandlers(), LoaderOptions{Debounce: 20 * time.Millisecond})
	out := &lockedBuffer{}
	ctx, cancel := context.WithCancel(log.WithContext(context.Background(), log.New(out)))
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()
	waitFor(t, "watcher start", func() bool { return out.Contains("Watching plugin directory") })

	path := filepath.Join(root, "extra", "ping.toml")
	writeFile(t, path, pingDescriptor)
	waitFor(t, "ping to load", func() bool {
		_, ok := l.Registry().Find("ping")
		return ok
	})
	if p, _ := l.Registry().Get("extra/ping.toml"); p == nil {
		t.Error("plugin registered under the wrong id")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "ping to unload", func() bool {
		_, ok := l.Registry().Find("ping")
		return !ok
	})
}
