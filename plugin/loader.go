package plugin

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/go-faster/errors"
	"github.com/krau/wabot/utils"
	"go.uber.org/multierr"
)

type LoaderOptions struct {
	// Default timeout of out-of-process handlers.
	ExecTimeout time.Duration
	// Quiet period after the last change event before a file is reloaded.
	Debounce time.Duration
}

// Loader owns the loaded plugins and keeps the registry in sync with the
// plugin directory.
type Loader struct {
	root     string
	registry *Registry
	handlers HandlerSet
	opts     LoaderOptions

	mu      sync.Mutex
	plugins map[string]*Plugin
	// Content hash of the last successful load per module id.
	hashes map[string]string
	locks  map[string]*sync.Mutex

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

func NewLoader(root string, registry *Registry, handlers HandlerSet, opts LoaderOptions) *Loader {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	return &Loader{
		root:     root,
		registry: registry,
		handlers: handlers,
		opts:     opts,
		plugins:  make(map[string]*Plugin),
		hashes:   make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
		timers:   make(map[string]*time.Timer),
	}
}

func (l *Loader) Root() string {
	return l.root
}

func (l *Loader) Registry() *Registry {
	return l.registry
}

// ModuleID maps a file path to its module id, relative to the plugin root.
func (l *Loader) ModuleID(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.root, path)
	}
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", errors.Errorf("%s is outside the plugin directory", path)
	}
	return filepath.ToSlash(rel), nil
}

func (l *Loader) PathOf(id string) string {
	return filepath.Join(l.root, filepath.FromSlash(id))
}

func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// WalkDescriptors calls fn for every descriptor file under root. Hidden
// entries and entries starting with '_' are skipped.
func WalkDescriptors(root string, fn func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipName(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if skipName(d.Name()) || !IsDescriptorFile(path) {
			return nil
		}
		return fn(path)
	})
}

// LoadAll scans the plugin directory and loads every descriptor. Files that
// fail to load are logged and skipped; their errors are returned combined.
func (l *Loader) LoadAll(ctx context.Context) error {
	logger := log.FromContext(ctx)
	if err := os.MkdirAll(l.root, os.ModePerm); err != nil {
		return errors.Wrap(err, "create plugin directory")
	}
	var errs error
	count := 0
	err := WalkDescriptors(l.root, func(path string) error {
		id, err := l.ModuleID(path)
		if err != nil {
			return err
		}
		unlock := l.lockModule(id)
		defer unlock()
		if _, err := l.apply(ctx, id); err != nil {
			logger.Error("Failed to load plugin", "plugin", id, "err", err)
			errs = multierr.Append(errs, err)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scan plugin directory")
	}
	l.rebuild()
	logger.Info("Plugins loaded", "count", count, "failed", len(multierr.Errors(errs)))
	return errs
}

// Reload reloads the plugin file at path, or removes the plugin when the file
// is gone. Unchanged content of a loaded plugin is a no-op. A file that fails
// to load evicts the previous version. The result reports whether the
// registry was rebuilt.
func (l *Loader) Reload(ctx context.Context, path string) (bool, error) {
	id, err := l.ModuleID(path)
	if err != nil {
		return false, err
	}
	unlock := l.lockModule(id)
	defer unlock()

	changed, err := l.apply(ctx, id)
	if changed {
		l.rebuild()
	}
	if err != nil {
		log.FromContext(ctx).Error("Failed to reload plugin", "plugin", id, "evicted", changed, "err", err)
		return changed, err
	}
	if changed {
		if l.stored(id) {
			log.FromContext(ctx).Info("Plugin reloaded", "plugin", id)
		} else {
			log.FromContext(ctx).Info("Plugin removed", "plugin", id)
		}
	}
	return changed, nil
}

// ReloadAll reloads every descriptor on disk and drops plugins whose files
// no longer exist.
func (l *Loader) ReloadAll(ctx context.Context) error {
	var errs error
	seen := make(map[string]bool)
	err := WalkDescriptors(l.root, func(path string) error {
		if id, err := l.ModuleID(path); err == nil {
			seen[id] = true
		}
		if _, err := l.Reload(ctx, path); err != nil {
			errs = multierr.Append(errs, err)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scan plugin directory")
	}
	for _, p := range l.Loaded() {
		if !seen[p.ID] {
			l.Remove(ctx, p.ID)
		}
	}
	return errs
}

// Remove unloads the plugin at path (or module id) and rebuilds the registry.
func (l *Loader) Remove(ctx context.Context, path string) bool {
	id, err := l.ModuleID(path)
	if err != nil {
		return false
	}
	unlock := l.lockModule(id)
	defer unlock()
	l.mu.Lock()
	delete(l.hashes, id)
	l.mu.Unlock()
	if !l.evict(id) {
		return false
	}
	l.rebuild()
	log.FromContext(ctx).Info("Plugin removed", "plugin", id)
	return true
}

// Loaded returns the plugins currently in storage, disabled ones included.
func (l *Loader) Loaded() []*Plugin {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Plugin, 0, len(l.plugins))
	for _, p := range l.plugins {
		out = append(out, p)
	}
	return out
}

// apply loads module id from disk into storage without rebuilding. It
// reports whether storage changed. Callers hold the module lock.
func (l *Loader) apply(ctx context.Context, id string) (bool, error) {
	path := l.PathOf(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l.evict(id), nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "read %s", id)
	}
	hash := utils.ContentHash(data)

	l.mu.Lock()
	_, loaded := l.plugins[id]
	unchanged := loaded && l.hashes[id] == hash
	l.mu.Unlock()
	if unchanged {
		log.FromContext(ctx).Debug("Plugin content unchanged", "plugin", id)
		return false, nil
	}

	p, err := New(id, path, data, l.handlers, l.opts.ExecTimeout)
	if err != nil {
		// The recorded hash stays at the last good version so the next
		// change is retried.
		return l.evict(id), errors.Wrapf(err, "load %s", id)
	}
	l.mu.Lock()
	l.plugins[id] = p
	l.hashes[id] = hash
	l.mu.Unlock()
	return true, nil
}

func (l *Loader) stored(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.plugins[id]
	return ok
}

func (l *Loader) evict(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.plugins[id]; !ok {
		return false
	}
	delete(l.plugins, id)
	return true
}

// rebuild publishes the current storage. Holding mu across the rebuild keeps
// concurrent rebuilds from publishing an older plugin set last.
func (l *Loader) rebuild() {
	l.mu.Lock()
	defer l.mu.Unlock()
	plugins := make([]*Plugin, 0, len(l.plugins))
	for _, p := range l.plugins {
		plugins = append(plugins, p)
	}
	l.registry.Rebuild(plugins)
}

func (l *Loader) lockModule(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Watch reloads plugins on file system changes until ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	if err := addDirs(watcher, l.root); err != nil {
		return errors.Wrap(err, "watch plugin directory")
	}
	logger := log.FromContext(ctx)
	logger.Info("Watching plugin directory", "dir", l.root)

	defer l.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.handleEvent(ctx, watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("Watcher error", "err", err)
		}
	}
}

func addDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if path != root && skipName(d.Name()) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func (l *Loader) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if skipName(info.Name()) {
				return
			}
			if err := addDirs(watcher, event.Name); err != nil {
				log.FromContext(ctx).Error("Failed to watch directory", "dir", event.Name, "err", err)
			}
			WalkDescriptors(event.Name, func(path string) error {
				l.schedule(ctx, path)
				return nil
			})
			return
		}
	}
	if skipName(filepath.Base(event.Name)) || !IsDescriptorFile(event.Name) {
		return
	}
	l.schedule(ctx, event.Name)
}

// schedule debounces bursts of events for one path into a single reload.
func (l *Loader) schedule(ctx context.Context, path string) {
	l.timersMu.Lock()
	defer l.timersMu.Unlock()
	if timer, ok := l.timers[path]; ok {
		timer.Stop()
	}
	l.timers[path] = time.AfterFunc(l.opts.Debounce, func() {
		l.timersMu.Lock()
		delete(l.timers, path)
		l.timersMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		l.Reload(ctx, path)
	})
}

func (l *Loader) stopTimers() {
	l.timersMu.Lock()
	defer l.timersMu.Unlock()
	for path, timer := range l.timers {
		timer.Stop()
		delete(l.timers, path)
	}
}
