package plugin

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/krau/wabot/utils/cache"
)

// Snapshot is an immutable view of the loaded plugins and their command index.
type Snapshot struct {
	generation uint64
	plugins    []*Plugin
	byID       map[string]*Plugin
	literal    map[string]*Plugin
	patterns   []*Plugin
}

// Plugins returns the enabled plugins in load order.
func (s *Snapshot) Plugins() []*Plugin {
	return s.plugins
}

func (s *Snapshot) Generation() uint64 {
	return s.generation
}

func (s *Snapshot) Get(id string) (*Plugin, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Find resolves a command text to a plugin: exact literal match first, then
// the regex matchers in registration order.
func (s *Snapshot) Find(text string) (*Plugin, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil, false
	}
	if p, ok := s.literal[text]; ok {
		return p, true
	}
	for _, p := range s.patterns {
		if p.pattern.MatchString(text) {
			return p, true
		}
	}
	return nil, false
}

// Registry publishes snapshots. A rebuild builds a complete new snapshot and
// swaps it in, so readers never see a partial index.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{
		byID:    map[string]*Plugin{},
		literal: map[string]*Plugin{},
	})
	return r
}

func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

func (r *Registry) Rebuild(plugins []*Plugin) *Snapshot {
	next := r.publish(plugins)
	// Outside mu: every Set waits for the cache buffers to drain.
	for _, p := range next.plugins {
		if err := cache.Set(metaCacheKey(p.ID), p.Meta()); err != nil {
			log.Debug("Plugin metadata not cached", "plugin", p.ID, "err", err)
		}
	}
	return next
}

func (r *Registry) publish(plugins []*Plugin) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := make([]*Plugin, 0, len(plugins))
	for _, p := range plugins {
		if p != nil && !p.Disabled {
			ordered = append(ordered, p)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	next := &Snapshot{
		generation: r.current.Load().generation + 1,
		plugins:    ordered,
		byID:       make(map[string]*Plugin, len(ordered)),
		literal:    make(map[string]*Plugin),
	}
	for _, p := range ordered {
		next.byID[p.ID] = p
		if !p.Usable() {
			continue
		}
		if p.pattern != nil {
			next.patterns = append(next.patterns, p)
			continue
		}
		for _, c := range p.Cmd {
			if _, taken := next.literal[c]; !taken {
				next.literal[c] = p
			}
		}
	}
	r.current.Store(next)
	return next
}

func (r *Registry) Find(text string) (*Plugin, bool) {
	return r.Snapshot().Find(text)
}

func (r *Registry) Get(id string) (*Plugin, bool) {
	return r.Snapshot().Get(id)
}

func (r *Registry) Plugins() []*Plugin {
	return r.Snapshot().Plugins()
}

func (r *Registry) Generation() uint64 {
	return r.Snapshot().Generation()
}

func metaCacheKey(id string) string {
	return cache.Key("plugin", "meta", id)
}

// CachedMeta returns the metadata of a plugin seen by any rebuild, including
// plugins that have since been unloaded.
func CachedMeta(id string) (Meta, bool) {
	return cache.Get[Meta](metaCacheKey(id))
}
