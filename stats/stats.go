package stats

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-faster/errors"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/plugin"
)

const DefaultLeaderboardSize = 100

type Store interface {
	LoadPluginStats(ctx context.Context) ([]*database.PluginStat, error)
	LoadCommandUsage(ctx context.Context) ([]*database.CommandUsage, error)
	SaveStats(ctx context.Context, stats []*database.PluginStat, usage []*database.CommandUsage) error
}

// Tracker keeps per-plugin counters and the most used commands in memory and
// periodically flushes them to the store.
type Tracker struct {
	mu      sync.Mutex
	plugins map[string]*database.PluginStat
	usage   map[string]*database.CommandUsage
	dirty   bool

	size  int
	store Store
	now   func() time.Time
	meta  func(pluginID string) (plugin.Meta, bool)
}

func NewTracker(store Store, size int) *Tracker {
	if size <= 0 {
		size = DefaultLeaderboardSize
	}
	return &Tracker{
		plugins: make(map[string]*database.PluginStat),
		usage:   make(map[string]*database.CommandUsage),
		size:    size,
		store:   store,
		now:     time.Now,
		meta:    plugin.CachedMeta,
	}
}

// Load replaces the in-memory state with what the store holds.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	stats, err := t.store.LoadPluginStats(ctx)
	if err != nil {
		return errors.Wrap(err, "load plugin stats")
	}
	usage, err := t.store.LoadCommandUsage(ctx)
	if err != nil {
		return errors.Wrap(err, "load command usage")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.plugins = make(map[string]*database.PluginStat, len(stats))
	for _, s := range stats {
		sanitize(s)
		t.plugins[s.PluginID] = s
	}
	t.usage = make(map[string]*database.CommandUsage, len(usage))
	for _, u := range usage {
		if u.Count < 0 {
			u.Count = 0
		}
		t.usage[strings.ToLower(u.Command)] = u
	}
	t.trim()
	return nil
}

// sanitize repairs counters that cannot be right before they are incremented.
func sanitize(s *database.PluginStat) {
	if s.Total < 0 {
		s.Total = 0
	}
	if s.Success < 0 {
		s.Success = 0
	}
	if s.Success > s.Total {
		s.Success = s.Total
	}
	if s.Last < 0 {
		s.Last = 0
	}
	if s.LastSuccess < 0 {
		s.LastSuccess = 0
	}
}

func (t *Tracker) Record(pluginID string, succeeded bool) {
	now := t.now().UnixMilli()
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.plugins[pluginID]
	if !ok {
		s = &database.PluginStat{PluginID: pluginID}
		t.plugins[pluginID] = s
	}
	sanitize(s)
	s.Total++
	s.Last = now
	if succeeded {
		s.Success++
		s.LastSuccess = now
	}
	t.dirty = true
}

// RecordCommandUsage bumps the leaderboard entry of command and evicts the
// least used entries beyond the leaderboard size.
func (t *Tracker) RecordCommandUsage(pluginID, command string) {
	key := strings.ToLower(strings.TrimSpace(command))
	if key == "" {
		return
	}
	now := t.now().UnixMilli()
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.usage[key]
	if !ok {
		u = &database.CommandUsage{Command: key}
		t.usage[key] = u
	}
	if u.Count < 0 {
		u.Count = 0
	}
	u.Count++
	u.LastUsed = now
	u.PluginID = pluginID
	if meta, ok := t.meta(pluginID); ok {
		u.Name = meta.Name
		u.Description = meta.Description
		u.Tags = meta.Tags
	}
	t.dirty = true
	if len(t.usage) > t.size {
		t.trim()
	}
}

func sortUsage(entries []*database.CommandUsage) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Command < entries[j].Command
	})
}

// trim keeps the size highest-count entries. Callers hold mu.
func (t *Tracker) trim() {
	if len(t.usage) <= t.size {
		return
	}
	entries := make([]*database.CommandUsage, 0, len(t.usage))
	for _, u := range t.usage {
		entries = append(entries, u)
	}
	sortUsage(entries)
	for _, u := range entries[t.size:] {
		delete(t.usage, u.Command)
	}
}

// Leaderboard returns up to n entries ordered by count; n <= 0 means all.
func (t *Tracker) Leaderboard(n int) []database.CommandUsage {
	t.mu.Lock()
	entries := make([]*database.CommandUsage, 0, len(t.usage))
	for _, u := range t.usage {
		entries = append(entries, u)
	}
	sortUsage(entries)
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	out := make([]database.CommandUsage, len(entries))
	for i, u := range entries {
		out[i] = *u
	}
	t.mu.Unlock()
	return out
}

func (t *Tracker) Stat(pluginID string) (database.PluginStat, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.plugins[pluginID]
	if !ok {
		return database.PluginStat{}, false
	}
	return *s, true
}

// PluginStats returns a copy of all counters ordered by plugin id.
func (t *Tracker) PluginStats() []database.PluginStat {
	t.mu.Lock()
	out := make([]database.PluginStat, 0, len(t.plugins))
	for _, s := range t.plugins {
		out = append(out, *s)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out
}

// Flush writes the state to the store if anything changed since the last flush.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	stats := make([]*database.PluginStat, 0, len(t.plugins))
	for _, s := range t.plugins {
		c := *s
		stats = append(stats, &c)
	}
	usage := make([]*database.CommandUsage, 0, len(t.usage))
	for _, u := range t.usage {
		c := *u
		usage = append(usage, &c)
	}
	t.dirty = false
	t.mu.Unlock()

	if err := t.store.SaveStats(ctx, stats, usage); err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		return errors.Wrap(err, "save stats")
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	logger := log.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := t.Flush(context.WithoutCancel(ctx)); err != nil {
				logger.Error("Failed to flush stats", "err", err)
			}
			return
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				logger.Error("Failed to flush stats", "err", err)
			}
		}
	}
}
