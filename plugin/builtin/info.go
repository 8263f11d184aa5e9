package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/types"
)

func (h *handlers) ping(ctx context.Context, m *types.Message, c *plugin.Context) error {
	text := "Pong!"
	if !m.Timestamp.IsZero() {
		text = fmt.Sprintf("Pong! %s", h.now().Sub(m.Timestamp).Round(time.Millisecond))
	}
	return c.Reply(ctx, m, text)
}

func (h *handlers) menu(ctx context.Context, m *types.Message, c *plugin.Context) error {
	if len(c.Args) > 0 {
		p, ok := h.Registry.Find(c.Args[0])
		if !ok {
			return c.Reply(ctx, m, fmt.Sprintf("Command %q not found.", c.Args[0]))
		}
		return c.Reply(ctx, m, describe(p, c.Prefix))
	}

	byTag := make(map[string][]string)
	for _, p := range h.Registry.Plugins() {
		if !p.Usable() {
			continue
		}
		help := p.Help
		if len(help) == 0 {
			help = p.Cmd
		}
		if len(help) == 0 {
			help = []string{p.Name}
		}
		tags := p.Tags
		if len(tags) == 0 {
			tags = []string{"other"}
		}
		for _, tag := range tags {
			for _, line := range help {
				byTag[tag] = append(byTag[tag], c.Prefix+line)
			}
		}
	}
	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Menu* (up %s)\n", h.now().Sub(h.Started).Round(time.Second))
	for _, tag := range tags {
		fmt.Fprintf(&sb, "\n*%s*\n", strings.ToUpper(tag))
		for _, line := range byTag[tag] {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}
	return c.Reply(ctx, m, strings.TrimRight(sb.String(), "\n"))
}

func describe(p *plugin.Plugin, prefix string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s*", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&sb, "\n%s", p.Description)
	}
	if len(p.Cmd) > 0 {
		fmt.Fprintf(&sb, "\nCommands: %s%s", prefix, strings.Join(p.Cmd, ", "+prefix))
	} else if p.Pattern() != nil {
		fmt.Fprintf(&sb, "\nPattern: %s", p.Pattern())
	}
	if p.Limit > 0 {
		fmt.Fprintf(&sb, "\nLimit: %d", p.Limit)
	}
	if p.Level > 0 {
		fmt.Fprintf(&sb, "\nLevel: %d", p.Level)
	}
	var gates []string
	for _, g := range []struct {
		on   bool
		name string
	}{
		{p.RealOwner, "real owner"}, {p.Owner, "owner"}, {p.Mods, "moderator"}, {p.Premium, "premium"},
		{p.Group, "group"}, {p.Private, "private"}, {p.Admin, "admin"}, {p.BotAdmin, "bot admin"},
		{p.Register, "registered"},
	} {
		if g.on {
			gates = append(gates, g.name)
		}
	}
	if len(gates) > 0 {
		fmt.Fprintf(&sb, "\nRequires: %s", strings.Join(gates, ", "))
	}
	return sb.String()
}

func (h *handlers) top(ctx context.Context, m *types.Message, c *plugin.Context) error {
	board := h.Stats.Leaderboard(10)
	if len(board) == 0 {
		return c.Reply(ctx, m, "No commands used yet.")
	}
	var sb strings.Builder
	sb.WriteString("*Top commands*\n")
	for i, u := range board {
		fmt.Fprintf(&sb, "\n%d. %s%s - %d", i+1, c.Prefix, u.Command, u.Count)
	}
	return c.Reply(ctx, m, sb.String())
}

func (h *handlers) stats(ctx context.Context, m *types.Message, c *plugin.Context) error {
	all := h.Stats.PluginStats()
	if len(all) == 0 {
		return c.Reply(ctx, m, "No plugin has run yet.")
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Total > all[j].Total })
	if len(all) > 10 {
		all = all[:10]
	}
	var sb strings.Builder
	sb.WriteString("*Plugin stats*\n")
	for _, s := range all {
		name := s.PluginID
		if meta, ok := plugin.CachedMeta(s.PluginID); ok {
			name = meta.Name
		}
		fmt.Fprintf(&sb, "\n%s: %d runs, %d ok", name, s.Total, s.Success)
		if s.Last > 0 {
			fmt.Fprintf(&sb, ", last %s ago", h.now().Sub(time.UnixMilli(s.Last)).Round(time.Second))
		}
	}
	return c.Reply(ctx, m, sb.String())
}
