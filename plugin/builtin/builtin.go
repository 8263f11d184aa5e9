// Package builtin holds the handlers compiled into the bot. Descriptors refer
// to them by name under [exec], [before], [after] or [all].
package builtin

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/types"
	"github.com/krau/wabot/utils"
)

type Records interface {
	User(ctx context.Context, id string) (*database.User, error)
	SaveUser(ctx context.Context, u *database.User) error
	SaveChat(ctx context.Context, c *database.Chat) error
}

type StatsSource interface {
	Leaderboard(n int) []database.CommandUsage
	PluginStats() []database.PluginStat
}

type Modes interface {
	Restrict() bool
	SetRestrict(v bool)
}

type Deps struct {
	Registry *plugin.Registry
	Stats    StatsSource
	Records  Records
	Modes    Modes
	Started  time.Time
	// Locks the shared user records while a handler changes one. Optional.
	LockRecords func() func()
}

type handlers struct {
	Deps
	now func() time.Time
}

// update applies fn to the live record u and saves it under the record lock.
// fn reports whether anything changed.
func (h *handlers) update(ctx context.Context, u *database.User, fn func(u *database.User) bool) error {
	if h.LockRecords != nil {
		unlock := h.LockRecords()
		defer unlock()
	}
	if !fn(u) {
		return nil
	}
	if err := h.Records.SaveUser(ctx, u); err != nil {
		return errors.Wrap(err, "save user")
	}
	return nil
}

// New returns every builtin handler bound to deps.
func New(deps Deps) plugin.HandlerSet {
	h := &handlers{Deps: deps, now: time.Now}
	if h.Started.IsZero() {
		h.Started = h.now()
	}
	return plugin.HandlerSet{
		"ping":       plugin.HandlerFunc(h.ping),
		"menu":       plugin.HandlerFunc(h.menu),
		"top":        plugin.HandlerFunc(h.top),
		"stats":      plugin.HandlerFunc(h.stats),
		"register":   plugin.HandlerFunc(h.register),
		"unregister": plugin.HandlerFunc(h.unregister),
		"levelup":    plugin.HandlerFunc(h.levelup),
		"banchat":    plugin.HandlerFunc(h.banChat(true)),
		"unbanchat":  plugin.HandlerFunc(h.banChat(false)),
		"banuser":    plugin.HandlerFunc(h.banUser(true)),
		"unbanuser":  plugin.HandlerFunc(h.banUser(false)),
		"addprem":    plugin.HandlerFunc(h.addPremium),
		"restrict":   plugin.HandlerFunc(h.restrict),
	}
}

// target picks the party a command is about: first mention, quoted sender,
// then a number in the first argument.
func target(m *types.Message, c *plugin.Context) string {
	if len(m.Mentions) > 0 {
		return m.Mentions[0]
	}
	if m.Quoted != nil && m.Quoted.Sender != "" {
		return m.Quoted.Sender
	}
	if len(c.Args) > 0 {
		if n := utils.DigitsOnly(c.Args[0]); n != "" {
			return n + "@s.whatsapp.net"
		}
	}
	return ""
}
