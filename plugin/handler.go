package plugin

import (
	"context"
	"sort"

	"github.com/krau/wabot/auth"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/types"
)

type Phase string

const (
	PhaseAll    Phase = "all"
	PhaseBefore Phase = "before"
	PhaseExec   Phase = "exec"
	PhaseAfter  Phase = "after"
)

// Handler runs one plugin routine. The cancel result is only meaningful for
// before hooks, where true stops this plugin and lets dispatch move on.
type Handler interface {
	Handle(ctx context.Context, m *types.Message, c *Context) (cancel bool, err error)
}

type HandlerFunc func(ctx context.Context, m *types.Message, c *Context) error

func (f HandlerFunc) Handle(ctx context.Context, m *types.Message, c *Context) (bool, error) {
	return false, f(ctx, m, c)
}

type BeforeFunc func(ctx context.Context, m *types.Message, c *Context) (bool, error)

func (f BeforeFunc) Handle(ctx context.Context, m *types.Message, c *Context) (bool, error) {
	return f(ctx, m, c)
}

// HandlerSet maps builtin names, as referenced from descriptors, to handlers.
type HandlerSet map[string]Handler

func (s HandlerSet) Register(name string, h Handler) {
	s[name] = h
}

func (s HandlerSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type TargetFunc func(ctx context.Context, id string) auth.Target

// Context is everything a plugin routine gets besides the message itself.
type Context struct {
	// Submatches of the command regex, or the literal command alone.
	Match   []string
	Prefix  string
	Command string
	Args    []string
	// Text after the command.
	Text   string
	Conn   types.Conn
	Group  *types.GroupMeta
	User   *database.User
	Chat   *database.Chat
	Flags  auth.Flags
	Plugin *Plugin

	TargetFunc TargetFunc
}

// CheckTarget resolves the permissions of another party in the current chat.
func (c *Context) CheckTarget(ctx context.Context, id string) auth.Target {
	if c.TargetFunc == nil {
		return auth.Target{}
	}
	return c.TargetFunc(ctx, id)
}

func (c *Context) Reply(ctx context.Context, m *types.Message, text string) error {
	return c.Conn.Reply(ctx, m, text)
}
