package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/go-faster/errors"
	"github.com/krau/wabot/auth"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/types"
	"github.com/krau/wabot/utils"
)

type Options struct {
	// Global default prefix.
	Prefix   *regexp.Regexp
	Restrict bool
	// Self mode: only owners are served and no exp or limit is applied.
	Self        bool
	Queue       bool
	AutoRead    bool
	PrivateOnly bool
	GroupOnly   bool
	Observe     bool
	// Strings redacted from error texts shown to users.
	Secrets []string
	// Numbers of owners who receive execution error reports.
	Developers []string
}

type Store interface {
	User(ctx context.Context, id string) (*database.User, error)
	Chat(ctx context.Context, id string) (*database.Chat, error)
	SaveUser(ctx context.Context, u *database.User) error
}

type Recorder interface {
	Record(pluginID string, succeeded bool)
	RecordCommandUsage(pluginID, command string)
}

// Result summarizes one dispatch, mostly for logging and tests.
type Result struct {
	// Plugin that reached execution, if any.
	Plugin   string
	Executed bool
	Err      error
	Denials  []*Denial
	Canceled []string
}

type Engine struct {
	opts      Options
	restrict  atomic.Bool
	self      atomic.Bool
	registry  *plugin.Registry
	resolver  *auth.Resolver
	store     Store
	recorder  Recorder
	responder Responder
	queue     *Queue
	randIntN  func(n int) int
}

func New(opts Options, registry *plugin.Registry, resolver *auth.Resolver, store Store, recorder Recorder) *Engine {
	e := &Engine{
		opts:      opts,
		registry:  registry,
		resolver:  resolver,
		store:     store,
		recorder:  recorder,
		responder: NewTextResponder(nil),
		queue:     NewQueue(0),
		randIntN:  rand.IntN,
	}
	e.restrict.Store(opts.Restrict)
	e.self.Store(opts.Self)
	return e
}

func (e *Engine) SetResponder(r Responder) {
	e.responder = r
}

func (e *Engine) Restrict() bool     { return e.restrict.Load() }
func (e *Engine) SetRestrict(v bool) { e.restrict.Store(v) }
func (e *Engine) Self() bool         { return e.self.Load() }
func (e *Engine) SetSelf(v bool)     { e.self.Store(v) }

func (e *Engine) Queue() *Queue {
	return e.queue
}

// Handle dispatches one inbound message. At most one plugin executes.
func (e *Engine) Handle(ctx context.Context, conn types.Conn, m *types.Message) (res Result) {
	if m == nil || m.FromBot || m.Chat == "" || m.Sender == "" {
		return
	}
	logger := log.FromContext(ctx).With("msg", m.ID, "chat", m.Chat)
	if e.opts.Observe {
		return
	}

	user, err := e.store.User(ctx, m.Sender)
	if err != nil {
		logger.Error("Failed to load user", "sender", m.Sender, "err", err)
		user = nil
	}
	chat, err := e.store.Chat(ctx, m.Chat)
	if err != nil {
		logger.Error("Failed to load chat", "err", err)
		chat = nil
	}
	var group *types.GroupMeta
	if m.IsGroup {
		if group, err = conn.GroupMetadata(ctx, m.Chat); err != nil {
			logger.Warn("Failed to get group metadata", "err", err)
			group = nil
		}
	}
	flags, _ := e.resolver.Resolve(ctx, conn, m, user, group)

	self := e.self.Load()
	if self && !flags.Owner {
		return
	}
	if ((e.opts.PrivateOnly && m.IsGroup) || (e.opts.GroupOnly && !m.IsGroup)) && !flags.Owner {
		return
	}
	if e.opts.Queue && m.Text != "" && !(flags.Mods || flags.Premium) {
		e.queue.Enter(ctx, m.ID)
		defer e.queue.Leave(m.ID)
	}
	if e.opts.AutoRead {
		if err := conn.MarkRead(ctx, m); err != nil {
			logger.Debug("Failed to mark message read", "err", err)
		}
	}
	if !self {
		m.Exp += int64(e.randIntN(10) + 1)
	}
	defer e.finish(ctx, m, user, self)

	snap := e.registry.Snapshot()
	base := plugin.Context{
		Conn:  conn,
		Group: group,
		User:  user,
		Chat:  chat,
		Flags: flags,
		Text:  m.Text,
		TargetFunc: func(ctx context.Context, id string) auth.Target {
			return e.resolver.CheckTarget(ctx, conn, group, id)
		},
	}

	for _, p := range snap.Plugins() {
		if p.All == nil {
			continue
		}
		pc := base
		pc.Plugin = p
		if _, err := safeHandle(ctx, p.All, m, &pc); err != nil {
			logger.Error("All hook failed", "plugin", p.ID, "err", err)
		}
	}

	for _, p := range snap.Plugins() {
		if !p.Usable() {
			continue
		}
		if !e.restrict.Load() && p.HasTag("admin") {
			continue
		}
		prefix, ok := e.matchPrefix(p, conn, m.Text)
		if !ok {
			continue
		}
		command, args, text := splitCommand(m.Text[len(prefix):])
		match, ok := p.MatchCommand(command)
		if !ok {
			continue
		}
		m.Plugin = p.ID
		pc := base
		pc.Plugin = p
		pc.Match = match
		pc.Prefix = prefix
		pc.Command = command
		pc.Args = args
		pc.Text = text

		if p.Before != nil {
			cancel, err := safeHandle(ctx, p.Before, m, &pc)
			if err != nil {
				logger.Error("Before hook failed", "plugin", p.ID, "err", err)
			}
			if cancel {
				res.Canceled = append(res.Canceled, p.ID)
				continue
			}
		}

		if d := checkGates(p, flags, m, user, chat); d != nil {
			e.deny(ctx, conn, m, d)
			res.Denials = append(res.Denials, d)
			continue
		}

		m.IsCommand = true
		m.Command = command
		if !self {
			if p.Exp > MaxPluginExp {
				conn.Reply(ctx, m, "Cheating detected: experience rejected.")
			} else {
				level := 0
				if user != nil {
					level = user.Level
				}
				m.Exp += int64(float64(p.Exp) * ExpMultiplier(level))
			}
		}
		if p.Limit > 0 && !flags.Premium && user != nil && !user.HasLimit(p.Limit) {
			conn.Reply(ctx, m, fmt.Sprintf("Your limit is running out (%d left, this command costs %d).", user.Limit, p.Limit))
		}
		if p.Level > 0 {
			current := 0
			if user != nil {
				current = user.Level
			}
			if current < p.Level {
				d := &Denial{Reason: ReasonLevel, Plugin: p.ID, Required: p.Level, Current: current}
				e.deny(ctx, conn, m, d)
				res.Denials = append(res.Denials, d)
				continue
			}
		}

		res.Plugin = p.ID
		res.Executed = true
		logger.Debug("Executing plugin", "plugin", p.ID, "command", command)
		if _, err := safeHandle(ctx, p.Exec, m, &pc); err != nil {
			m.Error = err
			res.Err = err
			e.reportError(ctx, conn, m, p, err)
		} else if !flags.Premium {
			m.Limit = p.Limit
		}

		if p.After != nil {
			if _, err := safeHandle(ctx, p.After, m, &pc); err != nil {
				logger.Error("After hook failed", "plugin", p.ID, "err", err)
			}
		}
		if m.Limit > 0 {
			conn.Reply(ctx, m, fmt.Sprintf("%d limit used", m.Limit))
		}

		if e.recorder != nil {
			e.recorder.Record(p.ID, m.Error == nil)
			if m.Error == nil {
				e.recorder.RecordCommandUsage(p.ID, command)
			}
		}
		break
	}
	return res
}

// matchPrefix resolves the active prefix for p and matches it at the start of
// text. A no-prefix plugin accepts text starting with a letter.
func (e *Engine) matchPrefix(p *plugin.Plugin, conn types.Conn, text string) (string, bool) {
	re := p.CustomPrefixPattern()
	if re == nil {
		re = conn.Prefix()
	}
	if re == nil {
		re = e.opts.Prefix
	}
	if re != nil {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 && loc[1] > 0 {
			return text[:loc[1]], true
		}
	}
	if p.NoPrefix && utils.StartsWithLetter(text) {
		return "", true
	}
	return "", false
}

func (e *Engine) deny(ctx context.Context, conn types.Conn, m *types.Message, d *Denial) {
	log.FromContext(ctx).Debug("Plugin denied", "plugin", d.Plugin, "reason", d.Reason)
	if err := e.responder.Deny(ctx, conn, m, d); err != nil {
		log.FromContext(ctx).Error("Failed to send denial", "plugin", d.Plugin, "err", err)
	}
}

func (e *Engine) reportError(ctx context.Context, conn types.Conn, m *types.Message, p *plugin.Plugin, err error) {
	logger := log.FromContext(ctx)
	logger.Error("Plugin execution failed", "plugin", p.ID, "err", err)
	text := Redact(err.Error(), e.opts.Secrets)
	if err := conn.Reply(ctx, m, text); err != nil {
		logger.Error("Failed to reply error", "err", err)
	}
	report := errorReport(p.ID, m, m.Command, text)
	for _, dev := range e.opts.Developers {
		jid := utils.DigitsOnly(types.UserPart(dev)) + "@s.whatsapp.net"
		if err := conn.SendText(ctx, jid, report); err != nil {
			logger.Error("Failed to relay error report", "to", jid, "err", err)
		}
	}
}

// finish applies the exp and limit gathered during dispatch.
func (e *Engine) finish(ctx context.Context, m *types.Message, user *database.User, self bool) {
	if self || user == nil {
		return
	}
	if m.Exp == 0 && m.Limit == 0 {
		return
	}
	unlock := e.resolver.LockRecords()
	defer unlock()
	user.Exp += m.Exp
	user.SpendLimit(m.Limit)
	if err := e.store.SaveUser(ctx, user); err != nil {
		log.FromContext(ctx).Error("Failed to save user", "user", user.ID, "err", err)
	}
}

// safeHandle runs h, turning a panic into an error.
func safeHandle(ctx context.Context, h plugin.Handler, m *types.Message, pc *plugin.Context) (cancel bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, m, pc)
}
