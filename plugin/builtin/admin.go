package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/types"
)

func (h *handlers) banChat(ban bool) plugin.HandlerFunc {
	return func(ctx context.Context, m *types.Message, c *plugin.Context) error {
		if c.Chat == nil {
			return errors.New("chat record unavailable")
		}
		if c.Chat.IsBanned == ban {
			if ban {
				return c.Reply(ctx, m, "This chat is already banned.")
			}
			return c.Reply(ctx, m, "This chat is not banned.")
		}
		c.Chat.IsBanned = ban
		if err := h.Records.SaveChat(ctx, c.Chat); err != nil {
			return errors.Wrap(err, "save chat")
		}
		if ban {
			return c.Reply(ctx, m, "Chat banned. The bot will ignore commands here.")
		}
		return c.Reply(ctx, m, "Chat unbanned.")
	}
}

func (h *handlers) banUser(ban bool) plugin.HandlerFunc {
	return func(ctx context.Context, m *types.Message, c *plugin.Context) error {
		id := target(m, c)
		if id == "" {
			return c.Reply(ctx, m, fmt.Sprintf("Mention, quote or give the number of a user.\nExample: %s%s 628123456789", c.Prefix, c.Command))
		}
		if ban && c.CheckTarget(ctx, id).RealOwner {
			return c.Reply(ctx, m, "Owners cannot be banned.")
		}
		u, err := h.Records.User(ctx, id)
		if err != nil {
			return errors.Wrap(err, "load user")
		}
		err = h.update(ctx, u, func(u *database.User) bool {
			u.Banned = ban
			return true
		})
		if err != nil {
			return err
		}
		who := "@" + types.UserPart(id)
		if ban {
			return c.Reply(ctx, m, who+" is banned.")
		}
		return c.Reply(ctx, m, who+" is unbanned.")
	}
}

// addPremium grants premium for a number of days, or permanently when no
// days are given. Remaining time is extended, not replaced.
func (h *handlers) addPremium(ctx context.Context, m *types.Message, c *plugin.Context) error {
	id := target(m, c)
	usage := fmt.Sprintf("Usage: %s%s <@user|number> [days]", c.Prefix, c.Command)
	if id == "" {
		return c.Reply(ctx, m, usage)
	}
	rest := c.Args
	if len(m.Mentions) == 0 && (m.Quoted == nil || m.Quoted.Sender == "") && len(rest) > 0 {
		rest = rest[1:]
	}
	days := 0
	if len(rest) > 0 {
		d, err := strconv.Atoi(rest[0])
		if err != nil || d < 0 {
			return c.Reply(ctx, m, usage)
		}
		days = d
	}
	u, err := h.Records.User(ctx, id)
	if err != nil {
		return errors.Wrap(err, "load user")
	}
	now := h.now()
	who := "@" + types.UserPart(id)
	var reply string
	err = h.update(ctx, u, func(u *database.User) bool {
		if days == 0 {
			u.Premium = true
			u.PremiumUntil = 0
			reply = who + " is now premium permanently."
			return true
		}
		if u.Premium && u.PremiumUntil == 0 {
			reply = who + " already has permanent premium."
			return false
		}
		base := now
		if u.IsPremium(now) {
			base = time.UnixMilli(u.PremiumUntil)
		}
		until := base.Add(time.Duration(days) * 24 * time.Hour)
		u.Premium = true
		u.PremiumUntil = until.UnixMilli()
		reply = fmt.Sprintf("%s is premium until %s.", who, until.UTC().Format("2006-01-02 15:04 MST"))
		return true
	})
	if err != nil {
		return err
	}
	return c.Reply(ctx, m, reply)
}

func (h *handlers) restrict(ctx context.Context, m *types.Message, c *plugin.Context) error {
	state := func(on bool) string {
		if on {
			return "on"
		}
		return "off"
	}
	if len(c.Args) == 0 {
		return c.Reply(ctx, m, fmt.Sprintf("Restrict is %s. Use %s%s on|off.", state(h.Modes.Restrict()), c.Prefix, c.Command))
	}
	switch strings.ToLower(c.Args[0]) {
	case "on", "enable", "1":
		h.Modes.SetRestrict(true)
	case "off", "disable", "0":
		h.Modes.SetRestrict(false)
	default:
		return c.Reply(ctx, m, fmt.Sprintf("Use %s%s on|off.", c.Prefix, c.Command))
	}
	return c.Reply(ctx, m, "Restrict is now "+state(h.Modes.Restrict())+".")
}
