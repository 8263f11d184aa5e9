package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/types"
)

var registerPattern = regexp.MustCompile(`^(.+?)[.|](\d+)$`)

func (h *handlers) register(ctx context.Context, m *types.Message, c *plugin.Context) error {
	u := c.User
	if u == nil {
		return errors.New("user record unavailable")
	}
	if u.Registered {
		return c.Reply(ctx, m, fmt.Sprintf("You are already registered. Use %sunregister to start over.", c.Prefix))
	}
	usage := fmt.Sprintf("Usage: %s%s name.age\nExample: %s%s alice.20", c.Prefix, c.Command, c.Prefix, c.Command)
	match := registerPattern.FindStringSubmatch(strings.TrimSpace(c.Text))
	if match == nil {
		return c.Reply(ctx, m, usage)
	}
	name := strings.TrimSpace(match[1])
	if name == "" || len([]rune(name)) > 32 {
		return c.Reply(ctx, m, "Name must be between 1 and 32 characters.")
	}
	age, err := strconv.Atoi(match[2])
	if err != nil || age < 5 || age > 120 {
		return c.Reply(ctx, m, "Age must be between 5 and 120.")
	}
	err = h.update(ctx, u, func(u *database.User) bool {
		u.Registered = true
		u.RegName = name
		u.Name = name
		u.Age = age
		u.RegTime = h.now().UnixMilli()
		return true
	})
	if err != nil {
		return err
	}
	return c.Reply(ctx, m, fmt.Sprintf("Registered as %s (%d).", name, age))
}

func (h *handlers) unregister(ctx context.Context, m *types.Message, c *plugin.Context) error {
	u := c.User
	if u == nil {
		return errors.New("user record unavailable")
	}
	if !u.Registered {
		return c.Reply(ctx, m, "You are not registered.")
	}
	err := h.update(ctx, u, func(u *database.User) bool {
		u.Registered = false
		u.RegName = ""
		u.Age = 0
		u.RegTime = 0
		return true
	})
	if err != nil {
		return err
	}
	return c.Reply(ctx, m, "Registration removed.")
}

// LevelFor returns the level reached with exp; level n needs 100*n*n.
func LevelFor(exp int64) int {
	level := 0
	for int64(level+1)*int64(level+1)*100 <= exp {
		level++
	}
	return level
}

func (h *handlers) levelup(ctx context.Context, m *types.Message, c *plugin.Context) error {
	u := c.User
	if u == nil {
		return nil
	}
	level, leveled := 0, false
	err := h.update(ctx, u, func(u *database.User) bool {
		level = LevelFor(u.Exp)
		leveled = level > u.Level
		if leveled {
			u.Level = level
		}
		return leveled
	})
	if err != nil || !leveled {
		return err
	}
	return c.Reply(ctx, m, fmt.Sprintf("Level up! You are now level %d.", level))
}
