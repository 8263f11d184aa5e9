package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/krau/wabot/types"
)

// Responder tells the user why a plugin refused to run.
type Responder interface {
	Deny(ctx context.Context, conn types.Conn, m *types.Message, d *Denial) error
}

var defaultMessages = map[Reason]string{
	ReasonBanned:         "You are banned from using this bot.",
	ReasonRealOwner:      "This command can only be used by the real owner of the bot.",
	ReasonOwner:          "This command can only be used by the bot owner.",
	ReasonMods:           "This command can only be used by moderators.",
	ReasonPremium:        "This command is for premium users only.",
	ReasonBannedRequired: "This command is only available to banned users.",
	ReasonGroup:          "This command can only be used in groups.",
	ReasonBotAdmin:       "Make the bot an admin first to use this command.",
	ReasonAdmin:          "This command is for group admins only.",
	ReasonPrivate:        "This command can only be used in a private chat.",
	ReasonUnregistered:   "Please register first to use this command.\n\nExample: .register name.age",
	ReasonLevel:          "This command requires level %d, you are level %d.",
}

// TextResponder replies with a fixed text per reason.
type TextResponder struct {
	messages map[Reason]string
}

// NewTextResponder builds a responder from the default texts, replacing any
// whose reason appears in overrides. Reasons match case-insensitively since
// config keys arrive lowercased.
func NewTextResponder(overrides map[string]string) *TextResponder {
	messages := make(map[Reason]string, len(defaultMessages))
	for r, text := range defaultMessages {
		messages[r] = text
	}
	for key, text := range overrides {
		if text == "" {
			continue
		}
		for r := range defaultMessages {
			if strings.EqualFold(string(r), key) {
				messages[r] = text
			}
		}
	}
	return &TextResponder{messages: messages}
}

func (r *TextResponder) Text(d *Denial) string {
	text, ok := r.messages[d.Reason]
	if !ok {
		return ""
	}
	if d.Reason == ReasonLevel {
		return fmt.Sprintf(text, d.Required, d.Current)
	}
	return text
}

func (r *TextResponder) Deny(ctx context.Context, conn types.Conn, m *types.Message, d *Denial) error {
	if d.Silent {
		return nil
	}
	text := r.Text(d)
	if text == "" {
		return nil
	}
	return conn.Reply(ctx, m, text)
}
