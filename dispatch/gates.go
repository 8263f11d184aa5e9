package dispatch

import (
	"github.com/krau/wabot/auth"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/types"
)

type Reason string

const (
	ReasonChatBanned     Reason = "chatBanned"
	ReasonBanned         Reason = "banned"
	ReasonRealOwner      Reason = "rowner"
	ReasonOwner          Reason = "owner"
	ReasonMods           Reason = "mods"
	ReasonPremium        Reason = "premium"
	ReasonBannedRequired Reason = "bannedOnly"
	ReasonGroup          Reason = "group"
	ReasonBotAdmin       Reason = "botAdmin"
	ReasonAdmin          Reason = "admin"
	ReasonPrivate        Reason = "private"
	ReasonUnregistered   Reason = "unreg"
	ReasonLevel          Reason = "level"
)

// Denial is the outcome of a failed gate. It is a value, not an error.
type Denial struct {
	Reason Reason
	Plugin string
	// Silent denials produce no reply.
	Silent bool
	// Level gate only.
	Required, Current int
}

// checkGates evaluates the plugin's gates in their fixed order and returns
// the first failure, or nil.
func checkGates(p *plugin.Plugin, f auth.Flags, m *types.Message, user *database.User, chat *database.Chat) *Denial {
	deny := func(r Reason) *Denial { return &Denial{Reason: r, Plugin: p.ID} }

	// Only the unban commands themselves get past a ban.
	if !p.BanExempt {
		if chat != nil && chat.IsBanned {
			d := deny(ReasonChatBanned)
			d.Silent = true
			return d
		}
		if f.Banned {
			return deny(ReasonBanned)
		}
	}
	if p.RealOwner && p.Owner && !(f.RealOwner || f.Owner) {
		return deny(ReasonOwner)
	}
	if p.RealOwner && !f.RealOwner {
		return deny(ReasonRealOwner)
	}
	if p.Owner && !f.Owner {
		return deny(ReasonOwner)
	}
	if p.Mods && !f.Mods {
		return deny(ReasonMods)
	}
	if p.Premium && !f.Premium {
		return deny(ReasonPremium)
	}
	if p.Banned && !f.Banned {
		return deny(ReasonBannedRequired)
	}
	// Only one of the group-scoped denials can fire.
	if p.Group && !m.IsGroup {
		return deny(ReasonGroup)
	} else if p.BotAdmin && !f.BotAdmin {
		return deny(ReasonBotAdmin)
	} else if p.Admin && !f.Admin {
		return deny(ReasonAdmin)
	}
	if p.Private && m.IsGroup {
		return deny(ReasonPrivate)
	}
	if p.Register && (user == nil || !user.Registered) {
		return deny(ReasonUnregistered)
	}
	return nil
}
