package auth

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/duke-git/lancet/v2/slice"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/types"
	"github.com/krau/wabot/utils"
)

// Flags are the capabilities of a message sender, computed once per dispatch.
type Flags struct {
	RealOwner bool `json:"real_owner"`
	Owner     bool `json:"owner"`
	Mods      bool `json:"mods"`
	Premium   bool `json:"premium"`
	Banned    bool `json:"banned"`
	Admin     bool `json:"admin"`
	BotAdmin  bool `json:"bot_admin"`
}

// Target describes a second party, as seen from the current chat.
type Target struct {
	RealOwner   bool               `json:"real_owner"`
	Mods        bool               `json:"mods"`
	RealAdmin   bool               `json:"real_admin"`
	Admin       bool               `json:"admin"`
	Participant *types.Participant `json:"participant,omitempty"`
}

type Options struct {
	// Phone numbers, digits only or full jids.
	Owners []string
	Mods   []string
}

type UserSaver interface {
	SaveUser(ctx context.Context, u *database.User) error
}

type Resolver struct {
	owners []string
	mods   []string
	store  UserSaver
	now    func() time.Time

	// Guards the shared live user records.
	recordMu sync.Mutex
}

func normalizeNumbers(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n := utils.DigitsOnly(types.UserPart(id)); n != "" {
			out = append(out, n)
		}
	}
	return slice.Unique(out)
}

func NewResolver(opts Options, store UserSaver) *Resolver {
	return &Resolver{
		owners: normalizeNumbers(opts.Owners),
		mods:   normalizeNumbers(opts.Mods),
		store:  store,
		now:    time.Now,
	}
}

func (r *Resolver) isOwnerNumber(id string) bool {
	return id != "" && slice.Contain(r.owners, utils.DigitsOnly(types.UserPart(id)))
}

func (r *Resolver) isModNumber(id string) bool {
	return id != "" && slice.Contain(r.mods, utils.DigitsOnly(types.UserPart(id)))
}

// resolve maps id to its phone number jid. A failed lookup yields "" so that
// the caller matches no tier for it.
func resolve(ctx context.Context, conn types.Conn, id string) string {
	if id == "" {
		return ""
	}
	resolved, err := conn.ResolveID(ctx, id)
	if err != nil {
		log.FromContext(ctx).Warn("Identity lookup failed", "id", id, "err", err)
		return ""
	}
	return resolved
}

// Resolve computes the sender's flags. user may be nil when no record could be loaded.
// When the sender is a real owner or moderator its record is promoted in place;
// the returned bool reports whether the record changed.
func (r *Resolver) Resolve(ctx context.Context, conn types.Conn, m *types.Message, user *database.User, group *types.GroupMeta) (Flags, bool) {
	var f Flags
	sender := resolve(ctx, conn, m.Sender)
	self := m.FromMe || types.SameUser(m.Sender, conn.SelfID())

	f.RealOwner = self || r.isOwnerNumber(sender)
	f.Owner = f.RealOwner
	f.Mods = f.Owner || r.isModNumber(sender)
	f.Premium = f.RealOwner
	if m.IsGroup && group != nil {
		f.Admin = group.Find(m.Sender, sender).IsAdmin()
		f.BotAdmin = group.Find(conn.SelfID()).IsAdmin()
	}
	if user == nil {
		return f, false
	}

	unlock := r.LockRecords()
	defer unlock()
	f.Premium = f.Premium || user.IsPremium(r.now())
	f.Banned = user.Banned
	changed := promote(user, f)
	if changed && r.store != nil {
		if err := r.store.SaveUser(ctx, user); err != nil {
			log.FromContext(ctx).Error("Failed to save promoted user", "user", user.ID, "err", err)
		}
	}
	return f, changed
}

// LockRecords locks the shared user records. Anything that mutates or saves a
// live record during dispatch holds it, promotion included.
func (r *Resolver) LockRecords() func() {
	r.recordMu.Lock()
	return r.recordMu.Unlock
}

// promote applies the staff upgrades implied by f. Fields already in the
// promoted state are left alone so repeated calls write nothing.
func promote(u *database.User, f Flags) bool {
	changed := false
	switch {
	case f.RealOwner:
		if !u.Premium || u.PremiumUntil != 0 {
			u.Premium = true
			u.PremiumUntil = 0
			changed = true
		}
		if u.Limit != database.UnlimitedLimit {
			u.Limit = database.UnlimitedLimit
			changed = true
		}
		if u.StaffRole != database.StaffRoleOwner {
			u.StaffRole = database.StaffRoleOwner
			changed = true
		}
	case f.Mods:
		if !u.Moderator {
			u.Moderator = true
			changed = true
		}
		if u.StaffRole != database.StaffRoleModerator {
			u.StaffRole = database.StaffRoleModerator
			changed = true
		}
	}
	return changed
}

// CheckTarget resolves the permissions of another party in group. Outside a
// group or for an empty id it returns the zero Target.
func (r *Resolver) CheckTarget(ctx context.Context, conn types.Conn, group *types.GroupMeta, id string) Target {
	if id == "" || group == nil {
		return Target{}
	}
	var t Target
	resolved := resolve(ctx, conn, id)
	t.RealOwner = r.isOwnerNumber(resolved)
	t.Mods = t.RealOwner || r.isModNumber(resolved)
	if p := group.Find(id, resolved); p != nil {
		t.Participant = p
		t.RealAdmin = p.Admin == types.RankSuperAdmin
		t.Admin = t.RealAdmin || p.Admin == types.RankAdmin
	}
	return t
}
