package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/krau/wabot/auth"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/types"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in      string
		command string
		args    int
		text    string
	}{
		{"Ping", "ping", 0, ""},
		{"  say hello   world ", "say", 2, "hello   world"},
		{"note\nline one\nline two", "note", 4, "line one\nline two"},
		{"", "", 0, ""},
	}
	for _, tt := range tests {
		command, args, text := splitCommand(tt.in)
		if command != tt.command || len(args) != tt.args || text != tt.text {
			t.Errorf("splitCommand(%q) = %q, %v, %q", tt.in, command, args, text)
		}
	}
}

func TestRedact(t *testing.T) {
	got := Redact("key sk-1 and sk-1 and tok", []string{"sk-1", "", "tok"})
	if got != "key #HIDDEN# and #HIDDEN# and #HIDDEN#" {
		t.Errorf("Redact = %q", got)
	}
}

func TestExpMultiplier(t *testing.T) {
	if ExpMultiplier(0) != 1 || ExpMultiplier(10) != 1.5 || ExpMultiplier(99) != 2 {
		t.Error("unexpected multiplier")
	}
}

func TestGateOrder(t *testing.T) {
	mk := func(t *testing.T, gates string) *plugin.Plugin {
		p, err := plugin.New("g.toml", "/plugins/g.toml", []byte("cmd = \"g\"\n"+gates+"\n[exec]\nbuiltin = \"x\"\n"),
			plugin.HandlerSet{"x": plugin.HandlerFunc(func(context.Context, *types.Message, *plugin.Context) error { return nil })}, 0)
		if err != nil {
			t.Fatal(err)
		}
		return p
	}
	private := &types.Message{}
	group := &types.Message{IsGroup: true}
	tests := []struct {
		name  string
		gates string
		flags auth.Flags
		m     *types.Message
		user  *database.User
		want  Reason
	}{
		{"owner pair", "rowner = true\nowner = true", auth.Flags{}, private, nil, ReasonOwner},
		{"rowner", "rowner = true", auth.Flags{Owner: true}, private, nil, ReasonRealOwner},
		{"banned first", "rowner = true", auth.Flags{Banned: true}, private, nil, ReasonBanned},
		{"banned owner", "", auth.Flags{RealOwner: true, Owner: true, Banned: true}, private, nil, ReasonBanned},
		{"ban exempt", "ban_exempt = true", auth.Flags{Banned: true}, private, nil, ""},
		{"mods before premium", "mods = true\npremium = true", auth.Flags{}, private, nil, ReasonMods},
		{"premium", "premium = true", auth.Flags{Mods: true}, private, nil, ReasonPremium},
		{"banned only", "banned = true", auth.Flags{}, private, nil, ReasonBannedRequired},
		{"group wins over admin", "group = true\nadmin = true", auth.Flags{Admin: true}, private, nil, ReasonGroup},
		{"bot admin before admin", "admin = true\nbot_admin = true", auth.Flags{}, group, nil, ReasonBotAdmin},
		{"private", "private = true", auth.Flags{}, group, nil, ReasonPrivate},
		{"unregistered", "register = true", auth.Flags{}, private, &database.User{}, ReasonUnregistered},
		{"pass", "register = true", auth.Flags{}, private, &database.User{Registered: true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := checkGates(mk(t, tt.gates), tt.flags, tt.m, tt.user, nil)
			var got Reason
			if d != nil {
				got = d.Reason
			}
			if got != tt.want {
				t.Errorf("reason = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponderOverrides(t *testing.T) {
	r := NewTextResponder(map[string]string{"premium": "Buy premium.", "botadmin": "Make me admin."})
	if got := r.Text(&Denial{Reason: ReasonPremium}); got != "Buy premium." {
		t.Errorf("override = %q", got)
	}
	if got := r.Text(&Denial{Reason: ReasonBotAdmin}); got != "Make me admin." {
		t.Errorf("lowercased override = %q", got)
	}
	if got := r.Text(&Denial{Reason: ReasonLevel, Required: 3, Current: 1}); got != "This command requires level 3, you are level 1." {
		t.Errorf("level = %q", got)
	}
}

func TestQueueWaitsForPrevious(t *testing.T) {
	q := NewQueue(2 * time.Second)
	q.poll = 5 * time.Millisecond
	ctx := context.Background()
	q.Enter(ctx, "a")
	done := make(chan struct{})
	go func() {
		q.Enter(ctx, "b")
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("second message did not wait")
	case <-time.After(50 * time.Millisecond):
	}
	q.Leave("a")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second message still waiting after the first left")
	}
	q.Leave("b")
	if q.Len() != 0 {
		t.Errorf("len = %d", q.Len())
	}
}
