package types

import (
	"strings"
	"time"
)

// Message is the normalized view of one inbound chat event. The dispatch
// engine mutates the scratch fields (Exp through Error) while processing it.
type Message struct {
	ID        string    `json:"id"`
	Chat      string    `json:"chat"`
	Sender    string    `json:"sender"`
	PushName  string    `json:"push_name,omitempty"`
	Text      string    `json:"text"`
	IsGroup   bool      `json:"is_group"`
	FromMe    bool      `json:"from_me"`
	FromBot   bool      `json:"-"` // sent by the protocol library itself
	Timestamp time.Time `json:"timestamp"`
	Quoted    *Message  `json:"quoted,omitempty"`
	Mentions  []string  `json:"mentions,omitempty"`

	Exp       int64  `json:"-"`
	Limit     int64  `json:"-"`
	Plugin    string `json:"-"`
	Command   string `json:"-"`
	IsCommand bool   `json:"-"`
	Error     error  `json:"-"`
}

// UserPart returns the part of a jid before '@' and any device suffix, e.g.
// "6281234:12@s.whatsapp.net" -> "6281234".
func UserPart(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}

// SameUser compares two identifiers by their user part.
func SameUser(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return UserPart(a) == UserPart(b)
}
