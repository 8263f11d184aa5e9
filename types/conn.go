package types

import (
	"context"
	"regexp"
)

// Conn is the live transport connection as seen by the dispatch core.
type Conn interface {
	SelfID() string
	// Prefix returns a connection-specific prefix override, or nil.
	Prefix() *regexp.Regexp
	// ResolveID normalizes an identity (e.g. a hidden lid) to its phone number jid.
	ResolveID(ctx context.Context, id string) (string, error)
	GroupMetadata(ctx context.Context, chat string) (*GroupMeta, error)
	SendText(ctx context.Context, chat, text string) error
	Reply(ctx context.Context, m *Message, text string) error
	MarkRead(ctx context.Context, m *Message) error
}
