package client

import (
	"context"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/krau/wabot/types"
	"github.com/krau/wabot/utils/cache"
	"go.mau.fi/whatsmeow/proto/waE2E"
	watypes "go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

const groupMetaTTL = 2 * time.Minute

var _ types.Conn = (*Client)(nil)

func (c *Client) SelfID() string {
	if c.WA.Store.ID == nil {
		return ""
	}
	return c.WA.Store.ID.ToNonAD().String()
}

func (c *Client) Prefix() *regexp.Regexp {
	return c.opts.Prefix
}

// ResolveID maps a hidden lid identity to its phone number jid. Other ids are
// returned without their device part.
func (c *Client) ResolveID(ctx context.Context, id string) (string, error) {
	jid, err := watypes.ParseJID(id)
	if err != nil {
		return "", errors.Wrapf(err, "parse jid %q", id)
	}
	if jid.Server != watypes.HiddenUserServer {
		return jid.ToNonAD().String(), nil
	}
	return cache.GetOrLoad(cache.Key("wa", "lid", jid.User), cache.DefaultTTL, func() (string, error) {
		pn, err := c.WA.Store.LIDs.GetPNForLID(ctx, jid.ToNonAD())
		if err != nil {
			return "", errors.Wrap(err, "lookup phone number")
		}
		if pn.IsEmpty() {
			return "", errors.Errorf("no phone number known for %s", id)
		}
		return pn.ToNonAD().String(), nil
	})
}

func groupCacheKey(chat string) string {
	return cache.Key("wa", "group", chat)
}

func (c *Client) GroupMetadata(ctx context.Context, chat string) (*types.GroupMeta, error) {
	jid, err := watypes.ParseJID(chat)
	if err != nil {
		return nil, errors.Wrapf(err, "parse jid %q", chat)
	}
	return cache.GetOrLoad(groupCacheKey(chat), groupMetaTTL, func() (*types.GroupMeta, error) {
		info, err := c.WA.GetGroupInfo(ctx, jid)
		if err != nil {
			return nil, errors.Wrap(err, "get group info")
		}
		return convertGroup(info), nil
	})
}

func convertGroup(info *watypes.GroupInfo) *types.GroupMeta {
	meta := &types.GroupMeta{
		ID:           info.JID.String(),
		Subject:      info.Name,
		Participants: make([]types.Participant, 0, len(info.Participants)),
	}
	if !info.OwnerJID.IsEmpty() {
		meta.Owner = info.OwnerJID.String()
	}
	for _, gp := range info.Participants {
		p := types.Participant{ID: gp.JID.ToNonAD().String()}
		if !gp.PhoneNumber.IsEmpty() {
			p.PhoneNumber = gp.PhoneNumber.ToNonAD().String()
		}
		switch {
		case gp.IsSuperAdmin:
			p.Admin = types.RankSuperAdmin
		case gp.IsAdmin:
			p.Admin = types.RankAdmin
		}
		meta.Participants = append(meta.Participants, p)
	}
	return meta
}

func (c *Client) SendText(ctx context.Context, chat, text string) error {
	return c.send(ctx, chat, &waE2E.Message{Conversation: proto.String(text)})
}

func (c *Client) Reply(ctx context.Context, m *types.Message, text string) error {
	return c.send(ctx, m.Chat, replyMessage(m, text))
}

func replyMessage(m *types.Message, text string) *waE2E.Message {
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:      proto.String(m.ID),
				Participant:   proto.String(m.Sender),
				QuotedMessage: &waE2E.Message{Conversation: proto.String(m.Text)},
			},
		},
	}
}

func (c *Client) send(ctx context.Context, chat string, msg *waE2E.Message) error {
	jid, err := watypes.ParseJID(chat)
	if err != nil {
		return errors.Wrapf(err, "parse jid %q", chat)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		_, err := c.WA.SendMessage(ctx, jid, msg)
		return err
	}, b)
}

func (c *Client) MarkRead(ctx context.Context, m *types.Message) error {
	chat, err := watypes.ParseJID(m.Chat)
	if err != nil {
		return errors.Wrapf(err, "parse jid %q", m.Chat)
	}
	sender := watypes.EmptyJID
	if m.IsGroup {
		if sender, err = watypes.ParseJID(m.Sender); err != nil {
			return errors.Wrapf(err, "parse jid %q", m.Sender)
		}
	}
	return c.WA.MarkRead(ctx, []watypes.MessageID{m.ID}, m.Timestamp, chat, sender)
}
