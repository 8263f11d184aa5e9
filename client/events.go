package client

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/krau/wabot/types"
	"github.com/krau/wabot/utils/cache"
	"go.mau.fi/whatsmeow/proto/waE2E"
	watypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Message ids generated by whatsmeow for outgoing messages start with this.
const botIDPrefix = "3EB0"

func (c *Client) handleEvent(evt any) {
	logger := log.FromContext(c.ctx)
	switch v := evt.(type) {
	case *events.Message:
		m := normalize(v)
		if m == nil {
			return
		}
		c.workers.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Message handler panicked", "id", m.ID, "panic", r)
				}
			}()
			c.handler(c.ctx, c, m)
			return nil
		})
	case *events.GroupInfo:
		cache.Del(groupCacheKey(v.JID.String()))
	case *events.Connected:
		logger.Info("WhatsApp connection established")
	case *events.Disconnected:
		logger.Warn("WhatsApp connection lost")
	case *events.LoggedOut:
		logger.Error("Logged out from WhatsApp, delete the session file and pair again", "reason", v.Reason.String())
	}
}

// normalize converts a whatsmeow message event into the dispatch view.
// Protocol messages without any text-bearing content yield nil.
func normalize(evt *events.Message) *types.Message {
	if evt == nil || evt.Message == nil {
		return nil
	}
	if evt.Message.GetProtocolMessage() != nil || evt.Message.GetReactionMessage() != nil {
		return nil
	}
	info := evt.Info
	m := &types.Message{
		ID:        info.ID,
		Chat:      info.Chat.ToNonAD().String(),
		Sender:    senderJID(info.MessageSource).String(),
		PushName:  info.PushName,
		Text:      messageText(evt.Message),
		IsGroup:   info.IsGroup,
		FromMe:    info.IsFromMe,
		FromBot:   info.IsFromMe && strings.HasPrefix(info.ID, botIDPrefix),
		Timestamp: info.Timestamp,
	}
	if ci := contextInfo(evt.Message); ci != nil {
		m.Mentions = ci.GetMentionedJID()
		if q := ci.GetQuotedMessage(); q != nil {
			m.Quoted = &types.Message{
				ID:      ci.GetStanzaID(),
				Chat:    m.Chat,
				Sender:  ci.GetParticipant(),
				Text:    messageText(q),
				IsGroup: m.IsGroup,
			}
			if m.Quoted.Sender == "" {
				m.Quoted.Sender = m.Chat
			}
		}
	}
	return m
}

// senderJID prefers the phone number identity when the sender is a hidden lid.
func senderJID(src watypes.MessageSource) watypes.JID {
	if src.Sender.Server == watypes.HiddenUserServer && !src.SenderAlt.IsEmpty() {
		return src.SenderAlt.ToNonAD()
	}
	return src.Sender.ToNonAD()
}

func messageText(msg *waE2E.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	case msg.GetButtonsResponseMessage() != nil:
		return msg.GetButtonsResponseMessage().GetSelectedButtonID()
	case msg.GetListResponseMessage() != nil:
		return msg.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID()
	case msg.GetTemplateButtonReplyMessage() != nil:
		return msg.GetTemplateButtonReplyMessage().GetSelectedID()
	}
	return ""
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetContextInfo()
	}
	return nil
}
