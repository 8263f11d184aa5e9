package client

import (
	"testing"
	"time"

	"github.com/krau/wabot/types"
	"go.mau.fi/whatsmeow/proto/waE2E"
	watypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestMessageText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String(".ping")}, ".ping"},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String(".menu")}}, ".menu"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String(".sticker")}}, ".sticker"},
		{"video caption", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("hi")}}, "hi"},
		{"no text", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := messageText(tt.msg); got != tt.want {
				t.Errorf("messageText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func newEvent(src watypes.MessageSource, id string, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: watypes.MessageInfo{
			MessageSource: src,
			ID:            id,
			PushName:      "alice",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: msg,
	}
}

func TestNormalizeGroupReply(t *testing.T) {
	src := watypes.MessageSource{
		Chat:    watypes.NewJID("1203630", watypes.GroupServer),
		Sender:  watypes.JID{User: "6281234", Device: 12, Server: watypes.DefaultUserServer},
		IsGroup: true,
	}
	msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String(".ban @628999"),
		ContextInfo: &waE2E.ContextInfo{
			StanzaID:      proto.String("QUOTED1"),
			Participant:   proto.String("628999@s.whatsapp.net"),
			QuotedMessage: &waE2E.Message{Conversation: proto.String("spam")},
			MentionedJID:  []string{"628999@s.whatsapp.net"},
		},
	}}
	m := normalize(newEvent(src, "ABC", msg))
	if m == nil {
		t.Fatal("expected message")
	}
	if m.Sender != "6281234@s.whatsapp.net" {
		t.Errorf("sender = %q, device part should be dropped", m.Sender)
	}
	if m.Chat != "1203630@g.us" || !m.IsGroup {
		t.Errorf("chat = %q group = %v", m.Chat, m.IsGroup)
	}
	if m.Text != ".ban @628999" {
		t.Errorf("text = %q", m.Text)
	}
	if len(m.Mentions) != 1 || m.Mentions[0] != "628999@s.whatsapp.net" {
		t.Errorf("mentions = %v", m.Mentions)
	}
	if m.Quoted == nil || m.Quoted.ID != "QUOTED1" || m.Quoted.Sender != "628999@s.whatsapp.net" || m.Quoted.Text != "spam" {
		t.Errorf("quoted = %+v", m.Quoted)
	}
}

func TestNormalizeSenderIdentity(t *testing.T) {
	lid := watypes.NewJID("99887766", watypes.HiddenUserServer)
	pn := watypes.NewJID("6281234", watypes.DefaultUserServer)
	chat := watypes.NewJID("6281234", watypes.DefaultUserServer)
	text := &waE2E.Message{Conversation: proto.String("hi")}

	m := normalize(newEvent(watypes.MessageSource{Chat: chat, Sender: lid, SenderAlt: pn}, "X1", text))
	if m.Sender != pn.String() {
		t.Errorf("lid sender with alt = %q, want %q", m.Sender, pn.String())
	}
	m = normalize(newEvent(watypes.MessageSource{Chat: chat, Sender: lid}, "X2", text))
	if m.Sender != lid.String() {
		t.Errorf("lid sender without alt = %q", m.Sender)
	}
}

func TestNormalizeFromBot(t *testing.T) {
	chat := watypes.NewJID("6281234", watypes.DefaultUserServer)
	text := &waE2E.Message{Conversation: proto.String(".ping")}
	tests := []struct {
		id     string
		fromMe bool
		want   bool
	}{
		{"3EB0ABCDEF", true, true},
		{"3EB0ABCDEF", false, false},
		{"BAE5F00D", true, false},
	}
	for _, tt := range tests {
		m := normalize(newEvent(watypes.MessageSource{Chat: chat, Sender: chat, IsFromMe: tt.fromMe}, tt.id, text))
		if m.FromBot != tt.want {
			t.Errorf("id %s fromMe %v: FromBot = %v", tt.id, tt.fromMe, m.FromBot)
		}
	}
}

func TestNormalizeSkipsProtocolMessages(t *testing.T) {
	chat := watypes.NewJID("6281234", watypes.DefaultUserServer)
	src := watypes.MessageSource{Chat: chat, Sender: chat}
	if normalize(newEvent(src, "P1", &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{}})) != nil {
		t.Error("protocol message should be skipped")
	}
	if normalize(newEvent(src, "P2", nil)) != nil {
		t.Error("empty message should be skipped")
	}
}

func TestConvertGroup(t *testing.T) {
	info := &watypes.GroupInfo{
		JID:       watypes.NewJID("1203630", watypes.GroupServer),
		OwnerJID:  watypes.NewJID("6280001", watypes.DefaultUserServer),
		GroupName: watypes.GroupName{Name: "test group"},
		Participants: []watypes.GroupParticipant{
			{JID: watypes.NewJID("6280001", watypes.DefaultUserServer), IsAdmin: true, IsSuperAdmin: true},
			{JID: watypes.NewJID("5544", watypes.HiddenUserServer), PhoneNumber: watypes.NewJID("6280002", watypes.DefaultUserServer), IsAdmin: true},
			{JID: watypes.NewJID("6280003", watypes.DefaultUserServer)},
		},
	}
	meta := convertGroup(info)
	if meta.Subject != "test group" || meta.Owner != "6280001@s.whatsapp.net" {
		t.Errorf("meta = %+v", meta)
	}
	if p := meta.Find("6280001@s.whatsapp.net"); p == nil || p.Admin != types.RankSuperAdmin {
		t.Errorf("owner participant = %+v", p)
	}
	if p := meta.Find("6280002@s.whatsapp.net"); p == nil || p.Admin != types.RankAdmin {
		t.Errorf("lid participant by phone number = %+v", p)
	}
	if p := meta.Find("6280003@s.whatsapp.net"); p == nil || p.IsAdmin() {
		t.Errorf("member = %+v", p)
	}
}

func TestReplyMessageQuotes(t *testing.T) {
	m := &types.Message{ID: "ABC", Sender: "6281234@s.whatsapp.net", Text: ".ping"}
	msg := replyMessage(m, "pong")
	ext := msg.GetExtendedTextMessage()
	if ext.GetText() != "pong" {
		t.Errorf("text = %q", ext.GetText())
	}
	ci := ext.GetContextInfo()
	if ci.GetStanzaID() != "ABC" || ci.GetParticipant() != m.Sender || ci.GetQuotedMessage().GetConversation() != ".ping" {
		t.Errorf("context info = %v", ci)
	}
}

func TestZapLevel(t *testing.T) {
	if zapLevel("DEBUG").String() != "debug" {
		t.Error("expected debug")
	}
	if zapLevel("nonsense").String() != "info" {
		t.Error("expected info fallback")
	}
}
