package plugin

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/krau/wabot/types"
)

type replyConn struct {
	replies []string
}

func (c *replyConn) SelfID() string         { return "999@s.whatsapp.net" }
func (c *replyConn) Prefix() *regexp.Regexp { return nil }
func (c *replyConn) ResolveID(_ context.Context, id string) (string, error) {
	return id, nil
}
func (c *replyConn) GroupMetadata(context.Context, string) (*types.GroupMeta, error) {
	return nil, nil
}
func (c *replyConn) SendText(context.Context, string, string) error { return nil }
func (c *replyConn) Reply(_ context.Context, _ *types.Message, text string) error {
	c.replies = append(c.replies, text)
	return nil
}
func (c *replyConn) MarkRead(context.Context, *types.Message) error { return nil }

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestProcessHandler(t *testing.T) {
	requireShell(t)
	tests := []struct {
		name       string
		script     string
		timeout    time.Duration
		wantCancel bool
		wantErr    string
		wantReply  []string
	}{
		{
			name:      "replies",
			script:    `cat > /dev/null; echo '{"replies":["pong","again"]}'`,
			wantReply: []string{"pong", "again"},
		},
		{
			name:       "cancel",
			script:     `cat > /dev/null; echo '{"cancel":true}'`,
			wantCancel: true,
		},
		{
			name:    "error field",
			script:  `cat > /dev/null; echo '{"error":"quota exceeded"}'`,
			wantErr: "quota exceeded",
		},
		{
			name:    "non-zero exit",
			script:  `echo boom >&2; exit 3`,
			wantErr: "boom",
		},
		{
			name:    "timeout",
			script:  `sleep 5`,
			timeout: 100 * time.Millisecond,
			wantErr: "timed out",
		},
		{
			name:   "empty output",
			script: `cat > /dev/null`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &ProcessHandler{
				PluginID: "test.toml",
				Phase:    PhaseExec,
				Command:  []string{"sh", "-c", tt.script},
				Dir:      t.TempDir(),
				Timeout:  tt.timeout,
			}
			conn := &replyConn{}
			m := &types.Message{ID: "1", Chat: "1@s.whatsapp.net", Sender: "1@s.whatsapp.net", Text: ".ping"}
			cancel, err := h.Handle(context.Background(), m, &Context{Conn: conn, Command: "ping"})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cancel != tt.wantCancel {
				t.Errorf("cancel = %v", cancel)
			}
			if strings.Join(conn.replies, "|") != strings.Join(tt.wantReply, "|") {
				t.Errorf("replies = %v, want %v", conn.replies, tt.wantReply)
			}
		})
	}
}

func TestProcessHandlerReceivesRequest(t *testing.T) {
	requireShell(t)
	h := &ProcessHandler{
		PluginID: "echo.toml",
		Phase:    PhaseExec,
		// Echo the command field of the request back as a reply.
		Command: []string{"sh", "-c", `grep -o '"command":"[a-z]*"' | head -n1 | sed 's/.*:"\(.*\)"/{"replies":["\1"]}/'`},
		Dir:     t.TempDir(),
	}
	conn := &replyConn{}
	_, err := h.Handle(context.Background(), &types.Message{Text: ".echo hi"}, &Context{Conn: conn, Command: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	if len(conn.replies) != 1 || conn.replies[0] != "echo" {
		t.Errorf("replies = %v", conn.replies)
	}
}
