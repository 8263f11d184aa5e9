package plugin

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/go-faster/errors"
	"github.com/krau/wabot/auth"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/types"
	"github.com/rs/xid"
)

type processRequest struct {
	ID      string         `json:"id"`
	Phase   Phase          `json:"phase"`
	Plugin  string         `json:"plugin"`
	Message *types.Message `json:"message"`
	Context processContext `json:"context"`
}

type processContext struct {
	Match   []string         `json:"match"`
	Prefix  string           `json:"prefix"`
	Command string           `json:"command"`
	Args    []string         `json:"args"`
	Text    string           `json:"text"`
	Self    string           `json:"self"`
	Group   *types.GroupMeta `json:"group,omitempty"`
	User    *database.User   `json:"user,omitempty"`
	Flags   auth.Flags       `json:"flags"`
}

type processResponse struct {
	Replies []string `json:"replies"`
	Cancel  bool     `json:"cancel"`
	Error   string   `json:"error"`
}

// ProcessHandler runs a plugin routine as a child process: one JSON request
// on stdin, one JSON response on stdout.
type ProcessHandler struct {
	PluginID string
	Phase    Phase
	Command  []string
	Dir      string
	// Zero means no timeout.
	Timeout time.Duration
}

func (h *ProcessHandler) Handle(ctx context.Context, m *types.Message, c *Context) (bool, error) {
	req := processRequest{
		ID:      xid.New().String(),
		Phase:   h.Phase,
		Plugin:  h.PluginID,
		Message: m,
	}
	if c != nil {
		req.Context = processContext{
			Match:   c.Match,
			Prefix:  c.Prefix,
			Command: c.Command,
			Args:    c.Args,
			Text:    c.Text,
			Group:   c.Group,
			User:    c.User,
			Flags:   c.Flags,
		}
		if c.Conn != nil {
			req.Context.Self = c.Conn.SelfID()
		}
	}
	payload, err := sonic.Marshal(req)
	if err != nil {
		return false, errors.Wrap(err, "encode request")
	}

	runCtx := ctx
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, h.Command[0], h.Command[1:]...)
	cmd.Dir = h.Dir
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return false, errors.Errorf("%s timed out after %s", h.Command[0], h.Timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return false, errors.Wrapf(err, "%s: %s", h.Command[0], msg)
		}
		return false, errors.Wrap(err, h.Command[0])
	}
	log.FromContext(ctx).Debug("Process handler finished", "plugin", h.PluginID, "phase", h.Phase, "request", req.ID, "took", time.Since(start))

	var resp processResponse
	if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
		if err := sonic.Unmarshal(out, &resp); err != nil {
			return false, errors.Wrap(err, "decode response")
		}
	}
	if c != nil && c.Conn != nil {
		for _, text := range resp.Replies {
			if err := c.Conn.Reply(ctx, m, text); err != nil {
				log.FromContext(ctx).Error("Failed to send plugin reply", "plugin", h.PluginID, "err", err)
			}
		}
	}
	if resp.Error != "" {
		return resp.Cancel, errors.New(resp.Error)
	}
	return resp.Cancel, nil
}
