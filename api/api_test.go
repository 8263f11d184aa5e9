package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/types"
)

type fakeStats struct{}

func (fakeStats) Leaderboard(n int) []database.CommandUsage {
	all := []database.CommandUsage{{Command: "ping", Count: 3}, {Command: "menu", Count: 1}}
	if n < len(all) {
		return all[:n]
	}
	return all
}

func (fakeStats) PluginStats() []database.PluginStat {
	return []database.PluginStat{{PluginID: "a.toml", Total: 1}, {PluginID: "ping.toml", Total: 5}}
}

type fakeModes struct{ restrict, self bool }

func (m *fakeModes) Restrict() bool     { return m.restrict }
func (m *fakeModes) SetRestrict(v bool) { m.restrict = v }
func (m *fakeModes) Self() bool         { return m.self }
func (m *fakeModes) SetSelf(v bool)     { m.self = v }

type fakeConn struct {
	sent []string
}

func (c *fakeConn) SelfID() string         { return "628000@s.whatsapp.net" }
func (c *fakeConn) Prefix() *regexp.Regexp { return nil }
func (c *fakeConn) ResolveID(ctx context.Context, id string) (string, error) {
	return id, nil
}
func (c *fakeConn) GroupMetadata(ctx context.Context, chat string) (*types.GroupMeta, error) {
	return nil, nil
}
func (c *fakeConn) SendText(ctx context.Context, chat, text string) error {
	c.sent = append(c.sent, chat+":"+text)
	return nil
}
func (c *fakeConn) Reply(ctx context.Context, m *types.Message, text string) error { return nil }
func (c *fakeConn) MarkRead(ctx context.Context, m *types.Message) error          { return nil }

func noop(ctx context.Context, m *types.Message, c *plugin.Context) error { return nil }

type testEnv struct {
	root  string
	modes *fakeModes
	conn  *fakeConn
	deps  Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("ping.toml", "cmd = [\"ping\"]\ntags = [\"info\"]\n[exec]\nbuiltin = \"noop\"\n")
	write("menu.toml", "cmd = [\"menu\", \"help\"]\n[exec]\nbuiltin = \"noop\"\n")
	handlers := plugin.HandlerSet{"noop": plugin.HandlerFunc(noop)}
	loader := plugin.NewLoader(root, plugin.NewRegistry(), handlers, plugin.LoaderOptions{})
	if err := loader.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	env := &testEnv{root: root, modes: &fakeModes{}, conn: &fakeConn{}}
	env.deps = Deps{
		Loader: loader,
		Stats:  fakeStats{},
		Modes:  env.modes,
		Conn:   func() types.Conn { return env.conn },
	}
	return env
}

func do(t *testing.T, env *testEnv, key, method, target, body string) (int, map[string]any) {
	t.Helper()
	app := NewApp(key, env.deps)
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	sonic.Unmarshal(data, &out)
	return resp.StatusCode, out
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	app := NewApp("secret", env.deps)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without key = %d", resp.StatusCode)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status with wrong key = %d", resp.StatusCode)
	}
	if code, _ := do(t, env, "secret", http.MethodGet, "/api/status", ""); code != http.StatusOK {
		t.Errorf("status with key = %d", code)
	}
}

func TestPluginsAndCommands(t *testing.T) {
	env := newTestEnv(t)
	code, body := do(t, env, "", http.MethodGet, "/api/plugins", "")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if plugins, _ := body["plugins"].([]any); len(plugins) != 2 {
		t.Errorf("plugins = %v", body["plugins"])
	}
	_, body = do(t, env, "", http.MethodGet, "/api/plugins?tag=info", "")
	if plugins, _ := body["plugins"].([]any); len(plugins) != 1 {
		t.Errorf("tagged plugins = %v", body["plugins"])
	}
	code, body = do(t, env, "", http.MethodGet, "/api/commands/HELP", "")
	if code != http.StatusOK {
		t.Fatalf("command lookup code = %d", code)
	}
	if p, _ := body["plugin"].(map[string]any); p["id"] != "menu.toml" {
		t.Errorf("command plugin = %v", body["plugin"])
	}
	if code, _ := do(t, env, "", http.MethodGet, "/api/commands/nope", ""); code != http.StatusNotFound {
		t.Errorf("unknown command code = %d", code)
	}
	if code, _ := do(t, env, "", http.MethodGet, "/api/plugins/ping.toml", ""); code != http.StatusOK {
		t.Errorf("plugin lookup code = %d", code)
	}
}

func TestDeleteAndReload(t *testing.T) {
	env := newTestEnv(t)
	if code, _ := do(t, env, "", http.MethodDelete, "/api/plugins/ping.toml", ""); code != http.StatusOK {
		t.Fatalf("delete code = %d", code)
	}
	if _, ok := env.deps.Loader.Registry().Find("ping"); ok {
		t.Fatal("ping should be gone after delete")
	}
	if code, _ := do(t, env, "", http.MethodDelete, "/api/plugins/ping.toml", ""); code != http.StatusNotFound {
		t.Errorf("second delete code = %d", code)
	}
	code, body := do(t, env, "", http.MethodPost, "/api/plugins/reload", `{"path":"ping.toml"}`)
	if code != http.StatusOK || body["changed"] != true {
		t.Fatalf("reload code = %d body = %v", code, body)
	}
	if _, ok := env.deps.Loader.Registry().Find("ping"); !ok {
		t.Error("ping should be back after reload")
	}
	if err := os.WriteFile(filepath.Join(env.root, "bad.toml"), []byte("cmd = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if code, _ := do(t, env, "", http.MethodPost, "/api/plugins/reload", `{"path":"bad.toml"}`); code != http.StatusUnprocessableEntity {
		t.Errorf("broken reload code = %d", code)
	}
	if code, _ := do(t, env, "", http.MethodPost, "/api/plugins/reload", ""); code != http.StatusUnprocessableEntity {
		t.Errorf("reload all with a broken file code = %d", code)
	}
}

func TestModesAndStats(t *testing.T) {
	env := newTestEnv(t)
	code, body := do(t, env, "", http.MethodPatch, "/api/modes", `{"restrict":true}`)
	if code != http.StatusOK || !env.modes.restrict || env.modes.self {
		t.Fatalf("modes code = %d body = %v", code, body)
	}
	_, body = do(t, env, "", http.MethodGet, "/api/stats", "")
	stats, _ := body["stats"].([]any)
	if len(stats) != 2 {
		t.Fatalf("stats = %v", body["stats"])
	}
	if first, _ := stats[0].(map[string]any); first["plugin_id"] != "ping.toml" {
		t.Errorf("stats not sorted by total: %v", stats)
	}
	_, body = do(t, env, "", http.MethodGet, "/api/top?n=1", "")
	if top, _ := body["leaderboard"].([]any); len(top) != 1 {
		t.Errorf("top = %v", body["leaderboard"])
	}
	if code, _ := do(t, env, "", http.MethodGet, "/api/top?n=0", ""); code != http.StatusBadRequest {
		t.Errorf("top n=0 code = %d", code)
	}
}

func TestSendText(t *testing.T) {
	env := newTestEnv(t)
	if code, _ := do(t, env, "", http.MethodPost, "/api/client/send", `{"chat":"nochat","text":"hi"}`); code != http.StatusBadRequest {
		t.Errorf("invalid chat code = %d", code)
	}
	if code, _ := do(t, env, "", http.MethodPost, "/api/client/send", `{"chat":"628@s.whatsapp.net","text":"hi"}`); code != http.StatusOK {
		t.Fatalf("send code = %d", code)
	}
	if len(env.conn.sent) != 1 || env.conn.sent[0] != "628@s.whatsapp.net:hi" {
		t.Errorf("sent = %v", env.conn.sent)
	}
	env.deps.Conn = func() types.Conn { return nil }
	if code, _ := do(t, env, "", http.MethodPost, "/api/client/send", `{"chat":"628@s.whatsapp.net","text":"hi"}`); code != http.StatusServiceUnavailable {
		t.Errorf("disconnected send code = %d", code)
	}
}
