package dispatch

import (
	"fmt"
	"strings"

	"github.com/krau/wabot/types"
)

const (
	// Declared exp above this is refused as cheating.
	MaxPluginExp = 200
	hiddenSecret = "#HIDDEN#"
)

// ExpMultiplier scales command experience with the user's level, up to 2x at level 20.
func ExpMultiplier(level int) float64 {
	if level <= 0 {
		return 1
	}
	if level > 20 {
		level = 20
	}
	return 1 + float64(level)/20
}

// Redact replaces every configured secret in s.
func Redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, hiddenSecret)
	}
	return s
}

func errorReport(pluginID string, m *types.Message, command, errText string) string {
	return fmt.Sprintf("*Plugin:* %s\n*Sender:* %s\n*Chat:* %s\n*Command:* %s\n\n```%s```",
		pluginID, m.Sender, m.Chat, command, errText)
}

// splitCommand splits text after the prefix into a lowercase command and
// its arguments.
func splitCommand(rest string) (command string, args []string, text string) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", nil, ""
	}
	idx := strings.IndexFunc(rest, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' })
	if idx < 0 {
		return strings.ToLower(rest), nil, ""
	}
	after := strings.TrimSpace(rest[idx:])
	return strings.ToLower(rest[:idx]), strings.Fields(after), after
}
