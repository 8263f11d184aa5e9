package migrate

import (
	"context"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/go-faster/errors"
	"github.com/krau/wabot/config"
	"github.com/krau/wabot/database"
	"github.com/rs/xid"
	"github.com/spf13/cobra"
)

/*
legacy 导入旧版 JSON 数据库 (users / chats / stats 三个对象)
字段可能因旧版本 bug 而损坏 (字符串数字, null, NaN), 导入时统一修正
*/

func RegisterCmd(root *cobra.Command) {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import data from older bot versions",
	}
	var plain bool
	legacyCmd := &cobra.Command{
		Use:   "legacy <database.json>",
		Short: "Import users, chats and plugin stats from a legacy JSON database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if err := config.Init(cfgPath); err != nil {
				return errors.Wrap(err, "load config")
			}
			ctx := cmd.Context()
			if err := database.InitDatabase(ctx, config.C.Database.Path); err != nil {
				return err
			}
			defer database.Close()
			if plain {
				logger := log.FromContext(ctx)
				res, err := ImportLegacy(ctx, args[0], func(stage string, current, total int, message string) {
					if current == total {
						logger.Info(message, "stage", stage, "count", total)
					}
				})
				if err != nil {
					return err
				}
				logger.Info("Import completed", "batch", res.Batch, "users", res.Users, "chats", res.Chats, "stats", res.Stats, "repaired", res.Repaired)
				return nil
			}
			return runWithProgress(func(progress func(stage string, current, total int, message string)) (*Result, error) {
				return ImportLegacy(ctx, args[0], progress)
			})
		},
	}
	legacyCmd.Flags().BoolVar(&plain, "plain", false, "log progress instead of drawing a progress view")
	migrateCmd.AddCommand(legacyCmd)
	root.AddCommand(migrateCmd)
}

type legacyDB struct {
	Users map[string]map[string]any `json:"users"`
	Chats map[string]map[string]any `json:"chats"`
	Stats map[string]map[string]any `json:"stats"`
}

type Result struct {
	Batch string
	Users int
	Chats int
	Stats int
	// Number of corrupted fields that were replaced by defaults.
	Repaired int
}

// ImportLegacy reads a legacy JSON database and upserts its records.
// progress is called after every record.
func ImportLegacy(ctx context.Context, path string, progress func(stage string, current, total int, message string)) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read legacy database")
	}
	var legacy legacyDB
	if err := sonic.Unmarshal(data, &legacy); err != nil {
		return nil, errors.Wrap(err, "decode legacy database")
	}
	res := &Result{Batch: xid.New().String()}
	log.FromContext(ctx).Info("Importing legacy database", "batch", res.Batch, "path", path)
	c := &coercer{}

	i := 0
	for id, raw := range legacy.Users {
		i++
		if err := ctx.Err(); err != nil {
			return res, err
		}
		u := c.user(id, raw)
		if u == nil {
			continue
		}
		if err := database.UpsertUser(ctx, u); err != nil {
			return res, errors.Wrapf(err, "import user %s", id)
		}
		res.Users++
		progress(StageUsers, i, len(legacy.Users), "Importing users")
	}

	i = 0
	for id, raw := range legacy.Chats {
		i++
		if id == "" {
			continue
		}
		chat := &database.Chat{ID: id, IsBanned: c.bool(raw["isBanned"])}
		if err := database.UpsertChat(ctx, chat); err != nil {
			return res, errors.Wrapf(err, "import chat %s", id)
		}
		res.Chats++
		progress(StageChats, i, len(legacy.Chats), "Importing chats")
	}

	stats := make([]*database.PluginStat, 0, len(legacy.Stats))
	for id, raw := range legacy.Stats {
		if id == "" {
			continue
		}
		st := &database.PluginStat{
			PluginID:    id,
			Total:       c.int(raw["total"], 0),
			Success:     c.int(raw["success"], 0),
			Last:        c.int(raw["last"], 0),
			LastSuccess: c.int(raw["lastSuccess"], 0),
		}
		if st.Success > st.Total {
			st.Success = st.Total
			c.repaired++
		}
		stats = append(stats, st)
	}
	if len(stats) > 0 {
		if err := database.UpsertPluginStats(ctx, stats); err != nil {
			return res, errors.Wrap(err, "import plugin stats")
		}
	}
	res.Stats = len(stats)
	progress(StageStats, len(stats), len(stats), "Imported plugin stats")
	res.Repaired = c.repaired
	return res, nil
}

type coercer struct {
	repaired int
}

func (c *coercer) user(id string, raw map[string]any) *database.User {
	if id == "" || raw == nil {
		return nil
	}
	u := database.NewUser(id)
	u.Name = c.string(raw["name"])
	u.Exp = c.int(raw["exp"], 0)
	u.Limit = c.int(raw["limit"], database.DefaultLimit)
	u.Level = int(c.int(raw["level"], 0))
	u.Registered = c.bool(raw["registered"])
	u.RegName = u.Name
	u.Age = int(c.int(raw["age"], 0))
	u.RegTime = c.int(raw["regTime"], 0)
	u.Banned = c.bool(raw["banned"])
	u.Premium = c.bool(raw["premium"])
	u.PremiumUntil = c.int(raw["premiumTime"], 0)
	u.Role = c.string(raw["role"])
	if u.Exp < 0 {
		u.Exp = 0
		c.repaired++
	}
	if u.Limit < database.UnlimitedLimit {
		u.Limit = 0
		c.repaired++
	}
	if u.Level < 0 {
		u.Level = 0
		c.repaired++
	}
	return u
}

// int accepts numbers, numeric strings and booleans; anything else is
// replaced by def and counted as repaired. Missing fields are not repairs.
func (c *coercer) int(v any, def int64) int64 {
	switch n := v.(type) {
	case nil:
		return def
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			c.repaired++
			return def
		}
		return int64(n)
	case int64:
		return n
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			c.repaired++
			return def
		}
		return int64(f)
	}
	c.repaired++
	return def
}

func (c *coercer) bool(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			c.repaired++
		}
		return parsed
	}
	c.repaired++
	return false
}

func (c *coercer) string(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	c.repaired++
	return ""
}
