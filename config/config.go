package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type OwnerConfig struct {
	Number string `toml:"number" mapstructure:"number"`
	Name   string `toml:"name" mapstructure:"name"`
	// Developer owners receive a copy of every plugin execution error.
	Developer bool `toml:"developer" mapstructure:"developer"`
}

type BotConfig struct {
	// Regular expression matched at the start of a message, e.g. ^[./!#]
	Prefix      string            `toml:"prefix" mapstructure:"prefix"`
	Owners      []OwnerConfig     `toml:"owners" mapstructure:"owners"`
	Mods        []string          `toml:"mods" mapstructure:"mods"`
	Restrict    bool              `toml:"restrict" mapstructure:"restrict"`
	Self        bool              `toml:"self" mapstructure:"self"`
	Queue       bool              `toml:"queue" mapstructure:"queue"`
	AutoRead    bool              `toml:"autoread" mapstructure:"autoread"`
	PrivateOnly bool              `toml:"private_only" mapstructure:"private_only"`
	GroupOnly   bool              `toml:"group_only" mapstructure:"group_only"`
	Observe     bool              `toml:"observe" mapstructure:"observe"`
	Secrets     []string          `toml:"secrets" mapstructure:"secrets"`
	Messages    map[string]string `toml:"messages" mapstructure:"messages"`
	Workers     int               `toml:"workers" mapstructure:"workers"`
}

type PluginConfig struct {
	Dir         string `toml:"dir" mapstructure:"dir"`
	Watch       bool   `toml:"watch" mapstructure:"watch"`
	Debounce    string `toml:"debounce" mapstructure:"debounce"`
	ExecTimeout string `toml:"exec_timeout" mapstructure:"exec_timeout"`
}

type DatabaseConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

type WhatsAppConfig struct {
	SessionPath string `toml:"session_path" mapstructure:"session_path"`
	// Pair with a phone number code instead of a QR code when set.
	PairPhone string `toml:"pair_phone" mapstructure:"pair_phone"`
	LogLevel  string `toml:"log_level" mapstructure:"log_level"`
}

type ApiConfig struct {
	Enable bool   `toml:"enable" mapstructure:"enable"`
	Addr   string `toml:"addr" mapstructure:"addr"`
	Key    string `toml:"key" mapstructure:"key"`
}

type StatsConfig struct {
	FlushInterval string `toml:"flush_interval" mapstructure:"flush_interval"`
	Leaderboard   int    `toml:"leaderboard" mapstructure:"leaderboard"`
}

type AppConfig struct {
	Bot      BotConfig      `toml:"bot" mapstructure:"bot"`
	Plugin   PluginConfig   `toml:"plugin" mapstructure:"plugin"`
	Database DatabaseConfig `toml:"database" mapstructure:"database"`
	WhatsApp WhatsAppConfig `toml:"whatsapp" mapstructure:"whatsapp"`
	Api      ApiConfig      `toml:"api" mapstructure:"api"`
	Stats    StatsConfig    `toml:"stats" mapstructure:"stats"`
}

var C AppConfig

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.prefix", `^[./!#]`)
	v.SetDefault("bot.restrict", false)
	v.SetDefault("bot.workers", 32)
	v.SetDefault("plugin.dir", "plugins")
	v.SetDefault("plugin.watch", true)
	v.SetDefault("plugin.debounce", "300ms")
	v.SetDefault("plugin.exec_timeout", "60s")
	v.SetDefault("database.path", "data/data.db")
	v.SetDefault("whatsapp.session_path", "data/session.db")
	v.SetDefault("whatsapp.log_level", "INFO")
	v.SetDefault("api.addr", "127.0.0.1:39080")
	v.SetDefault("stats.flush_interval", "1m")
	v.SetDefault("stats.leaderboard", 100)
}

// Init reads config.toml from path (or the working directory when empty)
// and populates C. Environment variables prefixed WABOT_ override file values.
func Init(path ...string) error {
	v := viper.New()
	setDefaults(v)
	if len(path) > 0 && path[0] != "" {
		v.SetConfigFile(path[0])
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("wabot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return v.Unmarshal(&C)
}

// Duration parses a config duration string, falling back to def when empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *BotConfig) OwnerNumbers() []string {
	numbers := make([]string, 0, len(c.Owners))
	for _, o := range c.Owners {
		if o.Number != "" {
			numbers = append(numbers, o.Number)
		}
	}
	return numbers
}

func (c *BotConfig) DeveloperNumbers() []string {
	numbers := make([]string, 0)
	for _, o := range c.Owners {
		if o.Developer && o.Number != "" {
			numbers = append(numbers, o.Number)
		}
	}
	return numbers
}
