package plugin

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const DefaultExp = 17

var DescriptorExts = []string{".toml", ".yaml", ".yml", ".json"}

func IsDescriptorFile(path string) bool {
	return slice.Contain(DescriptorExts, strings.ToLower(filepath.Ext(path)))
}

type HookSpec struct {
	// Name of a handler compiled into the binary.
	Builtin string `mapstructure:"builtin" json:"builtin,omitempty"`
	// Or an external command speaking the JSON stdin/stdout protocol.
	Command []string `mapstructure:"command" json:"command,omitempty"`
	Timeout string   `mapstructure:"timeout" json:"timeout,omitempty"`
}

func (h *HookSpec) check() error {
	switch {
	case h.Builtin == "" && len(h.Command) == 0:
		return errors.New("one of builtin or command is required")
	case h.Builtin != "" && len(h.Command) > 0:
		return errors.New("builtin and command are exclusive")
	}
	if h.Timeout != "" {
		if d, err := time.ParseDuration(h.Timeout); err != nil || d <= 0 {
			return errors.Errorf("invalid timeout %q", h.Timeout)
		}
	}
	return nil
}

type Gates struct {
	RealOwner bool `mapstructure:"rowner" json:"rowner,omitempty"`
	Owner     bool `mapstructure:"owner" json:"owner,omitempty"`
	Mods      bool `mapstructure:"mods" json:"mods,omitempty"`
	Premium   bool `mapstructure:"premium" json:"premium,omitempty"`
	Banned    bool `mapstructure:"banned" json:"banned,omitempty"`
	Group     bool `mapstructure:"group" json:"group,omitempty"`
	Private   bool `mapstructure:"private" json:"private,omitempty"`
	Admin     bool `mapstructure:"admin" json:"admin,omitempty"`
	BotAdmin  bool `mapstructure:"bot_admin" json:"bot_admin,omitempty"`
	Register  bool `mapstructure:"register" json:"register,omitempty"`
}

// Descriptor is the on-disk form of a plugin.
type Descriptor struct {
	Name        string   `mapstructure:"name" json:"name" validate:"required,max=64"`
	Description string   `mapstructure:"description" json:"description,omitempty"`
	Tags        []string `mapstructure:"tags" json:"tags,omitempty" validate:"dive,required"`
	Help        []string `mapstructure:"help" json:"help,omitempty"`

	Cmd          []string `mapstructure:"-" json:"cmd,omitempty"`
	CmdRegex     string   `mapstructure:"cmd_regex" json:"cmd_regex,omitempty"`
	CustomPrefix string   `mapstructure:"custom_prefix" json:"custom_prefix,omitempty"`
	NoPrefix     bool     `mapstructure:"no_prefix" json:"no_prefix,omitempty"`
	Disabled     bool     `mapstructure:"disabled" json:"disabled,omitempty"`

	// Limit cost of one successful run; true in a descriptor means 1.
	Limit     int64 `mapstructure:"-" json:"limit" validate:"gte=0"`
	Level     int   `mapstructure:"level" json:"level" validate:"gte=0"`
	Exp       int64 `mapstructure:"exp" json:"exp" validate:"gte=0"`
	BanExempt bool  `mapstructure:"ban_exempt" json:"ban_exempt,omitempty"`

	Gates `mapstructure:",squash"`

	ExecSpec   *HookSpec `mapstructure:"exec" json:"exec,omitempty"`
	BeforeSpec *HookSpec `mapstructure:"before" json:"before,omitempty"`
	AfterSpec  *HookSpec `mapstructure:"after" json:"after,omitempty"`
	AllSpec    *HookSpec `mapstructure:"all" json:"all,omitempty"`
}

var validate = validator.New()

// ParseDescriptor decodes and validates a descriptor. The format is taken from
// the file extension and the name defaults to the file stem.
func ParseDescriptor(path string, data []byte) (*Descriptor, error) {
	if !IsDescriptorFile(path) {
		return nil, errors.Errorf("unsupported descriptor type %q", filepath.Ext(path))
	}
	v := viper.New()
	v.SetConfigType(strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	v.SetDefault("exp", DefaultExp)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, errors.Wrap(err, "parse descriptor")
	}
	var d Descriptor
	if err := v.Unmarshal(&d); err != nil {
		return nil, errors.Wrap(err, "decode descriptor")
	}
	d.Cmd = normalizeCommands(v.GetStringSlice("cmd"))
	d.Limit = v.GetInt64("limit")
	if d.Name == "" {
		base := filepath.Base(path)
		d.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := validate.Struct(&d); err != nil {
		return nil, errors.Wrap(err, "validate descriptor")
	}
	if err := d.check(); err != nil {
		return nil, err
	}
	return &d, nil
}

func normalizeCommands(cmds []string) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return slice.Unique(out)
}

func (d *Descriptor) check() error {
	if d.ExecSpec == nil && d.AllSpec == nil {
		return errors.New("exec is required")
	}
	if d.ExecSpec != nil {
		if len(d.Cmd) == 0 && d.CmdRegex == "" {
			return errors.New("cmd or cmd_regex is required")
		}
		if len(d.Cmd) > 0 && d.CmdRegex != "" {
			return errors.New("cmd and cmd_regex are exclusive")
		}
	}
	if d.CmdRegex != "" {
		if _, err := regexp.Compile(d.CmdRegex); err != nil {
			return errors.Wrap(err, "cmd_regex")
		}
	}
	if d.CustomPrefix != "" {
		if _, err := regexp.Compile(d.CustomPrefix); err != nil {
			return errors.Wrap(err, "custom_prefix")
		}
	}
	if d.Group && d.Private {
		return errors.New("group and private are exclusive")
	}
	for name, h := range d.hooks() {
		if h == nil {
			continue
		}
		if err := h.check(); err != nil {
			return errors.Wrap(err, string(name))
		}
	}
	return nil
}

func (d *Descriptor) hooks() map[Phase]*HookSpec {
	return map[Phase]*HookSpec{
		PhaseExec:   d.ExecSpec,
		PhaseBefore: d.BeforeSpec,
		PhaseAfter:  d.AfterSpec,
		PhaseAll:    d.AllSpec,
	}
}
