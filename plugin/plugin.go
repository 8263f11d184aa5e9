package plugin

import (
	"path/filepath"
	"regexp"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/go-faster/errors"
	"github.com/krau/wabot/utils"
)

// Plugin is a loaded, validated plugin ready for dispatch.
type Plugin struct {
	*Descriptor
	// Module id: slash separated path relative to the plugin root.
	ID   string
	Path string
	Hash string

	Exec   Handler
	Before Handler
	After  Handler
	All    Handler

	pattern *regexp.Regexp
	prefix  *regexp.Regexp
}

type Meta struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// New parses data as the descriptor at path and binds its hooks.
func New(id, path string, data []byte, handlers HandlerSet, execTimeout time.Duration) (*Plugin, error) {
	d, err := ParseDescriptor(path, data)
	if err != nil {
		return nil, err
	}
	p := &Plugin{
		Descriptor: d,
		ID:         id,
		Path:       path,
		Hash:       utils.ContentHash(data),
	}
	if d.CmdRegex != "" {
		p.pattern = regexp.MustCompile(d.CmdRegex)
	}
	if d.CustomPrefix != "" {
		p.prefix = regexp.MustCompile(d.CustomPrefix)
	}
	bind := func(phase Phase, spec *HookSpec) (Handler, error) {
		if spec == nil {
			return nil, nil
		}
		if spec.Builtin != "" {
			h, ok := handlers[spec.Builtin]
			if !ok {
				return nil, errors.Errorf("%s: unknown builtin %q", phase, spec.Builtin)
			}
			return h, nil
		}
		timeout := execTimeout
		if spec.Timeout != "" {
			timeout, _ = time.ParseDuration(spec.Timeout)
		}
		return &ProcessHandler{
			PluginID: id,
			Phase:    phase,
			Command:  spec.Command,
			Dir:      filepath.Dir(path),
			Timeout:  timeout,
		}, nil
	}
	if p.Exec, err = bind(PhaseExec, d.ExecSpec); err != nil {
		return nil, err
	}
	if p.Before, err = bind(PhaseBefore, d.BeforeSpec); err != nil {
		return nil, err
	}
	if p.After, err = bind(PhaseAfter, d.AfterSpec); err != nil {
		return nil, err
	}
	if p.All, err = bind(PhaseAll, d.AllSpec); err != nil {
		return nil, err
	}
	return p, nil
}

// Usable reports whether the plugin can be matched as a command.
func (p *Plugin) Usable() bool {
	return !p.Disabled && p.Exec != nil && (len(p.Cmd) > 0 || p.pattern != nil)
}

func (p *Plugin) Pattern() *regexp.Regexp {
	return p.pattern
}

// CustomPrefixPattern is the plugin's own prefix override, or nil.
func (p *Plugin) CustomPrefixPattern() *regexp.Regexp {
	return p.prefix
}

// MatchCommand tests a lowercase command token against the plugin's matcher.
func (p *Plugin) MatchCommand(command string) ([]string, bool) {
	if command == "" {
		return nil, false
	}
	if p.pattern != nil {
		m := p.pattern.FindStringSubmatch(command)
		return m, m != nil
	}
	if slice.Contain(p.Cmd, command) {
		return []string{command}, true
	}
	return nil, false
}

func (p *Plugin) HasTag(tag string) bool {
	return slice.Contain(p.Tags, tag)
}

func (p *Plugin) Meta() Meta {
	return Meta{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Tags:        p.Tags,
	}
}
