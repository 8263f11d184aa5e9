package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/duke-git/lancet/v2/slice"
	"github.com/fatih/color"
	"github.com/go-faster/errors"
	"github.com/krau/wabot/config"
	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/plugin/builtin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect and scaffold plugin descriptors",
}

var pluginsCheckCmd = &cobra.Command{
	Use:   "check [dir]",
	Short: "Validate every plugin descriptor without starting the bot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := pluginDir(args)
		if err != nil {
			return err
		}
		report, err := checkPlugins(dir)
		if err != nil {
			return err
		}
		printReport(report)
		if report.failed() > 0 {
			return errors.Errorf("%d plugin(s) failed validation", report.failed())
		}
		return nil
	},
}

var pluginsNewCmd = &cobra.Command{
	Use:   "new [dir]",
	Short: "Create a plugin descriptor interactively",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := pluginDir(args)
		if err != nil {
			return err
		}
		spec, err := askDescriptor()
		if err != nil {
			return err
		}
		path, err := writeDescriptor(dir, spec)
		if err != nil {
			return err
		}
		color.Green("Created %s", path)
		return nil
	},
}

func init() {
	pluginsCmd.AddCommand(pluginsCheckCmd, pluginsNewCmd)
	rootCmd.AddCommand(pluginsCmd)
}

func pluginDir(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if err := config.Init(configPath); err != nil {
		return "", errors.Wrap(err, "load config")
	}
	return config.C.Plugin.Dir, nil
}

type checkResult struct {
	id       string
	commands []string
	err      error
}

type checkReport struct {
	results []checkResult
	// Literal commands claimed by more than one plugin, with the claimants in load order.
	shadowed map[string][]string
}

func (r *checkReport) failed() int {
	return slice.CountBy(r.results, func(_ int, res checkResult) bool { return res.err != nil })
}

// checkPlugins loads every descriptor under dir against the builtin handler set.
func checkPlugins(dir string) (*checkReport, error) {
	handlers := builtin.New(builtin.Deps{})
	loader := plugin.NewLoader(dir, plugin.NewRegistry(), handlers, plugin.LoaderOptions{})
	report := &checkReport{shadowed: make(map[string][]string)}
	claims := make(map[string][]string)
	err := plugin.WalkDescriptors(loader.Root(), func(path string) error {
		id, err := loader.ModuleID(path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			report.results = append(report.results, checkResult{id: id, err: err})
			return nil
		}
		p, err := plugin.New(id, path, data, handlers, 0)
		if err != nil {
			report.results = append(report.results, checkResult{id: id, err: err})
			return nil
		}
		res := checkResult{id: id}
		if p.Usable() {
			res.commands = p.Cmd
			if p.CmdRegex != "" {
				res.commands = []string{"/" + p.CmdRegex + "/"}
			}
		}
		report.results = append(report.results, res)
		if !p.Disabled {
			for _, c := range p.Cmd {
				claims[c] = append(claims[c], id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan plugin directory")
	}
	sort.Slice(report.results, func(i, j int) bool { return report.results[i].id < report.results[j].id })
	for c, ids := range claims {
		if len(ids) > 1 {
			sort.Strings(ids)
			report.shadowed[c] = ids
		}
	}
	return report, nil
}

func printReport(r *checkReport) {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	for _, res := range r.results {
		if res.err != nil {
			fmt.Printf("%s %s: %v\n", fail("FAIL"), res.id, res.err)
			continue
		}
		fmt.Printf("%s   %s %s\n", ok("OK"), res.id, strings.Join(res.commands, ", "))
	}
	for c, ids := range r.shadowed {
		fmt.Printf("%s command %q is claimed by %s, only %s will match\n", warn("WARN"), c, strings.Join(ids, ", "), ids[0])
	}
	fmt.Printf("\n%d plugin(s), %d failed\n", len(r.results), r.failed())
}

type descriptorSpec struct {
	Name        string
	Description string
	Commands    string
	Tags        string
	Builtin     string
	Command     string
	Owner       bool
	Group       bool
}

const processOption = "(external command)"

func askDescriptor() (*descriptorSpec, error) {
	spec := &descriptorSpec{}
	names := builtin.New(builtin.Deps{}).Names()
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Name").Value(&spec.Name).Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("name is required")
				}
				return nil
			}),
			huh.NewInput().Title("Description").Value(&spec.Description),
			huh.NewInput().Title("Commands").Description("comma separated").Value(&spec.Commands).Validate(func(s string) error {
				if len(splitList(s)) == 0 {
					return errors.New("at least one command is required")
				}
				return nil
			}),
			huh.NewInput().Title("Tags").Description("comma separated").Value(&spec.Tags),
		),
		huh.NewGroup(
			huh.NewSelect[string]().Title("Handler").Options(huh.NewOptions(append(names, processOption)...)...).Value(&spec.Builtin),
			huh.NewConfirm().Title("Owner only?").Value(&spec.Owner),
			huh.NewConfirm().Title("Group only?").Value(&spec.Group),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}
	if spec.Builtin == processOption {
		spec.Builtin = ""
		err := huh.NewInput().Title("Command line").Description("run from the descriptor's directory").Value(&spec.Command).Run()
		if err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// writeDescriptor writes spec as <dir>/<name>.toml and validates the result.
func writeDescriptor(dir string, spec *descriptorSpec) (string, error) {
	v := viper.New()
	v.Set("name", spec.Name)
	if spec.Description != "" {
		v.Set("description", spec.Description)
	}
	v.Set("cmd", splitList(spec.Commands))
	if tags := splitList(spec.Tags); len(tags) > 0 {
		v.Set("tags", tags)
	}
	if spec.Owner {
		v.Set("owner", true)
	}
	if spec.Group {
		v.Set("group", true)
	}
	if spec.Builtin != "" {
		v.Set("exec.builtin", spec.Builtin)
	} else {
		v.Set("exec.command", strings.Fields(spec.Command))
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", errors.Wrap(err, "create plugin directory")
	}
	path := filepath.Join(dir, strings.ToLower(strings.ReplaceAll(spec.Name, " ", "_"))+".toml")
	if _, err := os.Stat(path); err == nil {
		return "", errors.Errorf("%s already exists", path)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return "", errors.Wrap(err, "write descriptor")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if _, err := plugin.New(filepath.Base(path), path, data, builtin.New(builtin.Deps{}), 0); err != nil {
		return path, errors.Wrap(err, "generated descriptor is invalid")
	}
	return path, nil
}
