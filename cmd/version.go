package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/blang/semver"
	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/go-faster/errors"
	"github.com/krau/wabot/plugin"
	"github.com/rhysd/go-github-selfupdate/selfupdate"
	"github.com/spf13/cobra"
)

const releaseRepo = "krau/wabot"

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var VersionCmd = &cobra.Command{
	Use:     "version",
	Aliases: []string{"v"},
	Short:   "Print the version number of wabot",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(versionString())
	},
}

var checkOnly bool

var upgradeCmd = &cobra.Command{
	Use:     "upgrade",
	Aliases: []string{"up"},
	Short:   "Upgrade wabot to the latest release",
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := currentVersion()
		if err != nil {
			return err
		}
		if checkOnly {
			latest, found, err := selfupdate.DetectLatest(releaseRepo)
			if err != nil {
				return errors.Wrap(err, "detect latest release")
			}
			if !found || latest.Version.LTE(current) {
				log.Info("Current binary is the latest version", "version", current)
				return nil
			}
			log.Info("New release available", "current", current, "latest", latest.Version, "url", latest.URL)
			return nil
		}
		latest, err := selfupdate.UpdateSelf(current, releaseRepo)
		if err != nil {
			return errors.Wrap(err, "update binary")
		}
		if latest.Version.Equals(current) {
			log.Info("Current binary is the latest version", "version", current)
			return nil
		}
		log.Info("Successfully updated", "version", latest.Version)
		fmt.Println("Release note:\n", latest.ReleaseNotes)
		return nil
	},
}

func versionString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s/%s\n", color.CyanString("wabot"), Version, runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "BuildTime: %s, Commit: %s\n", BuildTime, GitCommit)
	fmt.Fprintf(&sb, "Descriptor formats: %s\n", strings.Join(plugin.DescriptorExts, ", "))
	return sb.String()
}

// currentVersion parses Version; development builds cannot be upgraded.
func currentVersion() (semver.Version, error) {
	v, err := semver.ParseTolerant(Version)
	if err != nil {
		return semver.Version{}, errors.Errorf("cannot upgrade a %q build", Version)
	}
	return v, nil
}

func init() {
	upgradeCmd.Flags().BoolVar(&checkOnly, "check", false, "only report whether a newer release exists")
	rootCmd.AddCommand(VersionCmd)
	rootCmd.AddCommand(upgradeCmd)
}
