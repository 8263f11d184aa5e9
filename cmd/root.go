package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/krau/wabot/cmd/migrate"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wabot",
	Short: "WhatsApp bot with hot-reloadable command plugins",
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml")
	migrate.RegisterCmd(rootCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
