// Package cli implements the portal command line.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portal",
		Short: "Volunteer portal back-office authentication",
		Long: `Portal serves the admin step-up authentication of the volunteer portal and
provides operator commands to bootstrap agents, set admin passwords and inspect
the activity log.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./portal.yaml)")
	cmd.PersistentFlags().String("db-driver", "sqlite", "database driver: sqlite or postgres")
	cmd.PersistentFlags().String("dsn", "portal.db", "database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	viper.BindPFlag("database.driver", cmd.PersistentFlags().Lookup("db-driver"))
	viper.BindPFlag("database.dsn", cmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAdminCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("portal")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.portal")
	}

	setDefaults(viper.GetViper())

	viper.SetEnvPrefix("PORTAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
