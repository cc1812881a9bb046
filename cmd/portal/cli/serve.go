package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wispberry-tech/wispy-admin/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the portal authentication server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe() error {
	logger := setupLogger()

	admin, err := newAdminService()
	if err != nil {
		return err
	}
	defer admin.Close()

	security := admin.SecurityConfig()
	logger.Info("admin service initialized",
		"database", viper.GetString("database.driver"),
		"admin_session_lifetime", security.AdminSessionLifetime,
		"hash_scheme", security.AdminHashScheme,
		"primary_fallback", security.AllowPrimaryFallback,
		"jwt_sessions", viper.GetString("jwt.secret") != "")

	cfg := server.DefaultConfig()
	cfg.Addr = viper.GetString("server.addr")
	cfg.ShutdownTimeout = viper.GetDuration("server.shutdown_timeout")

	return server.New(cfg, admin, logger).ListenAndServe()
}
