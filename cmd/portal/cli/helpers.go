package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/wispberry-tech/wispy-admin/core"
	"github.com/wispberry-tech/wispy-admin/core/jwtsession"
	"github.com/wispberry-tech/wispy-admin/core/storage"
)

// setDefaults registers every configuration key with its default so that
// environment variables are picked up by AutomaticEnv.
func setDefaults(v *viper.Viper) {
	defaults := core.DefaultSecurityConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "portal.db")
	v.SetDefault("log.level", "info")

	v.SetDefault("security.password_min_length", defaults.PasswordMinLength)
	v.SetDefault("security.session_lifetime", defaults.SessionLifetime)
	v.SetDefault("security.admin_password_min_length", defaults.AdminPasswordMinLength)
	v.SetDefault("security.admin_session_lifetime", defaults.AdminSessionLifetime)
	v.SetDefault("security.admin_hash_scheme", string(defaults.AdminHashScheme))
	v.SetDefault("security.secure_cookies", defaults.SecureCookies)
	v.SetDefault("security.allow_primary_fallback", defaults.AllowPrimaryFallback)
	v.SetDefault("security.track_admin_sessions", defaults.TrackAdminSessions)
	v.SetDefault("security.mask_profile_not_found", defaults.MaskProfileNotFound)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.cookie", "")
}

// securityConfigFrom builds the core security configuration from v.
func securityConfigFrom(v *viper.Viper) core.SecurityConfig {
	return core.SecurityConfig{
		PasswordMinLength:      v.GetInt("security.password_min_length"),
		SessionLifetime:        v.GetDuration("security.session_lifetime"),
		AdminPasswordMinLength: v.GetInt("security.admin_password_min_length"),
		AdminSessionLifetime:   v.GetDuration("security.admin_session_lifetime"),
		AdminHashScheme:        core.HashScheme(v.GetString("security.admin_hash_scheme")),
		SecureCookies:          v.GetBool("security.secure_cookies"),
		AllowPrimaryFallback:   v.GetBool("security.allow_primary_fallback"),
		TrackAdminSessions:     v.GetBool("security.track_admin_sessions"),
		MaskProfileNotFound:    v.GetBool("security.mask_profile_not_found"),
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger installs the process-wide slog logger.
func setupLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(viper.GetString("log.level")),
	}))
	slog.SetDefault(logger)
	return logger
}

// openStorage opens the configured database.
func openStorage() (core.Storage, error) {
	driver := viper.GetString("database.driver")
	dsn := viper.GetString("database.dsn")

	switch driver {
	case "sqlite", "sqlite3":
		return storage.NewSQLiteStorage(dsn)
	case "postgres", "postgresql":
		return storage.NewPostgresStorage(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// newAdminService opens storage and builds the service from configuration.
func newAdminService() (*core.AdminService, error) {
	store, err := openStorage()
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	cfg := core.Config{
		Storage:        store,
		SecurityConfig: securityConfigFrom(viper.GetViper()),
	}

	if secret := viper.GetString("jwt.secret"); secret != "" {
		provider, err := jwtsession.New(jwtsession.Config{
			Secret: []byte(secret),
			Issuer: viper.GetString("jwt.issuer"),
			Cookie: viper.GetString("jwt.cookie"),
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("configure jwt sessions: %w", err)
		}
		cfg.Primary = provider
	}

	service, err := core.NewAdminService(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return service, nil
}

// promptPassword reads a password without echo.
func promptPassword(label string) (string, error) {
	fmt.Print(label)
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pwBytes), nil
}
