// Package core implements the admin step-up authentication used by the
// volunteer portal back-office.
//
// This package includes:
//   - Salted-hash admin credentials layered on top of ordinary member accounts
//   - A short-lived admin session carried in two cooperating cookies
//   - An access gate combining the admin session with the primary member session
//   - Audit logging of every credential and session event
//
// ## Quick Start:
//
//	storage, err := storage.NewSQLiteStorage("portal.db")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	adminService, err := core.NewAdminService(core.Config{
//		Storage:        storage,
//		SecurityConfig: core.DefaultSecurityConfig(),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	r.Post("/admin/auth/login", func(w http.ResponseWriter, r *http.Request) {
//		result := adminService.AdminLoginHandler(w, r)
//		w.WriteHeader(result.StatusCode)
//		json.NewEncoder(w).Encode(result)
//	})
//
//	r.With(adminService.RequireAdmin).Get("/admin/activities", listActivities)
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Errors returned by the admin authentication operations. Each maps to a
// distinct outcome the caller can render with UserMessage.
var (
	// ErrProfileNotFound is returned when the identity id does not resolve during verification
	ErrProfileNotFound = errors.New("profile not found")
	// ErrIdentityNotFound is returned when the setup flow target does not exist
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrNotAuthorized is returned when the identity does not hold the admin role
	ErrNotAuthorized = errors.New("no admin permissions")
	// ErrNotAnAdminRole is returned when the setup flow target is not an admin
	ErrNotAnAdminRole = errors.New("identity is not an admin")
	// ErrAccountInactive is returned for deactivated identities
	ErrAccountInactive = errors.New("account inactive")
	// ErrNotConfigured is returned when no usable admin credential is stored
	ErrNotConfigured = errors.New("admin password not set up")
	// ErrInvalidPassword is returned when the submitted admin password does not match
	ErrInvalidPassword = errors.New("incorrect password")
	// ErrValidationFailed is returned when setup input fails validation
	ErrValidationFailed = errors.New("validation failed")
	// ErrPersistenceFailed wraps any storage read or write error
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrSessionAbsent is returned when no usable admin session is presented
	ErrSessionAbsent = errors.New("admin session absent")
	// ErrSessionExpired is returned when the presented admin session has expired
	ErrSessionExpired = errors.New("admin session expired")
	// ErrInvalidCredentials is returned for failed member sign-in
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// SecurityConfig defines security-related configuration options
type SecurityConfig struct {
	// Member (primary) login
	PasswordMinLength int           // Minimum member password length
	SessionLifetime   time.Duration // How long member sessions remain valid

	// Admin step-up
	AdminPasswordMinLength int           // Minimum admin password length (at least 6)
	AdminSessionLifetime   time.Duration // Fixed, non-sliding admin session window
	AdminHashScheme        HashScheme    // Scheme used when writing new admin credentials

	SecureCookies        bool // Set the Secure attribute on session cookies
	AllowPrimaryFallback bool // Honor an admin's primary session when no admin session is present
	TrackAdminSessions   bool // Register admin sessions server-side so they can be revoked
	MaskProfileNotFound  bool // Render unknown identities like an incorrect password
}

// DefaultSecurityConfig returns the default configuration
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		PasswordMinLength:      8,
		SessionLifetime:        24 * time.Hour,
		AdminPasswordMinLength: 6,
		AdminSessionLifetime:   2 * time.Hour,
		AdminHashScheme:        SchemeLegacySHA256,
		SecureCookies:          true,
		AllowPrimaryFallback:   true,
		TrackAdminSessions:     true,
		MaskProfileNotFound:    false,
	}
}

// Config contains the configuration for the AdminService
type Config struct {
	Storage        Storage                // Storage implementation (required)
	SecurityConfig SecurityConfig         // Security configuration
	Primary        PrimarySessionProvider // Primary session provider (defaults to member sessions)
	Clock          func() time.Time       // Time source (defaults to time.Now)
}

// AdminService is the main service for admin credential, session and access operations.
type AdminService struct {
	storage        Storage
	securityConfig SecurityConfig
	primary        PrimarySessionProvider
	validator      *validator.Validate
	now            func() time.Time
}

// NewAdminService creates a new admin authentication service
func NewAdminService(cfg Config) (*AdminService, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	if err := cfg.Storage.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}

	securityConfig := cfg.SecurityConfig
	if securityConfig == (SecurityConfig{}) {
		securityConfig = DefaultSecurityConfig()
	}
	if securityConfig.AdminSessionLifetime == 0 {
		securityConfig.AdminSessionLifetime = DefaultSecurityConfig().AdminSessionLifetime
	}
	if securityConfig.PasswordMinLength == 0 {
		securityConfig.PasswordMinLength = DefaultSecurityConfig().PasswordMinLength
	}
	if securityConfig.AdminPasswordMinLength < 6 {
		securityConfig.AdminPasswordMinLength = 6
	}
	if securityConfig.SessionLifetime == 0 {
		securityConfig.SessionLifetime = DefaultSecurityConfig().SessionLifetime
	}
	if securityConfig.AdminHashScheme == "" {
		securityConfig.AdminHashScheme = SchemeLegacySHA256
	}
	if !securityConfig.AdminHashScheme.Valid() {
		return nil, fmt.Errorf("unsupported admin hash scheme: %s", securityConfig.AdminHashScheme)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	service := &AdminService{
		storage:        cfg.Storage,
		securityConfig: securityConfig,
		validator:      validator.New(),
		now:            clock,
	}

	service.primary = cfg.Primary
	if service.primary == nil {
		service.primary = service.MemberSessions()
	}

	return service, nil
}

// SecurityConfig returns the effective security configuration.
func (a *AdminService) SecurityConfig() SecurityConfig {
	return a.securityConfig
}

// logActivity appends an audit log entry. Failures are logged and never
// propagated to the caller.
func (a *AdminService) logActivity(ctx context.Context, userID string, activityType, description, resourceType, resourceID string) {
	meta := requestMetaFromContext(ctx)
	activity := &SystemActivity{
		ID:           uuid.NewString(),
		ActivityType: activityType,
		Description:  description,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		CreatedAt:    a.now(),
	}
	if userID != "" {
		activity.UserID = &userID
	}

	if err := a.storage.CreateSystemActivity(ctx, activity); err != nil {
		slog.Error("Failed to log system activity",
			"activity_type", activityType,
			"user_id", userID,
			"error", err)
	}
}

// Ping checks that storage is reachable
func (a *AdminService) Ping(ctx context.Context) error {
	return a.storage.Ping(ctx)
}

// Close closes the admin service and cleans up resources
func (a *AdminService) Close() error {
	return a.storage.Close()
}
