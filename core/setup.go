package core

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"
)

// SetupRequest is the admin password setup form.
type SetupRequest struct {
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// SetupResult reports the outcome of SetupAdminCredential.
type SetupResult struct {
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	Err         error             `json:"-"`
	Rotated     bool              `json:"rotated,omitempty"`
}

// SetupAdminCredential generates a fresh salt and hash for the identity and
// enables its admin credential, replacing any previous credential in one write.
func (a *AdminService) SetupAdminCredential(ctx context.Context, identityID, password, confirmPassword string) SetupResult {
	req := SetupRequest{Password: password, ConfirmPassword: confirmPassword}
	if err := a.validator.Struct(req); err != nil {
		slog.Debug("Admin setup validation failed", "identity_id", identityID, "error", err)
		return a.setupFailure(fmt.Errorf("%w: %s", ErrValidationFailed, formatValidationErrors(err)), fieldErrors(err))
	}
	if utf8.RuneCountInString(password) < a.securityConfig.AdminPasswordMinLength {
		msg := fmt.Sprintf("password must be at least %d characters long", a.securityConfig.AdminPasswordMinLength)
		return a.setupFailure(fmt.Errorf("%w: %s", ErrValidationFailed, msg), map[string]string{"password": msg})
	}

	identity, err := a.storage.GetIdentityByID(ctx, identityID)
	if err != nil {
		slog.Error("Failed to load identity for admin setup", "identity_id", identityID, "error", err)
		return a.setupFailure(fmt.Errorf("%w: %v", ErrPersistenceFailed, err), nil)
	}
	if identity == nil {
		return a.setupFailure(ErrIdentityNotFound, nil)
	}
	if identity.Role != RoleAdmin {
		return a.setupFailure(ErrNotAnAdminRole, nil)
	}

	salt, err := GenerateAdminSalt()
	if err != nil {
		slog.Error("Failed to generate admin salt", "error", err)
		return a.setupFailure(fmt.Errorf("%w: %v", ErrPersistenceFailed, err), nil)
	}

	hash, err := encodeAdminSecret(a.securityConfig.AdminHashScheme, password, salt)
	if err != nil {
		slog.Error("Failed to hash admin secret", "error", err)
		return a.setupFailure(fmt.Errorf("%w: %v", ErrPersistenceFailed, err), nil)
	}

	rotated := identity.AdminSecretHash != "" || identity.AdminSecretSalt != ""
	cred := AdminCredential{
		Hash:     hash,
		Salt:     salt,
		Enabled:  true,
		LastAuth: a.now(),
	}
	if err := a.storage.UpdateAdminCredential(ctx, identity.ID, cred); err != nil {
		slog.Error("Failed to store admin credential", "identity_id", identity.ID, "error", err)
		return a.setupFailure(fmt.Errorf("%w: %v", ErrPersistenceFailed, err), nil)
	}

	if rotated {
		a.logActivity(ctx, identity.ID, ActivityAdminCredentialRotated, "Admin password rotated", "profile", identity.ID)
	} else {
		a.logActivity(ctx, identity.ID, ActivityAdminCredentialSetup, "Admin password set up", "profile", identity.ID)
	}

	slog.Info("Admin credential configured", "identity_id", identity.ID, "rotated", rotated, "scheme", a.securityConfig.AdminHashScheme)
	return SetupResult{Success: true, Rotated: rotated}
}

func (a *AdminService) setupFailure(err error, fields map[string]string) SetupResult {
	return SetupResult{
		Error:       a.UserMessage(err),
		FieldErrors: fields,
		Err:         err,
	}
}

// MigrationReport summarizes a MigrateLegacyHashes run.
type MigrationReport struct {
	Upgraded int
	Skipped  int
	Failed   int
}

// MigrateLegacyHashes wraps every stored legacy SHA-256 admin digest in bcrypt.
// Passwords and salts are unchanged, so existing admins keep signing in with
// the same password. A row changed concurrently by the setup flow is skipped.
func (a *AdminService) MigrateLegacyHashes(ctx context.Context) (MigrationReport, error) {
	var report MigrationReport

	hashes, err := a.storage.ListAdminCredentialHashes(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	for identityID, stored := range hashes {
		if scheme, ok := DetectHashScheme(stored); !ok || scheme != SchemeLegacySHA256 {
			report.Skipped++
			continue
		}

		upgraded, err := UpgradeLegacyHash(stored)
		if err != nil {
			slog.Error("Failed to upgrade admin hash", "identity_id", identityID, "error", err)
			report.Failed++
			continue
		}

		replaced, err := a.storage.ReplaceAdminSecretHash(ctx, identityID, stored, upgraded)
		if err != nil {
			slog.Error("Failed to store upgraded admin hash", "identity_id", identityID, "error", err)
			report.Failed++
			continue
		}
		if !replaced {
			report.Skipped++
			continue
		}

		report.Upgraded++
		a.logActivity(ctx, identityID, ActivityAdminCredentialMigrated, "Admin password hash upgraded to bcrypt", "profile", identityID)
	}

	slog.Info("Admin hash migration finished", "upgraded", report.Upgraded, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}
