package core

import (
	"context"
	"fmt"
	"log/slog"
)

// VerifyOutcome is the result class of an admin credential verification.
type VerifyOutcome string

const (
	OutcomeVerified          VerifyOutcome = "verified"
	OutcomeProfileNotFound   VerifyOutcome = "profile_not_found"
	OutcomeNotAuthorized     VerifyOutcome = "not_authorized"
	OutcomeAccountInactive   VerifyOutcome = "account_inactive"
	OutcomeNotConfigured     VerifyOutcome = "not_configured"
	OutcomeInvalidPassword   VerifyOutcome = "invalid_password"
	OutcomePersistenceFailed VerifyOutcome = "persistence_failed"
)

var outcomeErrors = map[VerifyOutcome]error{
	OutcomeProfileNotFound:   ErrProfileNotFound,
	OutcomeNotAuthorized:     ErrNotAuthorized,
	OutcomeAccountInactive:   ErrAccountInactive,
	OutcomeNotConfigured:     ErrNotConfigured,
	OutcomeInvalidPassword:   ErrInvalidPassword,
	OutcomePersistenceFailed: ErrPersistenceFailed,
}

// VerificationResult reports the outcome of VerifyAdminCredential.
type VerificationResult struct {
	Success  bool          `json:"success"`
	Outcome  VerifyOutcome `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
	Identity *Identity     `json:"-"`
}

// VerifyAdminCredential checks a submitted admin password for the identity.
// The checks run in a fixed order and the first failing check decides the
// outcome. The credential itself is never modified.
func (a *AdminService) VerifyAdminCredential(ctx context.Context, identityID, password string) VerificationResult {
	identity, err := a.storage.GetIdentityByID(ctx, identityID)
	if err != nil {
		slog.Error("Failed to load identity for admin verification", "identity_id", identityID, "error", err)
		return a.verifyFailure(ctx, identityID, OutcomePersistenceFailed, err)
	}

	outcome := checkAdminCredential(identity, password)
	if outcome != OutcomeVerified {
		return a.verifyFailure(ctx, identityID, outcome, nil)
	}

	now := a.now()
	if err := a.storage.UpdateAdminLastAuth(ctx, identity.ID, now); err != nil {
		slog.Error("Failed to update admin last auth", "identity_id", identity.ID, "error", err)
	} else {
		identity.AdminLastAuth = &now
	}

	a.logActivity(ctx, identity.ID, ActivityAdminAccess, "Admin dashboard access granted", "profile", identity.ID)

	return VerificationResult{
		Success:  true,
		Outcome:  OutcomeVerified,
		Identity: identity,
	}
}

// checkAdminCredential applies the ordered verification checks to a loaded
// identity. A nil identity means the id did not resolve.
func checkAdminCredential(identity *Identity, password string) VerifyOutcome {
	switch {
	case identity == nil:
		return OutcomeProfileNotFound
	case identity.Role != RoleAdmin:
		return OutcomeNotAuthorized
	case !identity.IsActive:
		return OutcomeAccountInactive
	case !identity.HasAdminCredential():
		return OutcomeNotConfigured
	case !matchAdminSecret(identity.AdminSecretHash, password, identity.AdminSecretSalt):
		return OutcomeInvalidPassword
	default:
		return OutcomeVerified
	}
}

func (a *AdminService) verifyFailure(ctx context.Context, identityID string, outcome VerifyOutcome, cause error) VerificationResult {
	err := outcomeErrors[outcome]
	if cause != nil {
		err = fmt.Errorf("%w: %v", err, cause)
	}

	slog.Debug("Admin verification failed", "identity_id", identityID, "outcome", outcome)
	if outcome == OutcomeInvalidPassword {
		a.logActivity(ctx, identityID, ActivityAdminLoginFailed, "Incorrect admin password submitted", "profile", identityID)
	}

	return VerificationResult{
		Outcome: outcome,
		Error:   a.UserMessage(err),
		Err:     err,
	}
}
