package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// MemberSessionCookie carries the primary member session token.
const MemberSessionCookie = "auth_token"

// PrimaryIdentity is the caller identity established by the ordinary member
// login, independent of admin privileges.
type PrimaryIdentity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// PrimarySessionProvider resolves the primary session of a request. A nil
// identity with a nil error means no primary session is present.
type PrimarySessionProvider interface {
	CurrentIdentity(r *http.Request) (*PrimaryIdentity, error)
}

// PrimarySessionFunc adapts a function to PrimarySessionProvider.
type PrimarySessionFunc func(r *http.Request) (*PrimaryIdentity, error)

func (f PrimarySessionFunc) CurrentIdentity(r *http.Request) (*PrimaryIdentity, error) {
	return f(r)
}

// memberSessions is the storage-backed primary session provider.
type memberSessions struct {
	service *AdminService
}

// MemberSessions returns the primary session provider backed by the sessions
// table, fed by SignInMember.
func (a *AdminService) MemberSessions() PrimarySessionProvider {
	return memberSessions{service: a}
}

func (m memberSessions) CurrentIdentity(r *http.Request) (*PrimaryIdentity, error) {
	token := extractTokenFromRequest(r)
	if token == "" {
		return nil, nil
	}
	return m.service.resolveMemberSession(r.Context(), token)
}

func (a *AdminService) resolveMemberSession(ctx context.Context, token string) (*PrimaryIdentity, error) {
	session, err := a.storage.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		slog.Debug("Invalid session token", "token_prefix", tokenPrefix(token))
		return nil, nil
	}

	now := a.now()
	if !now.Before(session.ExpiresAt) {
		slog.Debug("Session expired", "identity_id", session.IdentityID)
		if err := a.storage.DeleteSession(ctx, token); err != nil {
			slog.Error("Failed to delete expired session", "error", err)
		}
		return nil, nil
	}

	identity, err := a.storage.GetIdentityByID(ctx, session.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	if identity == nil {
		slog.Debug("Identity not found for session", "identity_id", session.IdentityID)
		return nil, nil
	}

	if err := a.storage.TouchSession(ctx, token, now); err != nil {
		// Don't fail the request for this error
		slog.Error("Failed to update session last accessed time", "error", err)
	}

	return &PrimaryIdentity{ID: identity.ID, Email: identity.Email}, nil
}

// extractTokenFromRequest returns the member token from the Authorization
// header or, failing that, the auth_token cookie.
func extractTokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(MemberSessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// SignInRequest is the primary member login form.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignInMember checks member credentials and opens a primary session.
func (a *AdminService) SignInMember(ctx context.Context, email, password string) (*Session, *Identity, error) {
	req := SignInRequest{Email: email, Password: password}
	if err := a.validator.Struct(req); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrValidationFailed, formatValidationErrors(err))
	}

	identity, err := a.storage.GetIdentityByEmail(ctx, strings.ToLower(email))
	if err != nil {
		slog.Error("Failed to get identity", "error", err)
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	if identity == nil {
		slog.Debug("Identity not found", "email", email)
		a.logActivity(ctx, "", ActivityMemberLoginFailed, "Login attempt for non-existent account", "", "")
		return nil, nil, ErrInvalidCredentials
	}

	if !identity.IsActive {
		slog.Debug("Identity is inactive", "identity_id", identity.ID)
		a.logActivity(ctx, identity.ID, ActivityMemberLoginFailed, "Login attempt on inactive account", "profile", identity.ID)
		return nil, nil, ErrAccountInactive
	}

	if identity.PasswordHash == "" || !checkPasswordHash(password, identity.PasswordHash) {
		slog.Debug("Invalid password", "identity_id", identity.ID)
		a.logActivity(ctx, identity.ID, ActivityMemberLoginFailed, "Invalid password provided", "profile", identity.ID)
		return nil, nil, ErrInvalidCredentials
	}

	token, err := generateSecureToken(32)
	if err != nil {
		slog.Error("Failed to generate session token", "error", err)
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	now := a.now()
	meta := requestMetaFromContext(ctx)
	session := &Session{
		Token:          token,
		IdentityID:     identity.ID,
		ExpiresAt:      now.Add(a.securityConfig.SessionLifetime),
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := a.storage.CreateSession(ctx, session); err != nil {
		slog.Error("Failed to create session", "error", err)
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	a.logActivity(ctx, identity.ID, ActivityMemberLogin, "Member logged in", "profile", identity.ID)
	slog.Info("Member logged in successfully", "identity_id", identity.ID, "email", identity.Email)

	identity.PasswordHash = ""
	return session, identity, nil
}

// SignOutMember deletes the primary session for token. Unknown tokens are not
// an error.
func (a *AdminService) SignOutMember(ctx context.Context, token string) error {
	session, err := a.storage.GetSession(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if session == nil {
		return nil
	}
	if err := a.storage.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	a.logActivity(ctx, session.IdentityID, ActivityMemberLogout, "Member logged out", "profile", session.IdentityID)
	return nil
}

// WriteMemberSessionCookie sets the auth_token cookie for session.
func (a *AdminService) WriteMemberSessionCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     MemberSessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt.UTC(),
		HttpOnly: true,
		Secure:   a.securityConfig.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearMemberSessionCookie deletes the auth_token cookie.
func (a *AdminService) ClearMemberSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     MemberSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.securityConfig.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
