package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Cookie names shared with the portal frontend.
const (
	AdminSessionCookie = "admin_session"
	AdminFlagCookie    = "is_admin"
)

// adminTimeLayout matches the ISO-8601 form the frontend writes (millisecond
// precision, UTC).
const adminTimeLayout = "2006-01-02T15:04:05.000Z07:00"

const adminTokenBytes = 32

// AdminSession is the descriptor of an elevated session. It is carried in the
// admin_session cookie and bound to one identity at creation time.
type AdminSession struct {
	IdentityID string
	Email      string
	Token      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s *AdminSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// adminSessionPayload is the cookie wire format.
type adminSessionPayload struct {
	UserID       string `json:"userId"`
	UserEmail    string `json:"userEmail"`
	SessionToken string `json:"sessionToken"`
	ExpiresAt    string `json:"expiresAt"`
	Timestamp    string `json:"timestamp"`
}

// EncodeAdminSession serializes a descriptor into a cookie-safe value.
func EncodeAdminSession(s *AdminSession) (string, error) {
	payload := adminSessionPayload{
		UserID:       s.IdentityID,
		UserEmail:    s.Email,
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt.UTC().Format(adminTimeLayout),
		Timestamp:    s.IssuedAt.UTC().Format(adminTimeLayout),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode admin session: %w", err)
	}
	return url.PathEscape(string(data)), nil
}

// DecodeAdminSession parses a descriptor cookie value. Both the percent-encoded
// and the raw JSON forms are accepted.
func DecodeAdminSession(value string) (*AdminSession, error) {
	raw := value
	if !strings.HasPrefix(raw, "{") {
		unescaped, err := url.PathUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("invalid admin session encoding: %w", err)
		}
		raw = unescaped
	}

	var payload adminSessionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("invalid admin session payload: %w", err)
	}
	if payload.UserID == "" || payload.SessionToken == "" {
		return nil, errors.New("admin session is missing required fields")
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, payload.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("invalid admin session expiry: %w", err)
	}

	session := &AdminSession{
		IdentityID: payload.UserID,
		Email:      payload.UserEmail,
		Token:      payload.SessionToken,
		ExpiresAt:  expiresAt,
	}
	if payload.Timestamp != "" {
		if issuedAt, err := time.Parse(time.RFC3339Nano, payload.Timestamp); err == nil {
			session.IssuedAt = issuedAt
		}
	}
	return session, nil
}

// CreateSessionResult reports the outcome of CreateAdminSession.
type CreateSessionResult struct {
	Success      bool          `json:"success"`
	SessionToken string        `json:"-"`
	Session      *AdminSession `json:"-"`
	ExpiresAt    time.Time     `json:"expires_at,omitzero"`
	Outcome      VerifyOutcome `json:"outcome,omitempty"`
	Error        string        `json:"error,omitempty"`
	Err          error         `json:"-"`
}

// DestroyResult reports the outcome of DestroyAdminSession. Destroying is
// idempotent and always succeeds.
type DestroyResult struct {
	Success bool `json:"success"`
}

// CreateAdminSession verifies the submitted admin password and, on success,
// mints a new admin session for the identity. The caller writes the cookies
// with WriteAdminSessionCookies.
func (a *AdminService) CreateAdminSession(ctx context.Context, identityID, email, password string) CreateSessionResult {
	verification := a.VerifyAdminCredential(ctx, identityID, password)
	if !verification.Success {
		return CreateSessionResult{
			Outcome: verification.Outcome,
			Error:   verification.Error,
			Err:     verification.Err,
		}
	}

	if email == "" {
		email = verification.Identity.Email
	}

	session, err := a.issueAdminSession(ctx, verification.Identity.ID, email)
	if err != nil {
		slog.Error("Failed to issue admin session", "identity_id", identityID, "error", err)
		err = fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		return CreateSessionResult{
			Outcome: OutcomePersistenceFailed,
			Error:   a.UserMessage(err),
			Err:     err,
		}
	}

	return CreateSessionResult{
		Success:      true,
		SessionToken: session.Token,
		Session:      session,
		ExpiresAt:    session.ExpiresAt,
		Outcome:      OutcomeVerified,
	}
}

// issueAdminSession mints the descriptor. It must only be called after a
// successful verification in the same request.
func (a *AdminService) issueAdminSession(ctx context.Context, identityID, email string) (*AdminSession, error) {
	token, err := generateSecureToken(adminTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := a.now()
	session := &AdminSession{
		IdentityID: identityID,
		Email:      email,
		Token:      token,
		IssuedAt:   now,
		ExpiresAt:  now.Add(a.securityConfig.AdminSessionLifetime),
	}

	if a.securityConfig.TrackAdminSessions {
		meta := requestMetaFromContext(ctx)
		record := &AdminSessionRecord{
			TokenHash:  hashToken(token),
			IdentityID: identityID,
			IssuedAt:   session.IssuedAt,
			ExpiresAt:  session.ExpiresAt,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
		}
		if err := a.storage.CreateAdminSession(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to register admin session: %w", err)
		}
	}

	a.logActivity(ctx, identityID, ActivityAdminSessionCreated,
		fmt.Sprintf("Admin session created (token %s...)", tokenPrefix(token)), "admin_session", tokenPrefix(token))

	slog.Info("Admin session created", "identity_id", identityID, "token_prefix", tokenPrefix(token), "expires_at", session.ExpiresAt)
	return session, nil
}

// ReadAdminSession validates a descriptor cookie value. A nil session means
// Absent; the error explains why and is never a fatal condition.
func (a *AdminService) ReadAdminSession(ctx context.Context, value string) (*AdminSession, error) {
	if value == "" {
		return nil, ErrSessionAbsent
	}

	session, err := DecodeAdminSession(value)
	if err != nil {
		slog.Debug("Discarding undecodable admin session", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSessionAbsent, err)
	}

	now := a.now()
	if session.Expired(now) {
		slog.Debug("Admin session expired", "identity_id", session.IdentityID, "expires_at", session.ExpiresAt)
		return nil, ErrSessionExpired
	}

	if !a.securityConfig.TrackAdminSessions {
		return session, nil
	}
	if err := a.checkAdminSessionRecord(ctx, session, now); err != nil {
		return nil, err
	}
	return session, nil
}

// checkAdminSessionRecord matches the descriptor against the server-side
// registry and adopts the registered window.
func (a *AdminService) checkAdminSessionRecord(ctx context.Context, session *AdminSession, now time.Time) error {
	record, err := a.storage.GetAdminSession(ctx, hashToken(session.Token))
	if err != nil {
		slog.Error("Failed to look up admin session", "token_prefix", tokenPrefix(session.Token), "error", err)
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	switch {
	case record == nil:
		slog.Debug("Unknown admin session token", "token_prefix", tokenPrefix(session.Token))
		return ErrSessionAbsent
	case record.RevokedAt != nil:
		slog.Debug("Admin session revoked", "token_prefix", tokenPrefix(session.Token))
		return ErrSessionAbsent
	case record.IdentityID != session.IdentityID:
		slog.Debug("Admin session bound to a different identity", "token_prefix", tokenPrefix(session.Token))
		return ErrSessionAbsent
	case !now.Before(record.ExpiresAt):
		return ErrSessionExpired
	}

	// Server-side record is authoritative for the window
	session.IssuedAt = record.IssuedAt
	session.ExpiresAt = record.ExpiresAt
	return nil
}

// DestroyAdminSession ends the session. With tracking on, only a registered,
// unrevoked record bound to the descriptor's identity is revoked and audited;
// with tracking off the descriptor must still be current. Anything else is a
// silent no-op. The caller clears the cookies with ClearAdminSessionCookies.
func (a *AdminService) DestroyAdminSession(ctx context.Context, session *AdminSession) DestroyResult {
	if session == nil || session.Token == "" {
		return DestroyResult{Success: true}
	}

	if a.securityConfig.TrackAdminSessions {
		record, err := a.storage.GetAdminSession(ctx, hashToken(session.Token))
		switch {
		case err != nil:
			slog.Error("Failed to look up admin session for revocation", "token_prefix", tokenPrefix(session.Token), "error", err)
			return DestroyResult{Success: true}
		case record == nil, record.RevokedAt != nil, record.IdentityID != session.IdentityID:
			slog.Debug("Ignoring logout for unknown admin session", "token_prefix", tokenPrefix(session.Token))
			return DestroyResult{Success: true}
		}
		if err := a.storage.RevokeAdminSession(ctx, record.TokenHash, a.now()); err != nil {
			slog.Error("Failed to revoke admin session", "token_prefix", tokenPrefix(session.Token), "error", err)
			return DestroyResult{Success: true}
		}
	} else if session.Expired(a.now()) {
		slog.Debug("Ignoring logout for expired admin session", "identity_id", session.IdentityID)
		return DestroyResult{Success: true}
	}

	a.logActivity(ctx, session.IdentityID, ActivityAdminSessionDestroyed,
		fmt.Sprintf("Admin session ended (token %s...)", tokenPrefix(session.Token)), "admin_session", tokenPrefix(session.Token))

	slog.Info("Admin session destroyed", "identity_id", session.IdentityID, "token_prefix", tokenPrefix(session.Token))
	return DestroyResult{Success: true}
}

// HTTP adapter

// WriteAdminSessionCookies sets the descriptor and flag cookies for session.
func (a *AdminService) WriteAdminSessionCookies(w http.ResponseWriter, session *AdminSession) error {
	value, err := EncodeAdminSession(session)
	if err != nil {
		return err
	}

	expires := session.ExpiresAt.UTC()
	http.SetCookie(w, a.adminCookie(AdminSessionCookie, value, expires))
	http.SetCookie(w, a.adminCookie(AdminFlagCookie, "true", expires))
	return nil
}

// ClearAdminSessionCookies deletes both admin cookies unconditionally.
func (a *AdminService) ClearAdminSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{AdminSessionCookie, AdminFlagCookie} {
		cookie := a.adminCookie(name, "", time.Unix(0, 0))
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

func (a *AdminService) adminCookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.securityConfig.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// AdminFlagPresent is the fast pre-check: it reports whether the request
// carries is_admin=true.
func AdminFlagPresent(r *http.Request) bool {
	cookie, err := r.Cookie(AdminFlagCookie)
	return err == nil && cookie.Value == "true"
}

// ReadAdminSessionFromRequest reads and validates the admin session carried by
// the request cookies. The descriptor is only decoded when the flag cookie is
// present.
func (a *AdminService) ReadAdminSessionFromRequest(ctx context.Context, r *http.Request) (*AdminSession, error) {
	if !AdminFlagPresent(r) {
		return nil, ErrSessionAbsent
	}
	cookie, err := r.Cookie(AdminSessionCookie)
	if err != nil {
		return nil, ErrSessionAbsent
	}
	return a.ReadAdminSession(ctx, cookie.Value)
}
