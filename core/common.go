package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// Password utilities for the primary member login
func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// hashToken returns the hex SHA-256 of a session token, the only form in
// which admin session tokens are persisted.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// tokenPrefix returns the part of a token that may appear in logs.
func tokenPrefix(token string) string {
	return token[:min(8, len(token))]
}

// IP utilities
func extractIPFromRequest(remoteAddr, xForwardedFor, xRealIP string) string {
	// Check X-Forwarded-For header first (can contain multiple IPs)
	if xForwardedFor != "" {
		ips := strings.Split(xForwardedFor, ",")
		clientIP := strings.TrimSpace(ips[0])
		if net.ParseIP(clientIP) != nil {
			return clientIP
		}
	}

	if xRealIP != "" {
		if net.ParseIP(xRealIP) != nil {
			return xRealIP
		}
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// extractIP extracts client IP from HTTP request
func extractIP(r *http.Request) string {
	return extractIPFromRequest(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"))
}

type requestMetaKey struct{}

type requestMeta struct {
	IPAddress string
	UserAgent string
}

// WithRequestMeta records the caller's address and user agent on ctx so audit
// entries written during the request carry them.
func WithRequestMeta(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, requestMeta{
		IPAddress: extractIP(r),
		UserAgent: r.UserAgent(),
	})
}

func requestMetaFromContext(ctx context.Context) requestMeta {
	if meta, ok := ctx.Value(requestMetaKey{}).(requestMeta); ok {
		return meta
	}
	return requestMeta{}
}

// fieldErrors converts validator errors into per-field messages keyed by the
// JSON field name.
func fieldErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return map[string]string{"_": err.Error()}
	}

	messages := make(map[string]string, len(validationErrors))
	for _, fieldError := range validationErrors {
		field := jsonFieldName(fieldError.Field())
		switch fieldError.Tag() {
		case "required":
			messages[field] = fmt.Sprintf("%s is required", field)
		case "email":
			messages[field] = fmt.Sprintf("%s must be a valid email address", field)
		case "min":
			messages[field] = fmt.Sprintf("%s must be at least %s characters long", field, fieldError.Param())
		case "max":
			messages[field] = fmt.Sprintf("%s must be at most %s characters long", field, fieldError.Param())
		case "eqfield":
			messages[field] = "passwords do not match"
		case "oneof":
			messages[field] = fmt.Sprintf("%s must be one of: %s", field, fieldError.Param())
		default:
			messages[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return messages
}

// formatValidationErrors flattens per-field messages into one line
func formatValidationErrors(err error) string {
	messages := fieldErrors(err)
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		parts = append(parts, msg)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func jsonFieldName(structField string) string {
	switch structField {
	case "Password":
		return "password"
	case "ConfirmPassword":
		return "confirm_password"
	case "Email":
		return "email"
	case "Role":
		return "role"
	default:
		return strings.ToLower(structField)
	}
}

// UserMessage returns display text for an error produced by this package.
// Internal details are never included.
func (a *AdminService) UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrIdentityNotFound):
		if a.securityConfig.MaskProfileNotFound {
			return "Incorrect password"
		}
		return "Profile not found"
	case errors.Is(err, ErrNotAuthorized), errors.Is(err, ErrNotAnAdminRole):
		return "No admin permissions"
	case errors.Is(err, ErrAccountInactive):
		return "Account is inactive"
	case errors.Is(err, ErrNotConfigured):
		return "Admin password not set up"
	case errors.Is(err, ErrInvalidPassword):
		return "Incorrect password"
	case errors.Is(err, ErrValidationFailed):
		return "Please correct the highlighted fields"
	case errors.Is(err, ErrSessionAbsent), errors.Is(err, ErrSessionExpired):
		return "Not authorized"
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid credentials"
	default:
		return "Something went wrong, please try again"
	}
}

// Activity types written to the audit log
const (
	ActivityAdminCredentialSetup    = "admin_credential_setup"
	ActivityAdminCredentialRotated  = "admin_credential_rotated"
	ActivityAdminCredentialMigrated = "admin_credential_migrated"
	ActivityAdminAccess             = "admin_dashboard_access"
	ActivityAdminLoginFailed        = "admin_login_failed"
	ActivityAdminSessionCreated     = "admin_session_created"
	ActivityAdminSessionDestroyed   = "admin_session_destroyed"
	ActivityMemberLogin             = "member_login"
	ActivityMemberLoginFailed       = "member_login_failed"
	ActivityMemberLogout            = "member_logout"
	ActivityAgentAccessUpdated      = "agent_access_updated"
	ActivityAgentCreated            = "agent_created"
)
