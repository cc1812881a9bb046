package core

import (
	"context"
	"time"
)

// Role is the access level of an identity.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

// Identity is a member account (a row of the profiles table) together with its
// optional secondary admin credential.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`

	PasswordHash string `json:"-"` // primary member password (bcrypt)
	Role         Role   `json:"role"`
	IsActive     bool   `json:"is_active"`

	// Admin credential. Hash and salt are written together by the setup flow.
	AdminSecretHash string     `json:"-"`
	AdminSecretSalt string     `json:"-"`
	Admin2FAEnabled bool       `json:"admin_2fa_enabled"`
	AdminLastAuth   *time.Time `json:"admin_last_auth,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the identity currently qualifies for admin access.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin && i.IsActive
}

// HasAdminCredential reports whether a usable admin credential is stored.
// An enabled flag with a missing hash or salt is treated as not configured.
func (i *Identity) HasAdminCredential() bool {
	return i.Admin2FAEnabled && i.AdminSecretHash != "" && i.AdminSecretSalt != ""
}

// AdminCredential is the set of fields replaced by a single setup/rotation write.
type AdminCredential struct {
	Hash     string
	Salt     string
	Enabled  bool
	LastAuth time.Time
}

// Session is a primary member session.
type Session struct {
	Token          string    `json:"-"`
	IdentityID     string    `json:"identity_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// AdminSessionRecord is the server-side registration of an admin session.
// Only the SHA-256 of the session token is persisted.
type AdminSessionRecord struct {
	TokenHash  string
	IdentityID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	IPAddress  string
	UserAgent  string
}

// SystemActivity is an audit log entry.
type SystemActivity struct {
	ID           string    `json:"id"`
	UserID       *string   `json:"user_id,omitempty"`
	ActivityType string    `json:"activity_type"`
	Description  string    `json:"description"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Storage defines the persistence contract for identities, sessions and the
// audit log. Lookups return (nil, nil) when the row does not exist.
type Storage interface {
	// Identity operations
	CreateIdentity(ctx context.Context, identity *Identity) error
	GetIdentityByID(ctx context.Context, id string) (*Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*Identity, error)
	ListIdentities(ctx context.Context, limit, offset int) ([]*Identity, error)
	UpdateIdentityAccess(ctx context.Context, id string, role Role, active bool) error

	// Admin credential operations
	UpdateAdminCredential(ctx context.Context, id string, cred AdminCredential) error
	UpdateAdminLastAuth(ctx context.Context, id string, at time.Time) error
	ListAdminCredentialHashes(ctx context.Context) (map[string]string, error)
	ReplaceAdminSecretHash(ctx context.Context, id, oldHash, newHash string) (bool, error)

	// Member session operations
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, token string) (*Session, error)
	TouchSession(ctx context.Context, token string, at time.Time) error
	DeleteSession(ctx context.Context, token string) error

	// Admin session operations
	CreateAdminSession(ctx context.Context, record *AdminSessionRecord) error
	GetAdminSession(ctx context.Context, tokenHash string) (*AdminSessionRecord, error)
	RevokeAdminSession(ctx context.Context, tokenHash string, at time.Time) error

	// Audit log operations
	CreateSystemActivity(ctx context.Context, activity *SystemActivity) error
	ListSystemActivities(ctx context.Context, limit, offset int) ([]*SystemActivity, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
