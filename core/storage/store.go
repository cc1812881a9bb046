// Package storage provides SQL implementations of core.Storage.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wispberry-tech/wispy-admin/core"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	dialect string
}

func ensureSchema(ctx context.Context, db *sql.DB, dialect string) error {
	sm, err := core.NewSchemaManager(db, dialect)
	if err != nil {
		return err
	}
	if err := sm.EnsureCoreSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure core schema: %w", err)
	}
	return nil
}

func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// DB returns the underlying connection pool.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func requireOneRow(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", what, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: no matching row", what)
	}
	return nil
}

// Identity operations

const identityColumns = `id, email, full_name, password_hash, role, is_active,
	admin_secret_hash, admin_secret_salt, admin_2fa_enabled, admin_last_auth,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*core.Identity, error) {
	identity := &core.Identity{}
	var role string
	var secretHash, secretSalt sql.NullString
	var lastAuth sql.NullTime

	err := row.Scan(&identity.ID, &identity.Email, &identity.FullName, &identity.PasswordHash,
		&role, &identity.IsActive, &secretHash, &secretSalt, &identity.Admin2FAEnabled,
		&lastAuth, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return nil, err
	}

	identity.Role = core.Role(role)
	identity.AdminSecretHash = secretHash.String
	identity.AdminSecretSalt = secretSalt.String
	if lastAuth.Valid {
		t := lastAuth.Time
		identity.AdminLastAuth = &t
	}
	return identity, nil
}

func (s *sqlStore) CreateIdentity(ctx context.Context, identity *core.Identity) error {
	query := `INSERT INTO profiles (` + identityColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, query,
		identity.ID, identity.Email, identity.FullName, identity.PasswordHash,
		string(identity.Role), identity.IsActive,
		nullString(identity.AdminSecretHash), nullString(identity.AdminSecretSalt),
		identity.Admin2FAEnabled, nullTime(identity.AdminLastAuth),
		identity.CreatedAt.UTC(), identity.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

func (s *sqlStore) getIdentity(ctx context.Context, where string, arg any) (*core.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM profiles WHERE ` + where
	identity, err := scanIdentity(s.queryRow(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return identity, nil
}

func (s *sqlStore) GetIdentityByID(ctx context.Context, id string) (*core.Identity, error) {
	return s.getIdentity(ctx, "id = ?", id)
}

func (s *sqlStore) GetIdentityByEmail(ctx context.Context, email string) (*core.Identity, error) {
	return s.getIdentity(ctx, "email = ?", strings.ToLower(email))
}

func (s *sqlStore) ListIdentities(ctx context.Context, limit, offset int) ([]*core.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM profiles
			  ORDER BY email LIMIT ? OFFSET ?`

	rows, err := s.query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []*core.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

func (s *sqlStore) UpdateIdentityAccess(ctx context.Context, id string, role core.Role, active bool) error {
	query := `UPDATE profiles SET role = ?, is_active = ?, updated_at = ? WHERE id = ?`

	result, err := s.exec(ctx, query, string(role), active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update identity access: %w", err)
	}
	return requireOneRow(result, "update identity access")
}

// Admin credential operations

func (s *sqlStore) UpdateAdminCredential(ctx context.Context, id string, cred core.AdminCredential) error {
	query := `UPDATE profiles SET admin_secret_hash = ?, admin_secret_salt = ?,
			  admin_2fa_enabled = ?, admin_last_auth = ?, updated_at = ?
			  WHERE id = ?`

	result, err := s.exec(ctx, query,
		nullString(cred.Hash), nullString(cred.Salt), cred.Enabled,
		cred.LastAuth.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update admin credential: %w", err)
	}
	return requireOneRow(result, "update admin credential")
}

func (s *sqlStore) UpdateAdminLastAuth(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE profiles SET admin_last_auth = ? WHERE id = ?`

	if _, err := s.exec(ctx, query, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to update admin last auth: %w", err)
	}
	return nil
}

func (s *sqlStore) ListAdminCredentialHashes(ctx context.Context) (map[string]string, error) {
	query := `SELECT id, admin_secret_hash FROM profiles
			  WHERE admin_secret_hash IS NOT NULL AND admin_secret_hash <> ''`

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin credentials: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan admin credential: %w", err)
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

func (s *sqlStore) ReplaceAdminSecretHash(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	query := `UPDATE profiles SET admin_secret_hash = ?, updated_at = ?
			  WHERE id = ? AND admin_secret_hash = ?`

	result, err := s.exec(ctx, query, newHash, time.Now().UTC(), id, oldHash)
	if err != nil {
		return false, fmt.Errorf("failed to replace admin hash: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// Member session operations

func (s *sqlStore) CreateSession(ctx context.Context, session *core.Session) error {
	query := `INSERT INTO sessions (token, identity_id, expires_at, ip_address, user_agent,
			  created_at, last_accessed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, query,
		session.Token, session.IdentityID, session.ExpiresAt.UTC(),
		session.IPAddress, session.UserAgent,
		session.CreatedAt.UTC(), session.LastAccessedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *sqlStore) GetSession(ctx context.Context, token string) (*core.Session, error) {
	session := &core.Session{}
	query := `SELECT token, identity_id, expires_at, ip_address, user_agent,
			  created_at, last_accessed_at
			  FROM sessions WHERE token = ?`

	err := s.queryRow(ctx, query, token).Scan(
		&session.Token, &session.IdentityID, &session.ExpiresAt,
		&session.IPAddress, &session.UserAgent,
		&session.CreatedAt, &session.LastAccessedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (s *sqlStore) TouchSession(ctx context.Context, token string, at time.Time) error {
	query := `UPDATE sessions SET last_accessed_at = ? WHERE token = ?`

	if _, err := s.exec(ctx, query, at.UTC(), token); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (s *sqlStore) DeleteSession(ctx context.Context, token string) error {
	query := `DELETE FROM sessions WHERE token = ?`

	if _, err := s.exec(ctx, query, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Admin session operations

func (s *sqlStore) CreateAdminSession(ctx context.Context, record *core.AdminSessionRecord) error {
	query := `INSERT INTO admin_sessions (token_hash, identity_id, issued_at, expires_at,
			  revoked_at, ip_address, user_agent)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, query,
		record.TokenHash, record.IdentityID, record.IssuedAt.UTC(), record.ExpiresAt.UTC(),
		nullTime(record.RevokedAt), record.IPAddress, record.UserAgent)
	if err != nil {
		return fmt.Errorf("failed to create admin session: %w", err)
	}
	return nil
}

func (s *sqlStore) GetAdminSession(ctx context.Context, tokenHash string) (*core.AdminSessionRecord, error) {
	record := &core.AdminSessionRecord{}
	var revokedAt sql.NullTime
	query := `SELECT token_hash, identity_id, issued_at, expires_at, revoked_at,
			  ip_address, user_agent
			  FROM admin_sessions WHERE token_hash = ?`

	err := s.queryRow(ctx, query, tokenHash).Scan(
		&record.TokenHash, &record.IdentityID, &record.IssuedAt, &record.ExpiresAt,
		&revokedAt, &record.IPAddress, &record.UserAgent)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get admin session: %w", err)
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		record.RevokedAt = &t
	}
	return record, nil
}

func (s *sqlStore) RevokeAdminSession(ctx context.Context, tokenHash string, at time.Time) error {
	query := `UPDATE admin_sessions SET revoked_at = ?
			  WHERE token_hash = ? AND revoked_at IS NULL`

	if _, err := s.exec(ctx, query, at.UTC(), tokenHash); err != nil {
		return fmt.Errorf("failed to revoke admin session: %w", err)
	}
	return nil
}

// Audit log operations

func (s *sqlStore) CreateSystemActivity(ctx context.Context, activity *core.SystemActivity) error {
	query := `INSERT INTO system_activities (id, user_id, activity_type, description,
			  resource_type, resource_id, ip_address, user_agent, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var userID sql.NullString
	if activity.UserID != nil {
		userID = nullString(*activity.UserID)
	}

	_, err := s.exec(ctx, query,
		activity.ID, userID, activity.ActivityType, activity.Description,
		activity.ResourceType, activity.ResourceID, activity.IPAddress, activity.UserAgent,
		activity.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create system activity: %w", err)
	}
	return nil
}

func (s *sqlStore) ListSystemActivities(ctx context.Context, limit, offset int) ([]*core.SystemActivity, error) {
	// SQLite keeps timestamps as text with a variable-width fraction, so order
	// on the parsed value. Insertion order breaks ties within one instant.
	order := "julianday(created_at) DESC, rowid DESC"
	if s.dialect == dialectPostgres {
		order = "created_at DESC, ctid DESC"
	}
	query := `SELECT id, user_id, activity_type, description, resource_type, resource_id,
			  ip_address, user_agent, created_at
			  FROM system_activities
			  ORDER BY ` + order + `
			  LIMIT ? OFFSET ?`

	rows, err := s.query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list system activities: %w", err)
	}
	defer rows.Close()

	var activities []*core.SystemActivity
	for rows.Next() {
		activity := &core.SystemActivity{}
		var userID sql.NullString
		if err := rows.Scan(&activity.ID, &userID, &activity.ActivityType, &activity.Description,
			&activity.ResourceType, &activity.ResourceID, &activity.IPAddress, &activity.UserAgent,
			&activity.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan system activity: %w", err)
		}
		if userID.Valid {
			id := userID.String
			activity.UserID = &id
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

// Health check

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

var _ core.Storage = (*sqlStore)(nil)
