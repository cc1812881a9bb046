package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var errMockStorage = errors.New("mock storage failure")

// mockStorage is an in-memory Storage with failure injection.
type mockStorage struct {
	mu             sync.RWMutex
	identities     map[string]*Identity
	sessions       map[string]*Session
	adminSessions  map[string]*AdminSessionRecord
	activities     []*SystemActivity
	failGet        bool
	failUpdate     bool
	failActivities bool
	failAdminReg   bool
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		identities:    make(map[string]*Identity),
		sessions:      make(map[string]*Session),
		adminSessions: make(map[string]*AdminSessionRecord),
	}
}

func copyIdentity(i *Identity) *Identity {
	c := *i
	if i.AdminLastAuth != nil {
		t := *i.AdminLastAuth
		c.AdminLastAuth = &t
	}
	return &c
}

func (m *mockStorage) CreateIdentity(ctx context.Context, identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.identities {
		if existing.Email == identity.Email {
			return fmt.Errorf("duplicate email %s", identity.Email)
		}
	}
	m.identities[identity.ID] = copyIdentity(identity)
	return nil
}

func (m *mockStorage) GetIdentityByID(ctx context.Context, id string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failGet {
		return nil, errMockStorage
	}
	if identity, ok := m.identities[id]; ok {
		return copyIdentity(identity), nil
	}
	return nil, nil
}

func (m *mockStorage) GetIdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failGet {
		return nil, errMockStorage
	}
	for _, identity := range m.identities {
		if identity.Email == strings.ToLower(email) {
			return copyIdentity(identity), nil
		}
	}
	return nil, nil
}

func (m *mockStorage) ListIdentities(ctx context.Context, limit, offset int) ([]*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var identities []*Identity
	for _, identity := range m.identities {
		identities = append(identities, copyIdentity(identity))
	}
	slices.SortFunc(identities, func(a, b *Identity) int { return strings.Compare(a.Email, b.Email) })
	if offset >= len(identities) {
		return nil, nil
	}
	identities = identities[offset:]
	if len(identities) > limit {
		identities = identities[:limit]
	}
	return identities, nil
}

func (m *mockStorage) UpdateIdentityAccess(ctx context.Context, id string, role Role, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUpdate {
		return errMockStorage
	}
	identity, ok := m.identities[id]
	if !ok {
		return fmt.Errorf("identity %s not found", id)
	}
	identity.Role = role
	identity.IsActive = active
	return nil
}

func (m *mockStorage) UpdateAdminCredential(ctx context.Context, id string, cred AdminCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUpdate {
		return errMockStorage
	}
	identity, ok := m.identities[id]
	if !ok {
		return fmt.Errorf("identity %s not found", id)
	}
	lastAuth := cred.LastAuth
	identity.AdminSecretHash = cred.Hash
	identity.AdminSecretSalt = cred.Salt
	identity.Admin2FAEnabled = cred.Enabled
	identity.AdminLastAuth = &lastAuth
	return nil
}

func (m *mockStorage) UpdateAdminLastAuth(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUpdate {
		return errMockStorage
	}
	if identity, ok := m.identities[id]; ok {
		identity.AdminLastAuth = &at
	}
	return nil
}

func (m *mockStorage) ListAdminCredentialHashes(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hashes := make(map[string]string)
	for id, identity := range m.identities {
		if identity.AdminSecretHash != "" {
			hashes[id] = identity.AdminSecretHash
		}
	}
	return hashes, nil
}

func (m *mockStorage) ReplaceAdminSecretHash(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUpdate {
		return false, errMockStorage
	}
	identity, ok := m.identities[id]
	if !ok || identity.AdminSecretHash != oldHash {
		return false, nil
	}
	identity.AdminSecretHash = newHash
	return true, nil
}

func (m *mockStorage) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *session
	m.sessions[session.Token] = &c
	return nil
}

func (m *mockStorage) GetSession(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if session, ok := m.sessions[token]; ok {
		c := *session
		return &c, nil
	}
	return nil, nil
}

func (m *mockStorage) TouchSession(ctx context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[token]; ok {
		session.LastAccessedAt = at
	}
	return nil
}

func (m *mockStorage) DeleteSession(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, token)
	return nil
}

func (m *mockStorage) CreateAdminSession(ctx context.Context, record *AdminSessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAdminReg {
		return errMockStorage
	}
	c := *record
	m.adminSessions[record.TokenHash] = &c
	return nil
}

func (m *mockStorage) GetAdminSession(ctx context.Context, tokenHash string) (*AdminSessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if record, ok := m.adminSessions[tokenHash]; ok {
		c := *record
		return &c, nil
	}
	return nil, nil
}

func (m *mockStorage) RevokeAdminSession(ctx context.Context, tokenHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record, ok := m.adminSessions[tokenHash]; ok && record.RevokedAt == nil {
		record.RevokedAt = &at
	}
	return nil
}

func (m *mockStorage) CreateSystemActivity(ctx context.Context, activity *SystemActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failActivities {
		return errMockStorage
	}
	c := *activity
	m.activities = append(m.activities, &c)
	return nil
}

func (m *mockStorage) ListSystemActivities(ctx context.Context, limit, offset int) ([]*SystemActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var activities []*SystemActivity
	for i := len(m.activities) - 1; i >= 0; i-- {
		activities = append(activities, m.activities[i])
	}
	if offset >= len(activities) {
		return nil, nil
	}
	activities = activities[offset:]
	if len(activities) > limit {
		activities = activities[:limit]
	}
	return activities, nil
}

func (m *mockStorage) Ping(ctx context.Context) error { return nil }

func (m *mockStorage) Close() error { return nil }

// activityTypes returns the recorded activity types in insertion order.
func (m *mockStorage) activityTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := make([]string, 0, len(m.activities))
	for _, a := range m.activities {
		types = append(types, a.ActivityType)
	}
	return types
}

func (m *mockStorage) setRole(id string, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[id].Role = role
}

func (m *mockStorage) setActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[id].IsActive = active
}

func (m *mockStorage) identity(id string) *Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyIdentity(m.identities[id])
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Helper functions

func mustCreateTestStorage(t *testing.T) *mockStorage {
	t.Helper()
	return newMockStorage()
}

// mustCreateTestAdminService creates an AdminService over mock storage with a
// controllable clock
func mustCreateTestAdminService(t *testing.T) (*AdminService, *mockStorage, *testClock) {
	t.Helper()
	return mustCreateTestAdminServiceWithConfig(t, DefaultSecurityConfig())
}

func mustCreateTestAdminServiceWithConfig(t *testing.T, securityConfig SecurityConfig) (*AdminService, *mockStorage, *testClock) {
	t.Helper()
	storage := mustCreateTestStorage(t)
	clock := newTestClock()

	adminService, err := NewAdminService(Config{
		Storage:        storage,
		SecurityConfig: securityConfig,
		Clock:          clock.Now,
	})
	if err != nil {
		t.Fatalf("Failed to create test AdminService: %v", err)
	}
	t.Cleanup(func() { adminService.Close() })

	return adminService, storage, clock
}

// mustCreateTestIdentity stores an identity with the given role and status and
// a member password of "member-password"
func mustCreateTestIdentity(t *testing.T, storage *mockStorage, role Role, active bool) *Identity {
	t.Helper()
	passwordHash, err := hashPassword("member-password")
	if err != nil {
		t.Fatalf("Failed to hash member password: %v", err)
	}

	id := uuid.NewString()
	identity := &Identity{
		ID:           id,
		Email:        "agent-" + id[:8] + "@example.org",
		FullName:     "Test Agent",
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     active,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := storage.CreateIdentity(context.Background(), identity); err != nil {
		t.Fatalf("Failed to create test identity: %v", err)
	}
	return identity
}

// mustSetupAdminPassword runs the setup flow and fails the test on error
func mustSetupAdminPassword(t *testing.T, adminService *AdminService, identityID, password string) {
	t.Helper()
	result := adminService.SetupAdminCredential(context.Background(), identityID, password, password)
	if !result.Success {
		t.Fatalf("SetupAdminCredential() failed: %s (%v)", result.Error, result.Err)
	}
}

// requestWithCookies returns a GET request carrying the cookies set on a recorder
func requestWithCookies(method, path string, cookies []*http.Cookie) *http.Request {
	req, _ := http.NewRequest(method, path, nil)
	for _, c := range cookies {
		if c.MaxAge < 0 {
			continue
		}
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}
