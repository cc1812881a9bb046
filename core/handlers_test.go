package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"
)

func jsonRequest(method, path, body string, cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		if c.MaxAge < 0 {
			continue
		}
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}

func mustSignIn(t *testing.T, svc *AdminService, email, password string) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	body := `{"email":"` + email + `","password":"` + password + `"}`
	resp := svc.SignInHandler(rec, jsonRequest(http.MethodPost, "/auth/signin", body, nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("SignInHandler() status = %d, error = %s", resp.StatusCode, resp.Error)
	}
	return rec.Result().Cookies()
}

func TestSignInHandler(t *testing.T) {
	svc, storage, _ := mustCreateTestAdminService(t)
	member := mustCreateTestIdentity(t, storage, RoleMember, true)
	inactive := mustCreateTestIdentity(t, storage, RoleMember, false)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"success", `{"email":"` + member.Email + `","password":"member-password"}`, http.StatusOK},
		{"wrong_password", `{"email":"` + member.Email + `","password":"nope"}`, http.StatusUnauthorized},
		{"unknown_email", `{"email":"ghost@example.org","password":"member-password"}`, http.StatusUnauthorized},
		{"inactive", `{"email":"` + inactive.Email + `","password":"member-password"}`, http.StatusForbidden},
		{"invalid_email", `{"email":"not-an-email","password":"x"}`, http.StatusBadRequest},
		{"malformed_json", `{"email":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			resp := svc.SignInHandler(rec, jsonRequest(http.MethodPost, "/auth/signin", tt.body, nil))
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("SignInHandler() status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, resp.Error)
			}
			if tt.wantStatus == http.StatusOK {
				if resp.Token == "" || resp.Identity.PasswordHash != "" {
					t.Errorf("SignInHandler() response = %+v", resp)
				}
				if _, ok := cookiesByName(rec.Result().Cookies())[MemberSessionCookie]; !ok {
					t.Error("member session cookie not set")
				}
			}
		})
	}
}

func TestLogoutHandler(t *testing.T) {
	svc, storage, _ := mustCreateTestAdminService(t)
	member := mustCreateTestIdentity(t, storage, RoleMember, true)

	rec := httptest.NewRecorder()
	if resp := svc.LogoutHandler(rec, jsonRequest(http.MethodPost, "/auth/logout", "", nil)); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("LogoutHandler() without token status = %d, want 400", resp.StatusCode)
	}

	cookies := mustSignIn(t, svc, member.Email, "member-password")
	token := cookiesByName(cookies)[MemberSessionCookie].Value

	rec = httptest.NewRecorder()
	if resp := svc.LogoutHandler(rec, jsonRequest(http.MethodPost, "/auth/logout", "", cookies)); resp.StatusCode != http.StatusOK {
		t.Fatalf("LogoutHandler() status = %d, want 200", resp.StatusCode)
	}
	if session, _ := storage.GetSession(context.Background(), token); session != nil {
		t.Error("member session survived logout")
	}
}

func TestAdminSetupHandler(t *testing.T) {
	svc, storage, _ := mustCreateTestAdminService(t)
	admin := mustCreateTestIdentity(t, storage, RoleAdmin, true)
	member := mustCreateTestIdentity(t, storage, RoleMember, true)
	adminCookies := mustSignIn(t, svc, admin.Email, "member-password")
	memberCookies := mustSignIn(t, svc, member.Email, "member-password")

	tests := []struct {
		name       string
		cookies    []*http.Cookie
		body       string
		wantStatus int
		wantField  string
	}{
		{"no_primary_session", nil, `{"password":"Secret123","confirm_password":"Secret123"}`, http.StatusUnauthorized, ""},
		{"malformed_json", adminCookies, `{"password":`, http.StatusBadRequest, ""},
		{"mismatch", adminCookies, `{"password":"Secret123","confirm_password":"Secret999"}`, http.StatusBadRequest, "confirm_password"},
		{"too_short", adminCookies, `{"password":"abc","confirm_password":"abc"}`, http.StatusBadRequest, "password"},
		{"member", memberCookies, `{"password":"Secret123","confirm_password":"Secret123"}`, http.StatusForbidden, ""},
		{"success", adminCookies, `{"password":"Secret123","confirm_password":"Secret123"}`, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := svc.AdminSetupHandler(jsonRequest(http.MethodPost, "/admin/auth/setup", tt.body, tt.cookies))
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("AdminSetupHandler() status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, resp.Error)
			}
			if tt.wantField != "" && resp.FieldErrors[tt.wantField] == "" {
				t.Errorf("FieldErrors = %v, want entry for %s", resp.FieldErrors, tt.wantField)
			}
		})
	}
}

func TestAdminLoginHandler(t *testing.T) {
	svc, storage, _ := mustCreateTestAdminService(t)
	admin := mustCreateTestIdentity(t, storage, RoleAdmin, true)
	unconfigured := mustCreateTestIdentity(t, storage, RoleAdmin, true)
	mustSetupAdminPassword(t, svc, admin.ID, "Secret123")
	adminCookies := mustSignIn(t, svc, admin.Email, "member-password")
	unconfiguredCookies := mustSignIn(t, svc, unconfigured.Email, "member-password")

	tests := []struct {
		name       string
		cookies    []*http.Cookie
		body       string
		wantStatus int
	}{
		{"no_primary_session", nil, `{"password":"Secret123"}`, http.StatusUnauthorized},
		{"malformed_json", adminCookies, `nope`, http.StatusBadRequest},
		{"wrong_password", adminCookies, `{"password":"Secret999"}`, http.StatusUnauthorized},
		{"not_configured", unconfiguredCookies, `{"password":"Secret123"}`, http.StatusConflict},
		{"success", adminCookies, `{"password":"Secret123"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			resp := svc.AdminLoginHandler(rec, jsonRequest(http.MethodPost, "/admin/auth/login", tt.body, tt.cookies))
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("AdminLoginHandler() status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, resp.Error)
			}

			_, hasSession := cookiesByName(rec.Result().Cookies())[AdminSessionCookie]
			if hasSession != (tt.wantStatus == http.StatusOK) {
				t.Errorf("admin session cookie set = %v, want %v", hasSession, tt.wantStatus == http.StatusOK)
			}
			if tt.wantStatus == http.StatusOK && (resp.Identity == nil || resp.Identity.ID != admin.ID || resp.ExpiresAt == nil) {
				t.Errorf("AdminLoginHandler() response = %+v", resp)
			}
		})
	}
}

func TestAdminLogoutHandler(t *testing.T) {
	svc, storage, clock := mustCreateTestAdminService(t)
	admin := mustCreateTestIdentity(t, storage, RoleAdmin, true)
	mustSetupAdminPassword(t, svc, admin.ID, "Secret123")
	cookies := mustSignIn(t, svc, admin.Email, "member-password")

	rec := httptest.NewRecorder()
	svc.AdminLoginHandler(rec, jsonRequest(http.MethodPost, "/admin/auth/login", `{"password":"Secret123"}`, cookies))
	adminCookies := rec.Result().Cookies()

	t.Run("without_cookies", func(t *testing.T) {
		rec := httptest.NewRecorder()
		resp := svc.AdminLogoutHandler(rec, jsonRequest(http.MethodPost, "/admin/auth/logout", "", nil))
		if resp.StatusCode != http.StatusOK || !resp.Success {
			t.Errorf("AdminLogoutHandler() = %+v, want success", resp)
		}
	})

	t.Run("expired_session_still_revoked", func(t *testing.T) {
		clock.Advance(3 * time.Hour)

		rec := httptest.NewRecorder()
		resp := svc.AdminLogoutHandler(rec, jsonRequest(http.MethodPost, "/admin/auth/logout", "", adminCookies))
		if resp.StatusCode != http.StatusOK || !resp.Success {
			t.Errorf("AdminLogoutHandler() = %+v, want success", resp)
		}

		cleared := cookiesByName(rec.Result().Cookies())
		for _, name := range []string{AdminSessionCookie, AdminFlagCookie} {
			if c, ok := cleared[name]; !ok || c.MaxAge >= 0 {
				t.Errorf("cookie %s not cleared", name)
			}
		}
		if !slices.Contains(storage.activityTypes(), ActivityAdminSessionDestroyed) {
			t.Errorf("activities = %v, want %s", storage.activityTypes(), ActivityAdminSessionDestroyed)
		}
	})
}

func TestAdminLogoutHandlerUnverifiedDescriptor(t *testing.T) {
	ctx := context.Background()

	logout := func(t *testing.T, svc *AdminService, session *AdminSession) map[string]*http.Cookie {
		t.Helper()
		value, err := EncodeAdminSession(session)
		if err != nil {
			t.Fatalf("EncodeAdminSession() error = %v", err)
		}
		rec := httptest.NewRecorder()
		cookies := []*http.Cookie{{Name: AdminSessionCookie, Value: value}}
		resp := svc.AdminLogoutHandler(rec, jsonRequest(http.MethodPost, "/admin/auth/logout", "", cookies))
		if resp.StatusCode != http.StatusOK || !resp.Success {
			t.Errorf("AdminLogoutHandler() = %+v, want success", resp)
		}
		return cookiesByName(rec.Result().Cookies())
	}

	assertCleared := func(t *testing.T, cleared map[string]*http.Cookie) {
		t.Helper()
		for _, name := range []string{AdminSessionCookie, AdminFlagCookie} {
			if c, ok := cleared[name]; !ok || c.MaxAge >= 0 {
				t.Errorf("cookie %s not cleared", name)
			}
		}
	}

	t.Run("unregistered_token", func(t *testing.T) {
		svc, storage, clock := mustCreateTestAdminService(t)
		victim := mustCreateTestIdentity(t, storage, RoleAdmin, true)

		cleared := logout(t, svc, &AdminSession{
			IdentityID: victim.ID,
			Email:      victim.Email,
			Token:      "made-up-token-value",
			IssuedAt:   clock.Now(),
			ExpiresAt:  clock.Now().Add(time.Hour),
		})

		assertCleared(t, cleared)
		if got := storage.activityTypes(); slices.Contains(got, ActivityAdminSessionDestroyed) {
			t.Errorf("activities = %v, want no %s", got, ActivityAdminSessionDestroyed)
		}
	})

	t.Run("token_bound_to_other_identity", func(t *testing.T) {
		svc, storage, _ := mustCreateTestAdminService(t)
		owner := mustCreateTestIdentity(t, storage, RoleAdmin, true)
		other := mustCreateTestIdentity(t, storage, RoleAdmin, true)
		mustSetupAdminPassword(t, svc, owner.ID, "Secret123")
		session := svc.CreateAdminSession(ctx, owner.ID, owner.Email, "Secret123").Session

		rebound := *session
		rebound.IdentityID = other.ID
		assertCleared(t, logout(t, svc, &rebound))

		if got := storage.activityTypes(); slices.Contains(got, ActivityAdminSessionDestroyed) {
			t.Errorf("activities = %v, want no %s", got, ActivityAdminSessionDestroyed)
		}
		if record, _ := storage.GetAdminSession(ctx, hashToken(session.Token)); record == nil || record.RevokedAt != nil {
			t.Error("owner's admin session was revoked by a rebound descriptor")
		}
	})

	t.Run("untracked_expired_descriptor", func(t *testing.T) {
		sc := DefaultSecurityConfig()
		sc.TrackAdminSessions = false
		svc, storage, clock := mustCreateTestAdminServiceWithConfig(t, sc)
		victim := mustCreateTestIdentity(t, storage, RoleAdmin, true)

		cleared := logout(t, svc, &AdminSession{
			IdentityID: victim.ID,
			Token:      "made-up-token-value",
			IssuedAt:   clock.Now().Add(-3 * time.Hour),
			ExpiresAt:  clock.Now().Add(-time.Hour),
		})

		assertCleared(t, cleared)
		if got := storage.activityTypes(); slices.Contains(got, ActivityAdminSessionDestroyed) {
			t.Errorf("activities = %v, want no %s", got, ActivityAdminSessionDestroyed)
		}
	})
}

func TestRequireAdmin(t *testing.T) {
	svc, storage, _ := mustCreateTestAdminService(t)
	admin := mustCreateTestIdentity(t, storage, RoleAdmin, true)
	member := mustCreateTestIdentity(t, storage, RoleMember, true)
	mustSetupAdminPassword(t, svc, admin.ID, "Secret123")

	var seen *AccessIdentity
	protected := svc.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAdminFromContext(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	memberCookies := mustSignIn(t, svc, member.Email, "member-password")
	adminPrimary := mustSignIn(t, svc, admin.Email, "member-password")
	rec := httptest.NewRecorder()
	svc.AdminLoginHandler(rec, jsonRequest(http.MethodPost, "/admin/auth/login", `{"password":"Secret123"}`, adminPrimary))
	adminCookies := rec.Result().Cookies()

	tests := []struct {
		name       string
		cookies    []*http.Cookie
		failGet    bool
		wantStatus int
	}{
		{"anonymous", nil, false, http.StatusUnauthorized},
		{"member", memberCookies, false, http.StatusUnauthorized},
		{"admin_primary_fallback", adminPrimary, false, http.StatusNoContent},
		{"admin_session", adminCookies, false, http.StatusNoContent},
		{"storage_failure", adminCookies, true, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			storage.failGet = tt.failGet
			defer func() { storage.failGet = false }()

			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, requestWithCookies(http.MethodGet, "/admin/activities", tt.cookies))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusNoContent && (seen == nil || seen.ID != admin.ID) {
				t.Errorf("GetAdminFromContext() = %+v, want %s", seen, admin.ID)
			}
		})
	}
}

func TestUpdateAgentAccessHandler(t *testing.T) {
	svc, storage, _ := mustCreateTestAdminService(t)
	admin := mustCreateTestIdentity(t, storage, RoleAdmin, true)
	agent := mustCreateTestIdentity(t, storage, RoleMember, true)
	cookies := mustSignIn(t, svc, admin.Email, "member-password")

	if resp := svc.UpdateAgentAccessHandler(jsonRequest(http.MethodPatch, "/admin/agents/x", `{}`, nil), agent.ID); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("UpdateAgentAccessHandler() outside RequireAdmin status = %d, want 401", resp.StatusCode)
	}

	tests := []struct {
		name       string
		agentID    string
		body       string
		wantStatus int
	}{
		{"promote", agent.ID, `{"role":"admin","is_active":true}`, http.StatusOK},
		{"missing_active", agent.ID, `{"role":"admin"}`, http.StatusBadRequest},
		{"bad_role", agent.ID, `{"role":"owner","is_active":true}`, http.StatusBadRequest},
		{"unknown_agent", "no-such-agent", `{"role":"member","is_active":true}`, http.StatusNotFound},
		{"malformed_json", agent.ID, `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp AgentResponse
			handler := svc.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				resp = svc.UpdateAgentAccessHandler(r, tt.agentID)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), jsonRequest(http.MethodPatch, "/admin/agents/"+tt.agentID, tt.body, cookies))

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("UpdateAgentAccessHandler() status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, resp.Error)
			}
		})
	}

	if got := storage.identity(agent.ID).Role; got != RoleAdmin {
		t.Errorf("agent role = %s, want admin", got)
	}
}

func TestListHandlers(t *testing.T) {
	svc, storage, _ := mustCreateTestAdminService(t)
	for i := 0; i < 3; i++ {
		member := mustCreateTestIdentity(t, storage, RoleMember, true)
		mustSignIn(t, svc, member.Email, "member-password")
	}

	activities := svc.ListActivitiesHandler(httptest.NewRequest(http.MethodGet, "/admin/activities?limit=2", nil))
	if activities.StatusCode != http.StatusOK || len(activities.Activities) != 2 {
		t.Errorf("ListActivitiesHandler() = %d with %d entries, want 200 with 2", activities.StatusCode, len(activities.Activities))
	}

	agents := svc.ListAgentsHandler(httptest.NewRequest(http.MethodGet, "/admin/agents", nil))
	if agents.StatusCode != http.StatusOK || len(agents.Agents) != 3 {
		t.Errorf("ListAgentsHandler() = %d with %d agents, want 200 with 3", agents.StatusCode, len(agents.Agents))
	}
	for _, a := range agents.Agents {
		if a.PasswordHash != "" {
			t.Errorf("agent %s exposes its password hash", a.ID)
		}
	}
}

// TestAdminStepUpFlow walks one admin through sign-in, setup, step-up, an
// access check, demotion and logout.
func TestAdminStepUpFlow(t *testing.T) {
	ctx := context.Background()
	svc, storage, _ := mustCreateTestAdminService(t)

	admin, err := svc.RegisterIdentity(ctx, RegisterIdentityRequest{
		Email:    "Chief@Example.org",
		FullName: "Chief Organizer",
		Password: "member-password",
		Role:     RoleAdmin,
	})
	if err != nil {
		t.Fatalf("RegisterIdentity() error = %v", err)
	}

	primary := mustSignIn(t, svc, "chief@example.org", "member-password")

	if resp := svc.AdminSetupHandler(jsonRequest(http.MethodPost, "/admin/auth/setup",
		`{"password":"Secret123","confirm_password":"Secret123"}`, primary)); resp.StatusCode != http.StatusOK {
		t.Fatalf("AdminSetupHandler() status = %d (%s)", resp.StatusCode, resp.Error)
	}

	rec := httptest.NewRecorder()
	if resp := svc.AdminLoginHandler(rec, jsonRequest(http.MethodPost, "/admin/auth/login", `{"password":"Secret123"}`, primary)); resp.StatusCode != http.StatusOK {
		t.Fatalf("AdminLoginHandler() status = %d (%s)", resp.StatusCode, resp.Error)
	}
	all := append(slices.Clone(primary), rec.Result().Cookies()...)

	check := svc.AdminCheckHandler(requestWithCookies(http.MethodGet, "/admin/auth/check", all))
	if !check.Authorized || check.Via != ViaAdminSession || check.Identity.ID != admin.ID {
		t.Fatalf("AdminCheckHandler() = %+v, want admin session grant", check)
	}

	storage.setRole(admin.ID, RoleMember)
	check = svc.AdminCheckHandler(requestWithCookies(http.MethodGet, "/admin/auth/check", all))
	if check.Authorized || check.StatusCode != http.StatusForbidden {
		t.Errorf("AdminCheckHandler() after demotion = %+v, want 403", check)
	}
	storage.setRole(admin.ID, RoleAdmin)

	rec = httptest.NewRecorder()
	svc.AdminLogoutHandler(rec, requestWithCookies(http.MethodPost, "/admin/auth/logout", all))

	check = svc.AdminCheckHandler(requestWithCookies(http.MethodGet, "/admin/auth/check", all))
	if !check.Authorized || check.Via != ViaPrimarySession {
		t.Errorf("AdminCheckHandler() after admin logout = %+v, want primary session grant", check)
	}

	want := []string{
		ActivityAgentCreated,
		ActivityMemberLogin,
		ActivityAdminCredentialSetup,
		ActivityAdminAccess,
		ActivityAdminSessionCreated,
		ActivityAdminSessionDestroyed,
	}
	if got := storage.activityTypes(); !slices.Equal(got, want) {
		t.Errorf("activities = %v, want %v", got, want)
	}
}
