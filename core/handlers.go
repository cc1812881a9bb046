package core

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Request and Response Types

// AdminSetupResponse represents the response for admin password setup
type AdminSetupResponse struct {
	Success     bool              `json:"success"`
	FieldErrors map[string]string `json:"field_errors,omitempty"` // Per-field validation messages
	StatusCode  int               `json:"-"`                      // HTTP status code (not serialized)
	Error       string            `json:"error,omitempty"`        // Error message if any
}

// AdminLoginRequest represents the admin step-up login prompt
type AdminLoginRequest struct {
	Password string `json:"password"`
}

// AdminLoginResponse represents the response for admin step-up login
type AdminLoginResponse struct {
	Success    bool            `json:"success"`
	Identity   *AccessIdentity `json:"identity,omitempty"`   // Identity the admin session is bound to
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"` // When the admin session expires
	StatusCode int             `json:"-"`                    // HTTP status code (not serialized)
	Error      string          `json:"error,omitempty"`      // Error message if any
}

// AdminLogoutResponse represents the response for admin logout
type AdminLogoutResponse struct {
	Success    bool `json:"success"`
	StatusCode int  `json:"-"` // HTTP status code (not serialized)
}

// AdminCheckResponse represents the response for an access check
type AdminCheckResponse struct {
	Authorized bool            `json:"authorized"`
	Identity   *AccessIdentity `json:"identity,omitempty"`
	Via        AccessVia       `json:"via,omitempty"`
	StatusCode int             `json:"-"`               // HTTP status code (not serialized)
	Error      string          `json:"error,omitempty"` // Error message if any
}

// SignInResponse represents the response for member authentication
type SignInResponse struct {
	Token            string    `json:"token"`              // Session token for authentication
	Identity         *Identity `json:"identity"`           // Authenticated identity
	SessionExpiresAt time.Time `json:"session_expires_at"` // When the session expires
	StatusCode       int       `json:"-"`                  // HTTP status code (not serialized)
	Error            string    `json:"error,omitempty"`    // Error message if any
}

// LogoutResponse represents the response for member logout
type LogoutResponse struct {
	Message    string `json:"message"`         // Success message
	StatusCode int    `json:"-"`               // HTTP status code (not serialized)
	Error      string `json:"error,omitempty"` // Error message if any
}

// ActivitiesResponse represents a page of the audit log
type ActivitiesResponse struct {
	Activities []*SystemActivity `json:"activities"`
	StatusCode int               `json:"-"`               // HTTP status code (not serialized)
	Error      string            `json:"error,omitempty"` // Error message if any
}

// AgentsResponse represents a page of agents
type AgentsResponse struct {
	Agents     []*Identity `json:"agents"`
	StatusCode int         `json:"-"`               // HTTP status code (not serialized)
	Error      string      `json:"error,omitempty"` // Error message if any
}

// AgentResponse represents a single agent after an update
type AgentResponse struct {
	Agent      *Identity `json:"agent,omitempty"`
	StatusCode int       `json:"-"`               // HTTP status code (not serialized)
	Error      string    `json:"error,omitempty"` // Error message if any
}

// AdminSetupHandler sets up or rotates the admin password of the signed-in member
func (a *AdminService) AdminSetupHandler(r *http.Request) AdminSetupResponse {
	ctx := WithRequestMeta(r.Context(), r)

	primary, err := a.primary.CurrentIdentity(r)
	if err != nil {
		slog.Error("Failed to resolve primary session", "error", err)
		return AdminSetupResponse{StatusCode: http.StatusInternalServerError, Error: a.UserMessage(err)}
	}
	if primary == nil {
		return AdminSetupResponse{StatusCode: http.StatusUnauthorized, Error: a.UserMessage(ErrSessionAbsent)}
	}

	var req SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Debug("Failed to decode admin setup request", "error", err)
		return AdminSetupResponse{StatusCode: http.StatusBadRequest, Error: "Invalid request format"}
	}

	result := a.SetupAdminCredential(ctx, primary.ID, req.Password, req.ConfirmPassword)
	if !result.Success {
		return AdminSetupResponse{
			StatusCode:  statusForError(result.Err),
			FieldErrors: result.FieldErrors,
			Error:       result.Error,
		}
	}

	return AdminSetupResponse{StatusCode: http.StatusOK, Success: true}
}

// AdminLoginHandler verifies the admin password of the signed-in member and
// issues the admin session cookies
func (a *AdminService) AdminLoginHandler(w http.ResponseWriter, r *http.Request) AdminLoginResponse {
	ctx := WithRequestMeta(r.Context(), r)

	primary, err := a.primary.CurrentIdentity(r)
	if err != nil {
		slog.Error("Failed to resolve primary session", "error", err)
		return AdminLoginResponse{StatusCode: http.StatusInternalServerError, Error: a.UserMessage(err)}
	}
	if primary == nil {
		return AdminLoginResponse{StatusCode: http.StatusUnauthorized, Error: a.UserMessage(ErrSessionAbsent)}
	}

	var req AdminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Debug("Failed to decode admin login request", "error", err)
		return AdminLoginResponse{StatusCode: http.StatusBadRequest, Error: "Invalid request format"}
	}

	result := a.CreateAdminSession(ctx, primary.ID, primary.Email, req.Password)
	if !result.Success {
		return AdminLoginResponse{StatusCode: statusForError(result.Err), Error: result.Error}
	}

	if err := a.WriteAdminSessionCookies(w, result.Session); err != nil {
		slog.Error("Failed to write admin session cookies", "error", err)
		return AdminLoginResponse{StatusCode: http.StatusInternalServerError, Error: a.UserMessage(err)}
	}

	return AdminLoginResponse{
		StatusCode: http.StatusOK,
		Success:    true,
		Identity:   &AccessIdentity{ID: result.Session.IdentityID, Email: result.Session.Email},
		ExpiresAt:  &result.ExpiresAt,
	}
}

// AdminLogoutHandler ends the admin session. It always succeeds.
func (a *AdminService) AdminLogoutHandler(w http.ResponseWriter, r *http.Request) AdminLogoutResponse {
	ctx := WithRequestMeta(r.Context(), r)

	var session *AdminSession
	if cookie, err := r.Cookie(AdminSessionCookie); err == nil {
		// Expired or revoked descriptors still identify the record to revoke
		if decoded, err := DecodeAdminSession(cookie.Value); err == nil {
			session = decoded
		}
	}

	result := a.DestroyAdminSession(ctx, session)
	a.ClearAdminSessionCookies(w)

	return AdminLogoutResponse{StatusCode: http.StatusOK, Success: result.Success}
}

// AdminCheckHandler reports whether the caller is currently an authorized admin
func (a *AdminService) AdminCheckHandler(r *http.Request) AdminCheckResponse {
	result := a.AuthorizeRequest(r)
	if !result.Authorized {
		return AdminCheckResponse{StatusCode: statusForError(result.Err), Error: result.Error}
	}
	return AdminCheckResponse{
		StatusCode: http.StatusOK,
		Authorized: true,
		Identity:   result.Identity,
		Via:        result.Via,
	}
}

// SignInHandler processes member authentication requests
func (a *AdminService) SignInHandler(w http.ResponseWriter, r *http.Request) SignInResponse {
	ctx := WithRequestMeta(r.Context(), r)

	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Debug("Failed to decode signin request", "error", err)
		return SignInResponse{StatusCode: http.StatusBadRequest, Error: "Invalid request format"}
	}

	session, identity, err := a.SignInMember(ctx, req.Email, req.Password)
	if err != nil {
		resp := SignInResponse{StatusCode: statusForError(err), Error: a.UserMessage(err)}
		if errors.Is(err, ErrValidationFailed) {
			resp.Error = formatValidationMessage(err)
		}
		return resp
	}

	a.WriteMemberSessionCookie(w, session)

	return SignInResponse{
		StatusCode:       http.StatusOK,
		Token:            session.Token,
		Identity:         identity,
		SessionExpiresAt: session.ExpiresAt,
	}
}

// LogoutHandler processes member logout requests
func (a *AdminService) LogoutHandler(w http.ResponseWriter, r *http.Request) LogoutResponse {
	ctx := WithRequestMeta(r.Context(), r)

	token := extractTokenFromRequest(r)
	if token == "" {
		return LogoutResponse{StatusCode: http.StatusBadRequest, Error: "No token provided"}
	}

	if err := a.SignOutMember(ctx, token); err != nil {
		slog.Error("Failed to delete session", "error", err)
		return LogoutResponse{StatusCode: http.StatusInternalServerError, Error: a.UserMessage(err)}
	}

	a.ClearMemberSessionCookie(w)
	return LogoutResponse{StatusCode: http.StatusOK, Message: "Successfully logged out"}
}

// ListActivitiesHandler returns a page of the audit log
func (a *AdminService) ListActivitiesHandler(r *http.Request) ActivitiesResponse {
	limit, offset := pageFromRequest(r)
	activities, err := a.ListActivities(r.Context(), limit, offset)
	if err != nil {
		slog.Error("Failed to list activities", "error", err)
		return ActivitiesResponse{StatusCode: http.StatusInternalServerError, Error: a.UserMessage(err)}
	}
	return ActivitiesResponse{StatusCode: http.StatusOK, Activities: activities}
}

// ListAgentsHandler returns a page of agents
func (a *AdminService) ListAgentsHandler(r *http.Request) AgentsResponse {
	limit, offset := pageFromRequest(r)
	agents, err := a.ListAgents(r.Context(), limit, offset)
	if err != nil {
		slog.Error("Failed to list agents", "error", err)
		return AgentsResponse{StatusCode: http.StatusInternalServerError, Error: a.UserMessage(err)}
	}
	return AgentsResponse{StatusCode: http.StatusOK, Agents: agents}
}

// UpdateAgentAccessHandler changes an agent's role and status. It must run
// behind RequireAdmin.
func (a *AdminService) UpdateAgentAccessHandler(r *http.Request, agentID string) AgentResponse {
	ctx := WithRequestMeta(r.Context(), r)

	admin := GetAdminFromContext(r)
	if admin == nil {
		return AgentResponse{StatusCode: http.StatusUnauthorized, Error: a.UserMessage(ErrSessionAbsent)}
	}

	var req AgentAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Debug("Failed to decode agent access request", "error", err)
		return AgentResponse{StatusCode: http.StatusBadRequest, Error: "Invalid request format"}
	}

	agent, err := a.UpdateAgentAccess(ctx, admin.ID, agentID, req)
	if err != nil {
		resp := AgentResponse{StatusCode: statusForError(err), Error: a.UserMessage(err)}
		if errors.Is(err, ErrValidationFailed) {
			resp.Error = formatValidationMessage(err)
		}
		return resp
	}

	slog.Info("Agent access updated", "actor_id", admin.ID, "agent_id", agentID, "role", agent.Role, "active", agent.IsActive)
	return AgentResponse{StatusCode: http.StatusOK, Agent: agent}
}

// statusForError maps a package error to an HTTP status code
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrIdentityNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotAuthorized), errors.Is(err, ErrNotAnAdminRole), errors.Is(err, ErrAccountInactive):
		return http.StatusForbidden
	case errors.Is(err, ErrNotConfigured):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidPassword), errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrSessionAbsent), errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// formatValidationMessage strips the sentinel prefix from a validation error
func formatValidationMessage(err error) string {
	msg := err.Error()
	prefix := ErrValidationFailed.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

func pageFromRequest(r *http.Request) (limit, offset int) {
	query := r.URL.Query()
	limit, _ = strconv.Atoi(query.Get("limit"))
	offset, _ = strconv.Atoi(query.Get("offset"))
	return limit, offset
}
