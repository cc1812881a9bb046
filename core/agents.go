package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// RegisterIdentityRequest describes a new portal member.
type RegisterIdentityRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"max=200"`
	Password string `json:"password" validate:"required"`
	Role     Role   `json:"role" validate:"required,oneof=member admin"`
}

// RegisterIdentity creates an identity with a primary member password. Admin
// credential fields start empty; the setup flow populates them.
func (a *AdminService) RegisterIdentity(ctx context.Context, req RegisterIdentityRequest) (*Identity, error) {
	if err := a.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, formatValidationErrors(err))
	}
	if utf8.RuneCountInString(req.Password) < a.securityConfig.PasswordMinLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters long", ErrValidationFailed, a.securityConfig.PasswordMinLength)
	}

	existing, err := a.storage.GetIdentityByEmail(ctx, strings.ToLower(req.Email))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: email already registered", ErrValidationFailed)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := a.now()
	identity := &Identity{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(req.Email),
		FullName:     req.FullName,
		PasswordHash: passwordHash,
		Role:         req.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.storage.CreateIdentity(ctx, identity); err != nil {
		slog.Error("Failed to create identity", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	a.logActivity(ctx, identity.ID, ActivityAgentCreated, fmt.Sprintf("Agent %s created with role %s", identity.Email, identity.Role), "profile", identity.ID)
	slog.Info("Identity registered", "identity_id", identity.ID, "role", identity.Role)

	identity.PasswordHash = ""
	return identity, nil
}

// AgentAccessRequest changes the role and status of an agent.
type AgentAccessRequest struct {
	Role     Role  `json:"role" validate:"required,oneof=member admin"`
	IsActive *bool `json:"is_active" validate:"required"`
}

// UpdateAgentAccess changes an agent's role and active status on behalf of
// actorID. The change applies to the agent's next access check.
func (a *AdminService) UpdateAgentAccess(ctx context.Context, actorID, agentID string, req AgentAccessRequest) (*Identity, error) {
	if err := a.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, formatValidationErrors(err))
	}

	identity, err := a.storage.GetIdentityByID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}

	if err := a.storage.UpdateIdentityAccess(ctx, agentID, req.Role, *req.IsActive); err != nil {
		slog.Error("Failed to update agent access", "identity_id", agentID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	a.logActivity(ctx, actorID, ActivityAgentAccessUpdated,
		fmt.Sprintf("Agent access set to role=%s active=%t", req.Role, *req.IsActive), "profile", agentID)

	identity.Role = req.Role
	identity.IsActive = *req.IsActive
	identity.PasswordHash = ""
	return identity, nil
}

// ListAgents returns a page of identities.
func (a *AdminService) ListAgents(ctx context.Context, limit, offset int) ([]*Identity, error) {
	identities, err := a.storage.ListIdentities(ctx, normalizeLimit(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	for _, identity := range identities {
		identity.PasswordHash = ""
	}
	return identities, nil
}

// ListActivities returns a page of the audit log, newest first.
func (a *AdminService) ListActivities(ctx context.Context, limit, offset int) ([]*SystemActivity, error) {
	activities, err := a.storage.ListSystemActivities(ctx, normalizeLimit(limit), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return activities, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return min(limit, 500)
}
