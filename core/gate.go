package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// Evidence is what a caller presents to the access gate: an admin session
// descriptor, a primary member identity, both, or neither.
type Evidence struct {
	Admin   *AdminSession
	Primary *PrimaryIdentity
}

// AccessState classifies the evidence independently of which cookie or header
// carried it.
type AccessState int

const (
	StateNoSession AccessState = iota
	StatePrimaryOnly
	StateAdminOnly
	StatePrimaryPlusAdmin
)

func (s AccessState) String() string {
	switch s {
	case StatePrimaryOnly:
		return "primary_only"
	case StateAdminOnly:
		return "admin_only"
	case StatePrimaryPlusAdmin:
		return "primary_plus_admin"
	default:
		return "no_session"
	}
}

// State returns the gate state for the evidence.
func (e Evidence) State() AccessState {
	switch {
	case e.Admin != nil && e.Primary != nil:
		return StatePrimaryPlusAdmin
	case e.Admin != nil:
		return StateAdminOnly
	case e.Primary != nil:
		return StatePrimaryOnly
	default:
		return StateNoSession
	}
}

// AccessVia names the authority that granted access.
type AccessVia string

const (
	ViaNone           AccessVia = ""
	ViaAdminSession   AccessVia = "admin_session"
	ViaPrimarySession AccessVia = "primary_session"
)

// decideAccess is the gate transition function. The admin session is always
// tried first; the primary identity is only consulted when the admin session
// is missing or no longer qualifies.
func decideAccess(state AccessState, adminQualifies, primaryQualifies bool) AccessVia {
	switch state {
	case StatePrimaryPlusAdmin:
		if adminQualifies {
			return ViaAdminSession
		}
		if primaryQualifies {
			return ViaPrimarySession
		}
	case StateAdminOnly:
		if adminQualifies {
			return ViaAdminSession
		}
	case StatePrimaryOnly:
		if primaryQualifies {
			return ViaPrimarySession
		}
	}
	return ViaNone
}

// AccessIdentity is the identity an authorized caller acts as.
type AccessIdentity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AccessResult reports the decision of CheckAdminAccess.
type AccessResult struct {
	Authorized bool            `json:"authorized"`
	Identity   *AccessIdentity `json:"identity,omitempty"`
	Via        AccessVia       `json:"via,omitempty"`
	State      AccessState     `json:"-"`
	Error      string          `json:"error,omitempty"`
	Err        error           `json:"-"`
}

// CheckAdminAccess decides whether the caller is an authorized admin right now.
// Role and status are re-read from storage for every decision, and with
// TrackAdminSessions on the admin descriptor must match a live registry record.
func (a *AdminService) CheckAdminAccess(ctx context.Context, evidence Evidence) AccessResult {
	state := evidence.State()

	var (
		adminIdentity   *Identity
		primaryIdentity *Identity
		denyErr         error = ErrSessionAbsent
	)

	if evidence.Admin != nil {
		if err := a.currentAdminSession(ctx, evidence.Admin); err != nil {
			denyErr = err
		} else {
			identity, err := a.qualifyingIdentity(ctx, evidence.Admin.IdentityID)
			if err != nil {
				denyErr = err
			}
			adminIdentity = identity
		}
	}

	if adminIdentity == nil && evidence.Primary != nil && a.securityConfig.AllowPrimaryFallback {
		identity, err := a.qualifyingIdentity(ctx, evidence.Primary.ID)
		if err != nil && !errors.Is(denyErr, ErrPersistenceFailed) {
			denyErr = err
		}
		primaryIdentity = identity
	}

	via := decideAccess(state, adminIdentity != nil, primaryIdentity != nil)

	var granted *Identity
	switch via {
	case ViaAdminSession:
		granted = adminIdentity
	case ViaPrimarySession:
		granted = primaryIdentity
	default:
		slog.Debug("Admin access denied", "state", state, "reason", denyErr)
		return AccessResult{
			State: state,
			Error: a.UserMessage(denyErr),
			Err:   denyErr,
		}
	}

	return AccessResult{
		Authorized: true,
		Identity:   &AccessIdentity{ID: granted.ID, Email: granted.Email},
		Via:        via,
		State:      state,
	}
}

// currentAdminSession rejects an expired descriptor and, with tracking on, one
// the registry does not hold as live.
func (a *AdminService) currentAdminSession(ctx context.Context, session *AdminSession) error {
	now := a.now()
	if session.Expired(now) {
		slog.Debug("Ignoring expired admin session", "identity_id", session.IdentityID)
		return ErrSessionExpired
	}
	if !a.securityConfig.TrackAdminSessions {
		return nil
	}
	registered := *session
	return a.checkAdminSessionRecord(ctx, &registered, now)
}

// qualifyingIdentity returns the identity when it is currently an active admin.
// A nil identity comes with the reason it did not qualify.
func (a *AdminService) qualifyingIdentity(ctx context.Context, id string) (*Identity, error) {
	identity, err := a.storage.GetIdentityByID(ctx, id)
	if err != nil {
		slog.Error("Failed to load identity for access check", "identity_id", id, "error", err)
		return nil, ErrPersistenceFailed
	}
	switch {
	case identity == nil:
		return nil, ErrNotAuthorized
	case identity.Role != RoleAdmin:
		return nil, ErrNotAuthorized
	case !identity.IsActive:
		return nil, ErrAccountInactive
	}
	return identity, nil
}

// EvidenceFromRequest collects gate evidence from request cookies and headers.
func (a *AdminService) EvidenceFromRequest(ctx context.Context, r *http.Request) Evidence {
	var evidence Evidence

	if session, err := a.ReadAdminSessionFromRequest(ctx, r); err == nil {
		evidence.Admin = session
	}

	primary, err := a.primary.CurrentIdentity(r)
	if err != nil {
		slog.Error("Failed to resolve primary session", "error", err)
	} else {
		evidence.Primary = primary
	}

	return evidence
}

// AuthorizeRequest runs the access gate for an HTTP request.
func (a *AdminService) AuthorizeRequest(r *http.Request) AccessResult {
	return a.CheckAdminAccess(r.Context(), a.EvidenceFromRequest(r.Context(), r))
}
