// Package auth holds the role and ownership guards used by engine operations.
package auth

import (
	"fmt"

	"draftclinic/internal/domain"
)

func deny(a domain.Actor, reason string) error {
	return domain.AuthorizationError{ActorID: a.ID, Reason: reason}
}

// RequireActive rejects deactivated actors and unknown roles.
func RequireActive(a domain.Actor) error {
	if !a.Active {
		return deny(a, "account is inactive")
	}
	if !a.Role.Valid() {
		return deny(a, fmt.Sprintf("unknown role %q", a.Role))
	}
	return nil
}

func RequireStaff(a domain.Actor) error {
	switch a.Role {
	case domain.RoleAdmin, domain.RoleSuperAdmin:
		return nil
	case domain.RoleClient:
		return deny(a, "staff role required")
	}
	return deny(a, fmt.Sprintf("unknown role %q", a.Role))
}

func RequireSuperAdmin(a domain.Actor) error {
	switch a.Role {
	case domain.RoleSuperAdmin:
		return nil
	case domain.RoleAdmin, domain.RoleClient:
		return deny(a, "super admin role required")
	}
	return deny(a, fmt.Sprintf("unknown role %q", a.Role))
}

func RequireClient(a domain.Actor) error {
	switch a.Role {
	case domain.RoleClient:
		return nil
	case domain.RoleAdmin, domain.RoleSuperAdmin:
		return deny(a, "client role required")
	}
	return deny(a, fmt.Sprintf("unknown role %q", a.Role))
}

// RequireOwner admits only the client that submitted rq.
func RequireOwner(a domain.Actor, rq domain.Request) error {
	if err := RequireClient(a); err != nil {
		return err
	}
	if rq.ClientID != a.ID {
		return deny(a, "request belongs to another client")
	}
	return nil
}

// RequireParticipant admits staff and the owning client.
func RequireParticipant(a domain.Actor, rq domain.Request) error {
	switch a.Role {
	case domain.RoleAdmin, domain.RoleSuperAdmin:
		return nil
	case domain.RoleClient:
		if rq.ClientID == a.ID {
			return nil
		}
		return deny(a, "request belongs to another client")
	}
	return deny(a, fmt.Sprintf("unknown role %q", a.Role))
}

// CanView reports whether a may see rq at all. Callers hide requests a
// cannot view behind a not-found error.
func CanView(a domain.Actor, rq domain.Request) bool {
	return RequireParticipant(a, rq) == nil
}
