package auth

import (
	"errors"
	"testing"

	"draftclinic/internal/domain"
)

func TestGuards(t *testing.T) {
	client := domain.Actor{ID: "c1", Role: domain.RoleClient, Active: true}
	other := domain.Actor{ID: "c2", Role: domain.RoleClient, Active: true}
	admin := domain.Actor{ID: "a1", Role: domain.RoleAdmin, Active: true}
	super := domain.Actor{ID: "s1", Role: domain.RoleSuperAdmin, Active: true}
	rogue := domain.Actor{ID: "x1", Role: domain.Role("root"), Active: true}
	rq := domain.Request{ID: "r1", ClientID: "c1"}

	cases := []struct {
		name  string
		err   error
		allow bool
	}{
		{"staff/admin", RequireStaff(admin), true},
		{"staff/super", RequireStaff(super), true},
		{"staff/client", RequireStaff(client), false},
		{"staff/unknown", RequireStaff(rogue), false},
		{"super/super", RequireSuperAdmin(super), true},
		{"super/admin", RequireSuperAdmin(admin), false},
		{"client/client", RequireClient(client), true},
		{"client/admin", RequireClient(admin), false},
		{"owner/owner", RequireOwner(client, rq), true},
		{"owner/other", RequireOwner(other, rq), false},
		{"owner/admin", RequireOwner(admin, rq), false},
		{"participant/admin", RequireParticipant(admin, rq), true},
		{"participant/owner", RequireParticipant(client, rq), true},
		{"participant/other", RequireParticipant(other, rq), false},
		{"participant/unknown", RequireParticipant(rogue, rq), false},
		{"active/inactive", RequireActive(domain.Actor{ID: "i", Role: domain.RoleAdmin}), false},
		{"active/unknown", RequireActive(rogue), false},
		{"active/ok", RequireActive(client), true},
	}
	for _, c := range cases {
		if c.allow && c.err != nil {
			t.Fatalf("%s: expected allow, got %v", c.name, c.err)
		}
		if !c.allow {
			var authErr domain.AuthorizationError
			if !errors.As(c.err, &authErr) {
				t.Fatalf("%s: expected AuthorizationError, got %v", c.name, c.err)
			}
		}
	}
	if CanView(other, rq) {
		t.Fatalf("other client must not view request")
	}
}
