package manager_test

import (
	"context"
	"testing"

	"townforge/internal/claim"
	"townforge/internal/user"
)

// opAuthorizer grants cluster-admin to a fixed set of users.
type opAuthorizer struct {
	admins map[string]bool
}

func (a *opAuthorizer) IsClusterAdmin(u user.User) bool {
	return a.admins[u.Name]
}

func TestAdminForceDeleteTown(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1", "s2")
	s1, s2 := cluster[0], cluster[1]

	alice := newTestUser("alice")
	op := newTestUser("op")
	s1.users.connect(alice)
	s2.users.connect(op)
	s2.mgr.Admin().SetAuthorizer(&opAuthorizer{admins: map[string]bool{"op": true}})

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1, s2)
	s1.mgr.Claims().CreateClaim(alice, "overworld", claim.Chunk{X: 0, Z: 0})
	settle(s1, s2)
	avalon, _ := s1.towns.ByName("Avalon")

	// The operator is not the mayor and is not even on the same server.
	s2.mgr.Admin().ForceDeleteTown(op, "Avalon")
	settle(s1, s2)

	for _, s := range cluster {
		if _, ok := s.towns.Get(avalon.ID); ok {
			t.Fatalf("%s: town survived forced delete", s.name)
		}
		if got := s.claims.TownClaimCount(avalon.ID); got != 0 {
			t.Fatalf("%s: claims survived forced delete", s.name)
		}
	}
	if op.received("disbanded") != 1 {
		t.Fatalf("operator not notified")
	}
}

func TestAdminRefusedWithoutAuthorizer(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1")
	s1 := cluster[0]

	alice := newTestUser("alice")
	stranger := newTestUser("mallory")
	s1.users.connect(alice)
	s1.users.connect(stranger)

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1)

	// No authorizer installed: everything on the admin surface is refused.
	s1.mgr.Admin().ForceDeleteTown(stranger, "Avalon")
	settle(s1)

	if _, ok := s1.towns.ByName("Avalon"); !ok {
		t.Fatalf("unauthorized forced delete went through")
	}
	if stranger.received("lack the privilege") != 1 {
		t.Fatalf("refusal not reported")
	}
}

func TestAdminForceReleaseClaim(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1", "s2")
	s1, s2 := cluster[0], cluster[1]

	alice := newTestUser("alice")
	op := newTestUser("op")
	s1.users.connect(alice)
	s1.users.connect(op)
	s1.mgr.Admin().SetAuthorizer(&opAuthorizer{admins: map[string]bool{"op": true}})

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1, s2)
	chunk := claim.Chunk{X: 4, Z: 4}
	s1.mgr.Claims().CreateClaim(alice, "overworld", chunk)
	settle(s1, s2)

	s1.mgr.Admin().ForceReleaseClaim(op, "overworld", chunk)
	settle(s1, s2)

	for _, s := range cluster {
		if _, ok := s.claims.At("overworld", chunk); ok {
			t.Fatalf("%s: claim survived forced release", s.name)
		}
	}
}

func TestDisconnectDropsPendingInvites(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1")
	s1 := cluster[0]

	alice := newTestUser("alice")
	bob := newTestUser("bob")
	s1.users.connect(alice)
	s1.users.connect(bob)
	_ = db.SaveUser(context.Background(), bob.u)

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1)
	s1.mgr.Towns().InviteMember(alice, "bob")
	settle(s1)
	if s1.invites.Count(bob.u.ID) != 1 {
		t.Fatalf("invite not pending")
	}

	s1.mgr.HandleDisconnect(bob.u)
	settle(s1)
	if s1.invites.Count(bob.u.ID) != 0 {
		t.Fatalf("disconnect did not clear pending invites")
	}
}
