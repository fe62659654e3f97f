package manager

import (
	"context"
	"fmt"

	"townforge/internal/claim"
	"townforge/internal/protocol"
	"townforge/internal/user"
)

// Authorizer decides who may run cluster-admin operations. Ordinary
// town privileges are not consulted on this surface.
type Authorizer interface {
	IsClusterAdmin(u user.User) bool
}

// Admin carries privileged cross-town operations. Same shape as the
// player surfaces: mutate database, mutate registries, broadcast,
// notify.
type Admin struct {
	m    *Manager
	auth Authorizer
}

// SetAuthorizer installs the admin permission collaborator. With none
// installed every admin command is refused.
func (a *Admin) SetAuthorizer(auth Authorizer) { a.auth = auth }

func (a *Admin) allowed(u user.OnlineUser) bool {
	return a.auth != nil && a.auth.IsClusterAdmin(u.User())
}

// ForceDeleteTown disbands any town by name, bypassing the mayor check.
func (a *Admin) ForceDeleteTown(u user.OnlineUser, name string) {
	m := a.m
	m.runTask("force delete town", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if !a.allowed(u) {
			m.tell(u, "error_insufficient_privileges", name)
			return nil
		}
		tn, ok := m.deps.Towns.ByName(name)
		if !ok {
			m.tell(u, "error_user_not_found", name)
			return nil
		}

		if err := m.deps.DB.DeleteTown(ctx, tn.ID); err != nil {
			return fmt.Errorf("force delete town %d: %w", tn.ID, err)
		}
		m.deps.Towns.Remove(tn.ID)
		m.deps.Invites.DropTown(tn.ID)
		m.deps.Claims.WithAll(func(w *claim.World) {
			if w.RemoveTownClaims(tn.ID) > 0 {
				if err := m.deps.DB.UpdateClaimWorld(ctx, w); err != nil {
					m.deps.Log.Printf("persist claim world %s after forced delete of town %d: %v", w.ID, tn.ID, err)
				}
			}
		})
		m.broadcast(protocol.TypeTownDelete, protocol.Target{Scope: protocol.TargetAll}, tn.ID, tn.ID)
		m.tell(u, "town_deleted", tn.Name)
		return nil
	})
}

// ForceReleaseClaim removes whatever claim occupies the chunk.
func (a *Admin) ForceReleaseClaim(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk) {
	m := a.m
	m.runTask("force release claim", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if !a.allowed(u) {
			m.tell(u, "error_insufficient_privileges", string(world))
			return nil
		}

		var released *claim.Claim
		err := m.deps.Claims.With(world, func(w *claim.World) error {
			existing, ok := w.At(chunk)
			if !ok {
				m.tell(u, "error_claim_not_found")
				return nil
			}
			w.Remove(chunk)
			if err := m.deps.DB.UpdateClaimWorld(ctx, w); err != nil {
				w.Put(existing)
				return fmt.Errorf("persist claim world %s: %w", world, err)
			}
			released = existing
			return nil
		})
		if err != nil {
			return err
		}
		if released == nil {
			return nil
		}
		m.broadcast(protocol.TypeClaimDelete, protocol.Target{Scope: protocol.TargetAll},
			protocol.ClaimDeletePayload{World: string(world), ChunkX: chunk.X, ChunkZ: chunk.Z, TownID: released.TownID},
			released.TownID)
		m.tell(u, "claim_deleted", chunk.Key())
		return nil
	})
}
