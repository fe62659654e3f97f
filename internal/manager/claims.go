package manager

import (
	"context"
	"errors"
	"fmt"

	"townforge/internal/claim"
	"townforge/internal/database"
	"townforge/internal/protocol"
	"townforge/internal/town"
	"townforge/internal/user"
)

// Claims handles claim creation, deletion and reclassification.
type Claims struct {
	m *Manager
}

// CreateClaim claims the chunk for the caller's town. Fails without any
// mutation when the chunk is already claimed.
func (c *Claims) CreateClaim(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk) {
	m := c.m
	m.runTask("create claim", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		tn, ok := m.deps.Towns.UserTown(u.User().ID)
		if !ok {
			m.tell(u, "error_not_in_town")
			return nil
		}
		if !tn.HasPrivilege(u.User().ID, town.PrivilegeClaim) {
			m.tell(u, "error_insufficient_privileges", tn.Name)
			return nil
		}
		if max := m.deps.Config.MaxClaimsPerTown; max > 0 && m.deps.Claims.TownClaimCount(tn.ID) >= max {
			m.tell(u, "error_claim_limit")
			return nil
		}

		var created *claim.Claim
		err := m.deps.Claims.With(world, func(w *claim.World) error {
			if existing, ok := w.At(chunk); ok {
				m.tell(u, "error_chunk_claimed", m.towns.townName(existing.TownID))
				return nil
			}
			nc := &claim.Claim{World: world, Chunk: chunk, TownID: tn.ID, Type: claim.TypeRegular}
			w.Put(nc)
			if err := m.deps.DB.UpdateClaimWorld(ctx, w); err != nil {
				w.Remove(chunk)
				return fmt.Errorf("persist claim world %s: %w", world, err)
			}
			created = nc
			return nil
		})
		if err != nil {
			return err
		}
		if created == nil {
			return nil
		}
		m.broadcast(protocol.TypeClaimUpdate, protocol.Target{Scope: protocol.TargetAll}, created, tn.ID)
		m.tell(u, "claim_created", chunk.Key())
		return nil
	})
}

// DeleteClaim releases a single chunk owned by the caller's town.
func (c *Claims) DeleteClaim(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk) {
	m := c.m
	m.runTask("delete claim", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		tn, ok := m.deps.Towns.UserTown(u.User().ID)
		if !ok {
			m.tell(u, "error_not_in_town")
			return nil
		}
		if !tn.HasPrivilege(u.User().ID, town.PrivilegeClaim) {
			m.tell(u, "error_insufficient_privileges", tn.Name)
			return nil
		}

		deleted := false
		err := m.deps.Claims.With(world, func(w *claim.World) error {
			existing, ok := w.At(chunk)
			if !ok {
				m.tell(u, "error_claim_not_found")
				return nil
			}
			if existing.TownID != tn.ID {
				m.tell(u, "error_claim_not_yours", m.towns.townName(existing.TownID))
				return nil
			}
			w.Remove(chunk)
			if err := m.deps.DB.UpdateClaimWorld(ctx, w); err != nil {
				w.Put(existing)
				return fmt.Errorf("persist claim world %s: %w", world, err)
			}
			deleted = true
			return nil
		})
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
		m.broadcast(protocol.TypeClaimDelete, protocol.Target{Scope: protocol.TargetAll},
			protocol.ClaimDeletePayload{World: string(world), ChunkX: chunk.X, ChunkZ: chunk.Z, TownID: tn.ID}, tn.ID)
		m.tell(u, "claim_deleted", chunk.Key())
		return nil
	})
}

// DeleteAllClaims releases every claim the caller's town owns in every
// world. Mayor only; worlds whose claim count did not change are not
// rewritten.
func (c *Claims) DeleteAllClaims(u user.OnlineUser) {
	m := c.m
	m.runTask("delete all claims", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		tn, ok := m.deps.Towns.UserTown(u.User().ID)
		if !ok {
			m.tell(u, "error_not_in_town")
			return nil
		}
		if tn.Mayor != u.User().ID {
			m.tell(u, "error_not_town_mayor", tn.Name)
			return nil
		}

		removed := 0
		m.deps.Claims.WithAll(func(w *claim.World) {
			if n := w.RemoveTownClaims(tn.ID); n > 0 {
				removed += n
				if err := m.deps.DB.UpdateClaimWorld(ctx, w); err != nil {
					m.deps.Log.Printf("persist claim world %s after clearing town %d: %v", w.ID, tn.ID, err)
				}
			}
		})

		m.broadcast(protocol.TypeClaimDelete, protocol.Target{Scope: protocol.TargetAll},
			protocol.ClaimDeletePayload{TownID: tn.ID, All: true}, tn.ID)
		m.tell(u, "claims_cleared", fmt.Sprintf("%d", removed))
		return nil
	})
}

// MakeClaimPlot reclassifies a claim as a plot.
func (c *Claims) MakeClaimPlot(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk) {
	c.retype(u, world, chunk, claim.TypePlot)
}

// MakeClaimFarm reclassifies a claim as a farm.
func (c *Claims) MakeClaimFarm(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk) {
	c.retype(u, world, chunk, claim.TypeFarm)
}

// MakeClaimRegular reclassifies a claim back to a regular claim.
func (c *Claims) MakeClaimRegular(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk) {
	c.retype(u, world, chunk, claim.TypeRegular)
}

func (c *Claims) retype(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk, newType claim.Type) {
	m := c.m
	m.runTask("retype claim", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		tn, ok := m.deps.Towns.UserTown(u.User().ID)
		if !ok {
			m.tell(u, "error_not_in_town")
			return nil
		}
		if !tn.HasPrivilege(u.User().ID, town.PrivilegePlot) {
			m.tell(u, "error_insufficient_privileges", tn.Name)
			return nil
		}

		var changed *claim.Claim
		err := m.deps.Claims.With(world, func(w *claim.World) error {
			existing, ok := w.At(chunk)
			if !ok {
				m.tell(u, "error_claim_not_found")
				return nil
			}
			if existing.TownID != tn.ID {
				m.tell(u, "error_claim_not_yours", m.towns.townName(existing.TownID))
				return nil
			}
			prev := existing.Clone()
			existing.SetType(newType)
			if err := m.deps.DB.UpdateClaimWorld(ctx, w); err != nil {
				w.Put(prev)
				return fmt.Errorf("persist claim world %s: %w", world, err)
			}
			changed = existing.Clone()
			return nil
		})
		if err != nil {
			return err
		}
		if changed == nil {
			return nil
		}
		m.broadcast(protocol.TypeClaimUpdate, protocol.Target{Scope: protocol.TargetAll}, changed, tn.ID)
		m.tell(u, "claim_retyped", chunk.Key(), string(newType))
		return nil
	})
}

// AddPlotMember grants a player build access on a plot claim.
func (c *Claims) AddPlotMember(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk, target string) {
	c.mutatePlotMember(u, world, chunk, target, true)
}

// RemovePlotMember revokes a player's build access on a plot claim.
func (c *Claims) RemovePlotMember(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk, target string) {
	c.mutatePlotMember(u, world, chunk, target, false)
}

func (c *Claims) mutatePlotMember(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk, target string, add bool) {
	m := c.m
	m.runTask("plot member", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		tn, ok := m.deps.Towns.UserTown(u.User().ID)
		if !ok {
			m.tell(u, "error_not_in_town")
			return nil
		}
		if !tn.HasPrivilege(u.User().ID, town.PrivilegePlot) {
			m.tell(u, "error_insufficient_privileges", tn.Name)
			return nil
		}

		granted, err := m.deps.DB.GetUser(ctx, target)
		if errors.Is(err, database.ErrNotFound) {
			m.tell(u, "error_user_not_found", target)
			return nil
		}
		if err != nil {
			return fmt.Errorf("look up %q: %w", target, err)
		}

		var changed *claim.Claim
		err = m.deps.Claims.With(world, func(w *claim.World) error {
			existing, ok := w.At(chunk)
			if !ok {
				m.tell(u, "error_claim_not_found")
				return nil
			}
			if existing.TownID != tn.ID {
				m.tell(u, "error_claim_not_yours", m.towns.townName(existing.TownID))
				return nil
			}
			if existing.Type != claim.TypePlot {
				m.tell(u, "error_not_a_plot")
				return nil
			}
			prev := existing.Clone()
			var mutated bool
			if add {
				mutated = existing.AddPlotMember(granted.ID)
			} else {
				mutated = existing.RemovePlotMember(granted.ID)
			}
			if !mutated {
				// Remove of someone who never had access.
				m.tell(u, "error_user_not_found", granted.Name)
				return nil
			}
			if err := m.deps.DB.UpdateClaimWorld(ctx, w); err != nil {
				w.Put(prev)
				return fmt.Errorf("persist claim world %s: %w", world, err)
			}
			changed = existing.Clone()
			return nil
		})
		if err != nil {
			return err
		}
		if changed == nil {
			return nil
		}
		m.broadcast(protocol.TypeClaimUpdate, protocol.Target{Scope: protocol.TargetAll}, changed, tn.ID)
		if add {
			m.tell(u, "plot_member_added", granted.Name)
		} else {
			m.tell(u, "plot_member_removed", granted.Name)
		}
		return nil
	})
}
