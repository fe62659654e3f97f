package manager

import (
	"context"
	"errors"
	"fmt"

	"townforge/internal/claim"
	"townforge/internal/database"
	persistlog "townforge/internal/persistence/log"
	"townforge/internal/protocol"
	"townforge/internal/town"
)

// HandleMessage applies one broker message to the local registries.
// The origin already validated the mutation, so no business rules are
// re-checked here; what is checked is whether the mutation is still
// applicable, because delivery is at-least-once and unordered. Every
// branch is idempotent. Peers never write the shared database: the
// origin already did.
func (m *Manager) HandleMessage(msg protocol.Message) {
	m.runTask("inbound "+msg.Type, nil, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.audit(persistlog.Record{Direction: "in", Type: msg.Type, Origin: msg.Origin})
		switch msg.Type {
		case protocol.TypeTownUpdate:
			return m.applyTownUpdate(ctx, msg)
		case protocol.TypeTownDelete:
			return m.applyTownDelete(msg)
		case protocol.TypeInviteRequest:
			return m.applyInviteRequest(msg)
		case protocol.TypeClaimUpdate:
			return m.applyClaimUpdate(ctx, msg)
		case protocol.TypeClaimDelete:
			return m.applyClaimDelete(msg)
		default:
			m.deps.Log.Printf("unknown broker message type %q from %s", msg.Type, msg.Origin)
			return nil
		}
	})
}

// applyTownUpdate refreshes one town from the authoritative database.
// A stale update for a town that has since been deleted finds nothing
// in the database (or hits the local tombstone) and resurrects nothing.
func (m *Manager) applyTownUpdate(ctx context.Context, msg protocol.Message) error {
	id, err := msg.IntPayload()
	if err != nil {
		m.deps.Log.Printf("bad TOWN_UPDATE payload from %s: %v", msg.Origin, err)
		return nil
	}
	t, err := m.deps.DB.GetTown(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		m.deps.Towns.Remove(id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("refresh town %d: %w", id, err)
	}
	m.deps.Towns.Put(t)
	return nil
}

// applyTownDelete drops the town and its local claims. Receiving it
// again, or for a town never seen here, is a no-op.
func (m *Manager) applyTownDelete(msg protocol.Message) error {
	id, err := msg.IntPayload()
	if err != nil {
		m.deps.Log.Printf("bad TOWN_DELETE payload from %s: %v", msg.Origin, err)
		return nil
	}
	m.deps.Towns.Remove(id)
	m.deps.Invites.DropTown(id)
	m.deps.Claims.WithAll(func(w *claim.World) {
		w.RemoveTownClaims(id)
	})
	return nil
}

// applyInviteRequest delivers a cross-server invite if the target is
// online here. The relay broadcasts player-targeted messages to every
// server; the ones not hosting the player drop it.
func (m *Manager) applyInviteRequest(msg protocol.Message) error {
	var inv town.Invite
	if err := msg.DecodePayload(&inv); err != nil {
		m.deps.Log.Printf("bad INVITE_REQUEST payload from %s: %v", msg.Origin, err)
		return nil
	}
	local, ok := m.deps.Users.FindOnline(msg.Target.Selector)
	if !ok {
		return nil
	}
	m.towns.inboundInviteLocked(local, inv)
	return nil
}

// applyClaimUpdate upserts a claim. Claims of tombstoned towns are
// dropped: the claim broadcast raced a town deletion. A town id this
// process has never seen is different: with no cross-sender ordering
// on the bus, the claim can outrun the TOWN_UPDATE for a freshly
// created town, so the town is refreshed from the authoritative
// database before the claim is judged.
func (m *Manager) applyClaimUpdate(ctx context.Context, msg protocol.Message) error {
	var c claim.Claim
	if err := msg.DecodePayload(&c); err != nil {
		m.deps.Log.Printf("bad CLAIM_UPDATE payload from %s: %v", msg.Origin, err)
		return nil
	}
	if m.deps.Towns.Tombstoned(c.TownID) {
		return nil
	}
	if _, known := m.deps.Towns.Get(c.TownID); !known {
		t, err := m.deps.DB.GetTown(ctx, c.TownID)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("refresh town %d for inbound claim: %w", c.TownID, err)
		}
		m.deps.Towns.Put(t)
	}
	return m.deps.Claims.With(c.World, func(w *claim.World) error {
		w.Put(&c)
		return nil
	})
}

func (m *Manager) applyClaimDelete(msg protocol.Message) error {
	var p protocol.ClaimDeletePayload
	if err := msg.DecodePayload(&p); err != nil {
		m.deps.Log.Printf("bad CLAIM_DELETE payload from %s: %v", msg.Origin, err)
		return nil
	}
	if p.All {
		m.deps.Claims.WithAll(func(w *claim.World) {
			w.RemoveTownClaims(p.TownID)
		})
		return nil
	}
	return m.deps.Claims.With(claim.WorldID(p.World), func(w *claim.World) error {
		w.Remove(claim.Chunk{X: p.ChunkX, Z: p.ChunkZ})
		return nil
	})
}
