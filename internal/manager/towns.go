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

// Towns handles the town lifecycle: creation, deletion, membership and
// the invite workflow.
type Towns struct {
	m *Manager
}

// CreateTown founds a new town with the caller as mayor. Validation
// failures stop before any database write or broadcast.
func (t *Towns) CreateTown(u user.OnlineUser, name string) {
	m := t.m
	m.runTask("create town", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok := m.deps.Towns.UserTown(u.User().ID); ok {
			m.tell(u, "error_already_in_town")
			return nil
		}
		if !m.deps.Validator.ValidTownName(name) {
			m.tell(u, "error_invalid_town_name")
			return nil
		}
		if m.deps.Towns.NameInUse(name) {
			m.tell(u, "error_town_name_taken", name)
			return nil
		}

		created, err := m.deps.DB.CreateTown(ctx, name, u.User())
		switch {
		case errors.Is(err, database.ErrTownNameTaken):
			// A peer grabbed the name since our last refresh.
			m.tell(u, "error_town_name_taken", name)
			return nil
		case errors.Is(err, database.ErrUserAlreadyMember):
			m.tell(u, "error_already_in_town")
			return nil
		case err != nil:
			return fmt.Errorf("create town %q: %w", name, err)
		}

		m.deps.Towns.Put(created)
		m.broadcast(protocol.TypeTownUpdate, protocol.Target{Scope: protocol.TargetAll}, created.ID, created.ID)
		m.tell(u, "town_created", created.Name)
		return nil
	})
}

// DeleteTown disbands the caller's town and releases every claim it
// owns in every world, persisting only worlds that actually changed.
func (t *Towns) DeleteTown(u user.OnlineUser) {
	m := t.m
	m.runTask("delete town", u, func(ctx context.Context) error {
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

		if err := m.deps.DB.DeleteTown(ctx, tn.ID); err != nil {
			return fmt.Errorf("delete town %d: %w", tn.ID, err)
		}
		m.deps.Towns.Remove(tn.ID)
		m.deps.Invites.DropTown(tn.ID)
		m.deps.Claims.WithAll(func(w *claim.World) {
			if w.RemoveTownClaims(tn.ID) > 0 {
				if err := m.deps.DB.UpdateClaimWorld(ctx, w); err != nil {
					m.deps.Log.Printf("persist claim world %s after town %d delete: %v", w.ID, tn.ID, err)
				}
			}
		})

		m.broadcast(protocol.TypeTownDelete, protocol.Target{Scope: protocol.TargetAll}, tn.ID, tn.ID)
		m.tell(u, "town_deleted", tn.Name)
		return nil
	})
}

// InviteMember offers town membership to the named player. Local
// targets get the invite in-process; remote targets get it through the
// bus, addressed to them by name.
func (t *Towns) InviteMember(u user.OnlineUser, target string) {
	m := t.m
	m.runTask("invite member", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		tn, ok := m.deps.Towns.UserTown(u.User().ID)
		if !ok {
			m.tell(u, "error_not_in_town")
			return nil
		}
		if !tn.HasPrivilege(u.User().ID, town.PrivilegeInvite) {
			m.tell(u, "error_insufficient_privileges", tn.Name)
			return nil
		}

		invited, err := m.deps.DB.GetUser(ctx, target)
		if errors.Is(err, database.ErrNotFound) {
			m.tell(u, "error_user_not_found", target)
			return nil
		}
		if err != nil {
			return fmt.Errorf("look up %q: %w", target, err)
		}
		if _, ok := m.deps.Towns.UserTown(invited.ID); ok {
			m.tell(u, "error_other_already_in_town")
			return nil
		}

		inv := town.NewInvite(tn.ID, u.User(), invited.Name)
		if local, ok := m.deps.Users.FindOnline(invited.Name); ok {
			t.inboundInviteLocked(local, inv)
		} else {
			if !m.deps.Config.CrossServer {
				// No bus, no way to reach them.
				m.tell(u, "error_user_not_found", target)
				return nil
			}
			m.broadcast(protocol.TypeInviteRequest,
				protocol.Target{Scope: protocol.TargetPlayer, Selector: invited.Name}, inv, tn.ID)
		}

		m.tell(u, "invite_sent", invited.Name, tn.Name)
		return nil
	})
}

// HandleInboundInvite delivers an invite to a locally connected player,
// whether it originated here or arrived over the bus. Between send and
// receipt the town may have vanished or the target may have joined a
// town, so both are re-checked.
func (t *Towns) HandleInboundInvite(u user.OnlineUser, inv town.Invite) {
	m := t.m
	m.runTask("inbound invite", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		t.inboundInviteLocked(u, inv)
		return nil
	})
}

func (t *Towns) inboundInviteLocked(u user.OnlineUser, inv town.Invite) {
	m := t.m
	tn, ok := m.deps.Towns.Get(inv.TownID)
	if !ok {
		return
	}
	if _, ok := m.deps.Towns.UserTown(u.User().ID); ok {
		return
	}
	m.deps.Invites.Add(u.User().ID, inv)
	m.tell(u, "invite_received", inv.Sender.Name, tn.Name)
	m.tell(u, "invite_buttons", inv.Sender.Name)
}

// HandleInviteReply consumes the caller's most relevant pending invite,
// optionally picked by sender name. Accepted or declined, the invite is
// gone afterwards and can never match a later reply.
func (t *Towns) HandleInviteReply(u user.OnlineUser, accepted bool, selectedInviter string) {
	m := t.m
	m.runTask("invite reply", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		inv, ok := m.deps.Invites.Take(u.User().ID, selectedInviter)
		if !ok {
			m.tell(u, "error_no_invites")
			return nil
		}
		if !accepted {
			m.tell(u, "invite_declined", inv.Sender.Name)
			return nil
		}

		tn, ok := m.deps.Towns.Get(inv.TownID)
		if !ok {
			m.tell(u, "error_town_gone")
			return nil
		}
		if _, ok := m.deps.Towns.UserTown(u.User().ID); ok {
			m.tell(u, "error_already_in_town")
			return nil
		}

		err := m.deps.DB.CreateMember(ctx, tn.ID, u.User().ID, town.BaselinePrivileges())
		if errors.Is(err, database.ErrUserAlreadyMember) {
			// Lost a cross-server race: another process accepted this
			// user into a town after our local check.
			m.tell(u, "error_already_in_town")
			return nil
		}
		if err != nil {
			return fmt.Errorf("accept invite into town %d: %w", tn.ID, err)
		}

		m.deps.Towns.Mutate(tn.ID, func(live *town.Town) {
			live.AddMember(u.User().ID, town.BaselinePrivileges())
		})
		m.broadcast(protocol.TypeTownUpdate, protocol.Target{Scope: protocol.TargetAll}, tn.ID, tn.ID)
		m.tell(u, "invite_accepted", tn.Name)
		return nil
	})
}

// RemoveMember evicts a member from the caller's town.
func (t *Towns) RemoveMember(u user.OnlineUser, target string) {
	m := t.m
	m.runTask("remove member", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		tn, ok := m.deps.Towns.UserTown(u.User().ID)
		if !ok {
			m.tell(u, "error_not_in_town")
			return nil
		}
		if !tn.HasPrivilege(u.User().ID, town.PrivilegeEvict) {
			m.tell(u, "error_insufficient_privileges", tn.Name)
			return nil
		}

		evicted, err := m.deps.DB.GetUser(ctx, target)
		if errors.Is(err, database.ErrNotFound) {
			m.tell(u, "error_user_not_found", target)
			return nil
		}
		if err != nil {
			return fmt.Errorf("look up %q: %w", target, err)
		}
		if !tn.Member(evicted.ID) {
			m.tell(u, "error_user_not_found", target)
			return nil
		}
		if evicted.ID == tn.Mayor {
			m.tell(u, "error_not_town_mayor", tn.Name)
			return nil
		}

		if err := m.deps.DB.DeleteMember(ctx, evicted.ID); err != nil {
			return fmt.Errorf("remove member %s: %w", evicted.ID, err)
		}
		m.deps.Towns.Mutate(tn.ID, func(live *town.Town) {
			live.RemoveMember(evicted.ID)
		})
		m.broadcast(protocol.TypeTownUpdate, protocol.Target{Scope: protocol.TargetAll}, tn.ID, tn.ID)
		m.tell(u, "member_removed", evicted.Name)
		if local, ok := m.deps.Users.FindOnline(evicted.Name); ok {
			m.tell(local, "member_left_notice", tn.Name)
		}
		return nil
	})
}

// RenameTown changes the town's name. Mayor only; the new name passes
// the same format and uniqueness gates as creation.
func (t *Towns) RenameTown(u user.OnlineUser, newName string) {
	m := t.m
	m.runTask("rename town", u, func(ctx context.Context) error {
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
		if !m.deps.Validator.ValidTownName(newName) {
			m.tell(u, "error_invalid_town_name")
			return nil
		}
		if m.deps.Towns.NameInUse(newName) {
			m.tell(u, "error_town_name_taken", newName)
			return nil
		}

		tn.Name = newName
		err := m.deps.DB.UpdateTown(ctx, tn)
		if errors.Is(err, database.ErrTownNameTaken) {
			m.tell(u, "error_town_name_taken", newName)
			return nil
		}
		if err != nil {
			return fmt.Errorf("rename town %d: %w", tn.ID, err)
		}
		m.deps.Towns.Mutate(tn.ID, func(live *town.Town) { live.Name = newName })
		m.broadcast(protocol.TypeTownUpdate, protocol.Target{Scope: protocol.TargetAll}, tn.ID, tn.ID)
		m.tell(u, "town_renamed", newName)
		return nil
	})
}

// SetTownSpawn points the town spawn at a chunk the town has claimed.
func (t *Towns) SetTownSpawn(u user.OnlineUser, world claim.WorldID, chunk claim.Chunk) {
	m := t.m
	m.runTask("set town spawn", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		tn, ok := m.deps.Towns.UserTown(u.User().ID)
		if !ok {
			m.tell(u, "error_not_in_town")
			return nil
		}
		if !tn.HasPrivilege(u.User().ID, town.PrivilegeSetSpawn) {
			m.tell(u, "error_insufficient_privileges", tn.Name)
			return nil
		}
		c, ok := m.deps.Claims.At(world, chunk)
		if !ok {
			m.tell(u, "error_claim_not_found")
			return nil
		}
		if c.TownID != tn.ID {
			m.tell(u, "error_claim_not_yours", t.townName(c.TownID))
			return nil
		}

		tn.Spawn = &town.Spawn{World: world, Chunk: chunk}
		if err := m.deps.DB.UpdateTown(ctx, tn); err != nil {
			return fmt.Errorf("set spawn for town %d: %w", tn.ID, err)
		}
		m.deps.Towns.Mutate(tn.ID, func(live *town.Town) { live.Spawn = tn.Spawn })
		m.broadcast(protocol.TypeTownUpdate, protocol.Target{Scope: protocol.TargetAll}, tn.ID, tn.ID)
		m.tell(u, "town_spawn_set")
		return nil
	})
}

// ClearTownSpawn removes the town spawn.
func (t *Towns) ClearTownSpawn(u user.OnlineUser) {
	m := t.m
	m.runTask("clear town spawn", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		tn, ok := m.deps.Towns.UserTown(u.User().ID)
		if !ok {
			m.tell(u, "error_not_in_town")
			return nil
		}
		if !tn.HasPrivilege(u.User().ID, town.PrivilegeSetSpawn) {
			m.tell(u, "error_insufficient_privileges", tn.Name)
			return nil
		}

		tn.Spawn = nil
		if err := m.deps.DB.UpdateTown(ctx, tn); err != nil {
			return fmt.Errorf("clear spawn for town %d: %w", tn.ID, err)
		}
		m.deps.Towns.Mutate(tn.ID, func(live *town.Town) { live.Spawn = nil })
		m.broadcast(protocol.TypeTownUpdate, protocol.Target{Scope: protocol.TargetAll}, tn.ID, tn.ID)
		m.tell(u, "town_spawn_cleared")
		return nil
	})
}

// DepositTownBank adds to the town's balance.
func (t *Towns) DepositTownBank(u user.OnlineUser, amount int64) {
	m := t.m
	m.runTask("deposit town bank", u, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		tn, ok := m.deps.Towns.UserTown(u.User().ID)
		if !ok {
			m.tell(u, "error_not_in_town")
			return nil
		}
		if !tn.HasPrivilege(u.User().ID, town.PrivilegeManageBank) {
			m.tell(u, "error_insufficient_privileges", tn.Name)
			return nil
		}
		if amount <= 0 {
			m.tell(u, "error_invalid_amount")
			return nil
		}

		tn.Bank += amount
		if err := m.deps.DB.UpdateTown(ctx, tn); err != nil {
			return fmt.Errorf("deposit into town %d: %w", tn.ID, err)
		}
		m.deps.Towns.Mutate(tn.ID, func(live *town.Town) { live.Bank = tn.Bank })
		m.broadcast(protocol.TypeTownUpdate, protocol.Target{Scope: protocol.TargetAll}, tn.ID, tn.ID)
		m.tell(u, "town_bank_deposit", fmt.Sprintf("%d", amount))
		return nil
	})
}

func (t *Towns) townName(id int64) string {
	if tn, ok := t.m.deps.Towns.Get(id); ok {
		return tn.Name
	}
	return fmt.Sprintf("town %d", id)
}
