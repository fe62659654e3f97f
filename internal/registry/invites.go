package registry

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"townforge/internal/town"
)

// Invites tracks pending invites per recipient on this process only.
// Invites are never persisted; consuming one (accept or decline)
// removes it so a reply can never match it again.
type Invites struct {
	mu      sync.Mutex
	pending map[uuid.UUID][]town.Invite
}

func NewInvites() *Invites {
	return &Invites{pending: make(map[uuid.UUID][]town.Invite)}
}

// Add records an invite for the recipient. A duplicate from the same
// sender for the same town replaces the earlier one.
func (r *Invites) Add(recipient uuid.UUID, inv town.Invite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.pending[recipient]
	for i, existing := range list {
		if existing.TownID == inv.TownID && existing.Sender.ID == inv.Sender.ID {
			list[i] = inv
			return
		}
	}
	r.pending[recipient] = append(list, inv)
}

// Take removes and returns the most relevant pending invite: the most
// recent one, or the most recent from the named sender when the
// recipient disambiguates. ok is false when nothing matches.
func (r *Invites) Take(recipient uuid.UUID, sender string) (town.Invite, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.pending[recipient]
	for i := len(list) - 1; i >= 0; i-- {
		if sender != "" && !strings.EqualFold(list[i].Sender.Name, sender) {
			continue
		}
		inv := list[i]
		list = append(list[:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.pending, recipient)
		} else {
			r.pending[recipient] = list
		}
		return inv, true
	}
	return town.Invite{}, false
}

// DropTown removes every pending invite into the town, cluster-local.
// Called when a town is deleted so stale offers can't be accepted.
func (r *Invites) DropTown(townID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for recipient, list := range r.pending {
		kept := list[:0]
		for _, inv := range list {
			if inv.TownID != townID {
				kept = append(kept, inv)
			}
		}
		if len(kept) == 0 {
			delete(r.pending, recipient)
		} else {
			r.pending[recipient] = kept
		}
	}
}

// DropUser clears the recipient's pending invites, e.g. on disconnect.
func (r *Invites) DropUser(recipient uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, recipient)
}

// Count returns how many invites the recipient has pending.
func (r *Invites) Count(recipient uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[recipient])
}
