// Package registry holds the per-process mirrors of cluster state:
// known towns, claim worlds, and pending invites. Command tasks run
// concurrently, so every check-then-act sequence that touches a
// registry happens inside that registry's lock.
package registry

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"townforge/internal/town"
)

// Towns mirrors the database's town set. Deleted ids are tombstoned so
// a TOWN_UPDATE arriving after a TOWN_DELETE cannot resurrect a town.
// Tombstones are kept for the life of the process; town ids are an
// autoincrement column, so the set grows only as fast as towns are
// deleted and a restart starts it empty.
type Towns struct {
	mu        sync.Mutex
	byID      map[int64]*town.Town
	tombstone map[int64]bool
}

func NewTowns() *Towns {
	return &Towns{
		byID:      make(map[int64]*town.Town),
		tombstone: make(map[int64]bool),
	}
}

// Put inserts or refreshes a town. Returns false (and does nothing)
// when the id is tombstoned.
func (r *Towns) Put(t *town.Town) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tombstone[t.ID] {
		return false
	}
	r.byID[t.ID] = t
	return true
}

// Remove drops the town and tombstones its id. Idempotent: removing a
// town that is already gone reports false and is not an error.
func (r *Towns) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tombstone[id] = true
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	return true
}

// Tombstoned reports whether the id belongs to a town deleted during
// this process's lifetime. Lets callers tell "deleted" apart from
// "not seen yet".
func (r *Towns) Tombstoned(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tombstone[id]
}

// Get returns a copy of the town so callers can read it without
// holding the registry lock.
func (r *Towns) Get(id int64) (*town.Town, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// UserTown finds the town the user belongs to, if any.
func (r *Towns) UserTown(userID uuid.UUID) (*town.Town, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userTownLocked(userID)
}

func (r *Towns) userTownLocked(userID uuid.UUID) (*town.Town, bool) {
	for _, t := range r.byID {
		if t.Member(userID) {
			return t.Clone(), true
		}
	}
	return nil, false
}

// ByName finds a town by name, case-insensitively.
func (r *Towns) ByName(name string) (*town.Town, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if strings.EqualFold(t.Name, name) {
			return t.Clone(), true
		}
	}
	return nil, false
}

// NameInUse reports whether any known town already uses the name.
func (r *Towns) NameInUse(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

// Mutate runs fn against the live town under the registry lock and
// reports whether the town existed. Used for membership changes that
// must be atomic with respect to concurrent lookups.
func (r *Towns) Mutate(id int64, fn func(*town.Town)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return false
	}
	fn(t)
	return true
}

// Count returns the number of known towns.
func (r *Towns) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// All returns copies of every known town.
func (r *Towns) All() []*town.Town {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*town.Town, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t.Clone())
	}
	return out
}
