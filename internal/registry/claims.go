package registry

import (
	"sync"

	"townforge/internal/claim"
)

// ClaimWorlds is the per-process world -> claim map mirror. Worlds are
// created lazily on first touch.
type ClaimWorlds struct {
	mu     sync.Mutex
	worlds map[claim.WorldID]*claim.World
}

func NewClaimWorlds() *ClaimWorlds {
	return &ClaimWorlds{worlds: make(map[claim.WorldID]*claim.World)}
}

// Seed installs worlds loaded from the database at startup.
func (r *ClaimWorlds) Seed(worlds []*claim.World) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range worlds {
		r.worlds[w.ID] = w
	}
}

// With runs fn against the world under the lock, creating the world if
// needed. fn's return value is passed through, so check-then-act claim
// logic stays atomic relative to other tasks.
func (r *ClaimWorlds) With(id claim.WorldID, fn func(*claim.World) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.worlds[id]
	if !ok {
		w = claim.NewWorld(id)
		r.worlds[id] = w
	}
	return fn(w)
}

// WithAll runs fn against every known world under the lock. Used for
// town-deletion cascades.
func (r *ClaimWorlds) WithAll(fn func(*claim.World)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.worlds {
		fn(w)
	}
}

// At returns a copy of the claim at the chunk, if any.
func (r *ClaimWorlds) At(id claim.WorldID, chunk claim.Chunk) (*claim.Claim, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.worlds[id]
	if !ok {
		return nil, false
	}
	c, ok := w.At(chunk)
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// TotalClaims counts every claim across all worlds.
func (r *ClaimWorlds) TotalClaims() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.worlds {
		n += w.Count()
	}
	return n
}

// TownClaimCount totals the town's claims across all worlds.
func (r *ClaimWorlds) TownClaimCount(townID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.worlds {
		n += w.CountTown(townID)
	}
	return n
}
