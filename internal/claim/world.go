package claim

// World is the per-world chunk->claim map. Not goroutine safe; the
// registry layer serializes access.
type World struct {
	ID     WorldID
	claims map[string]*Claim
}

func NewWorld(id WorldID) *World {
	return &World{ID: id, claims: make(map[string]*Claim)}
}

// At returns the claim occupying the chunk, if any.
func (w *World) At(chunk Chunk) (*Claim, bool) {
	c, ok := w.claims[chunk.Key()]
	return c, ok
}

// Put inserts or replaces the claim for its chunk.
func (w *World) Put(c *Claim) {
	w.claims[c.Chunk.Key()] = c
}

// Remove drops the claim at the chunk, reporting whether one was there.
func (w *World) Remove(chunk Chunk) bool {
	key := chunk.Key()
	if _, ok := w.claims[key]; !ok {
		return false
	}
	delete(w.claims, key)
	return true
}

// RemoveTownClaims strips every claim owned by the town and returns how
// many were removed. Callers persist the world only when the count is
// non-zero.
func (w *World) RemoveTownClaims(townID int64) int {
	removed := 0
	for key, c := range w.claims {
		if c.TownID == townID {
			delete(w.claims, key)
			removed++
		}
	}
	return removed
}

// Count returns the number of claims in the world.
func (w *World) Count() int {
	return len(w.claims)
}

// CountTown returns the number of claims owned by the town.
func (w *World) CountTown(townID int64) int {
	n := 0
	for _, c := range w.claims {
		if c.TownID == townID {
			n++
		}
	}
	return n
}

// All returns the claims in no particular order.
func (w *World) All() []*Claim {
	out := make([]*Claim, 0, len(w.claims))
	for _, c := range w.claims {
		out = append(out, c)
	}
	return out
}
