package protocol

// ClaimDeletePayload identifies what to release. With All set, every
// claim owned by TownID goes in every world; otherwise the single
// (world, chunk) entry.
type ClaimDeletePayload struct {
	World  string `json:"world,omitempty"`
	ChunkX int    `json:"chunk_x,omitempty"`
	ChunkZ int    `json:"chunk_z,omitempty"`
	TownID int64  `json:"town_id,omitempty"`
	All    bool   `json:"all,omitempty"`
}
