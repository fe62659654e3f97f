package town

import "townforge/internal/user"

// Invite is an ephemeral membership offer. It is never persisted: it
// lives in the recipient process's tracker until accepted, declined, or
// the town goes away. Target is the handle as the inviter typed it; for
// cross-server targets it may not have been resolved to an id yet.
type Invite struct {
	TownID int64     `json:"town_id"`
	Sender user.User `json:"sender"`
	Target string    `json:"target"`
}

// NewInvite builds an invite from a sending member to a target handle.
func NewInvite(townID int64, sender user.User, target string) Invite {
	return Invite{TownID: townID, Sender: sender, Target: target}
}
