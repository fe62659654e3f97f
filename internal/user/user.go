// Package user holds player identity and online-presence lookups.
package user

import "github.com/google/uuid"

// User is a stable player identity. Immutable once looked up; the
// authoritative record lives in the database.
type User struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// OnlineUser is a User with a live session on this process that can
// receive chat messages.
type OnlineUser interface {
	User() User
	SendMessage(text string)
}

// Provider resolves names to sessions connected to this process. A miss
// means the player is offline or on another server, not that they don't
// exist.
type Provider interface {
	FindOnline(name string) (OnlineUser, bool)
}
