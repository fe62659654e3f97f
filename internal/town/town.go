// Package town holds the town data model: towns, members, privileges
// and pending invites.
package town

import (
	"github.com/google/uuid"

	"townforge/internal/claim"
)

// Privilege is a capability a member can hold within their town.
type Privilege string

const (
	PrivilegeInvite     Privilege = "INVITE"
	PrivilegeClaim      Privilege = "CLAIM"
	PrivilegeEvict      Privilege = "EVICT"
	PrivilegeManageBank Privilege = "MANAGE_BANK"
	PrivilegeSetSpawn   Privilege = "SET_SPAWN"
	PrivilegePlot       Privilege = "PLOT"
)

// BaselinePrivileges is what a freshly accepted member starts with.
func BaselinePrivileges() []Privilege {
	return []Privilege{PrivilegeClaim, PrivilegePlot}
}

// MayorPrivileges is the full set; the mayor always holds all of them.
func MayorPrivileges() []Privilege {
	return []Privilege{
		PrivilegeInvite, PrivilegeClaim, PrivilegeEvict,
		PrivilegeManageBank, PrivilegeSetSpawn, PrivilegePlot,
	}
}

// Spawn is an optional town teleport point.
type Spawn struct {
	World claim.WorldID `json:"world"`
	Chunk claim.Chunk   `json:"chunk"`
}

// Town is a named player group. The mayor is always present in Members
// with the full privilege set, so a town always has at least one member.
type Town struct {
	ID      int64                     `json:"id"`
	Name    string                    `json:"name"`
	Mayor   uuid.UUID                 `json:"mayor"`
	Members map[uuid.UUID][]Privilege `json:"members"`
	Bank    int64                     `json:"bank"`
	Spawn   *Spawn                    `json:"spawn,omitempty"`
}

// New builds a town with the founder installed as mayor.
func New(id int64, name string, mayor uuid.UUID) *Town {
	return &Town{
		ID:      id,
		Name:    name,
		Mayor:   mayor,
		Members: map[uuid.UUID][]Privilege{mayor: MayorPrivileges()},
	}
}

// Member reports whether the user belongs to this town.
func (t *Town) Member(id uuid.UUID) bool {
	_, ok := t.Members[id]
	return ok
}

// HasPrivilege reports whether the user holds the given privilege here.
// The mayor implicitly holds everything.
func (t *Town) HasPrivilege(id uuid.UUID, p Privilege) bool {
	if id == t.Mayor {
		return true
	}
	for _, held := range t.Members[id] {
		if held == p {
			return true
		}
	}
	return false
}

// AddMember grants membership with the given privileges, replacing any
// prior grant for the same user.
func (t *Town) AddMember(id uuid.UUID, privileges []Privilege) {
	if t.Members == nil {
		t.Members = make(map[uuid.UUID][]Privilege)
	}
	t.Members[id] = privileges
}

// RemoveMember drops the user's membership. Removing the mayor is not
// allowed; delete the town instead.
func (t *Town) RemoveMember(id uuid.UUID) bool {
	if id == t.Mayor {
		return false
	}
	if _, ok := t.Members[id]; !ok {
		return false
	}
	delete(t.Members, id)
	return true
}

// Clone returns a deep copy so registry snapshots can't be mutated by
// concurrent tasks holding the original.
func (t *Town) Clone() *Town {
	c := *t
	c.Members = make(map[uuid.UUID][]Privilege, len(t.Members))
	for id, ps := range t.Members {
		c.Members[id] = append([]Privilege(nil), ps...)
	}
	if t.Spawn != nil {
		s := *t.Spawn
		c.Spawn = &s
	}
	return &c
}
