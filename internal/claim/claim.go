// Package claim holds chunk-keyed land claims and their per-world
// containers.
package claim

import (
	"fmt"

	"github.com/google/uuid"
)

// WorldID names a game world. Opaque here; geometry lives server-side.
type WorldID string

// Chunk is a chunk-grid coordinate within a world.
type Chunk struct {
	X int `json:"x"`
	Z int `json:"z"`
}

func (c Chunk) Key() string {
	return fmt.Sprintf("%d,%d", c.X, c.Z)
}

// Type classifies a claim. Plot claims carry their own member set.
type Type string

const (
	TypeRegular Type = "REGULAR"
	TypePlot    Type = "PLOT"
	TypeFarm    Type = "FARM"
)

// Claim binds one chunk to one owning town.
type Claim struct {
	World       WorldID            `json:"world"`
	Chunk       Chunk              `json:"chunk"`
	TownID      int64              `json:"town_id"`
	Type        Type               `json:"type"`
	PlotMembers map[uuid.UUID]bool `json:"plot_members,omitempty"`
}

// SetType reclassifies the claim. Moving away from PLOT clears the plot
// member set so stale grants can't survive a round trip back to PLOT.
func (c *Claim) SetType(t Type) {
	c.Type = t
	if t != TypePlot {
		c.PlotMembers = nil
	}
}

// AddPlotMember grants plot access. Only valid on PLOT claims.
func (c *Claim) AddPlotMember(id uuid.UUID) bool {
	if c.Type != TypePlot {
		return false
	}
	if c.PlotMembers == nil {
		c.PlotMembers = make(map[uuid.UUID]bool)
	}
	c.PlotMembers[id] = true
	return true
}

// RemovePlotMember revokes plot access.
func (c *Claim) RemovePlotMember(id uuid.UUID) bool {
	if c.Type != TypePlot || !c.PlotMembers[id] {
		return false
	}
	delete(c.PlotMembers, id)
	return true
}

// Clone returns a deep copy safe to hand across goroutines.
func (c *Claim) Clone() *Claim {
	d := *c
	if c.PlotMembers != nil {
		d.PlotMembers = make(map[uuid.UUID]bool, len(c.PlotMembers))
		for id := range c.PlotMembers {
			d.PlotMembers[id] = true
		}
	}
	return &d
}
