// Package database is the authoritative store of towns, members, users
// and claim worlds. The in-memory registries mirror it; on conflict the
// database wins.
package database

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"townforge/internal/claim"
	"townforge/internal/town"
	"townforge/internal/user"
)

// Sentinel errors. Constraint violations map to the two "taken" errors
// so callers can turn them into user-facing rejections; everything else
// is infrastructure failure.
var (
	ErrNotFound          = errors.New("database: not found")
	ErrTownNameTaken     = errors.New("database: town name taken")
	ErrUserAlreadyMember = errors.New("database: user already in a town")
)

// Database is the synchronous persistence contract. Uniqueness of town
// names and of one-town-per-user is enforced here as the last line of
// defense behind the in-memory pre-checks.
type Database interface {
	CreateTown(ctx context.Context, name string, founder user.User) (*town.Town, error)
	DeleteTown(ctx context.Context, id int64) error
	GetTown(ctx context.Context, id int64) (*town.Town, error)
	ListTowns(ctx context.Context) ([]*town.Town, error)
	UpdateTown(ctx context.Context, t *town.Town) error

	CreateMember(ctx context.Context, townID int64, userID uuid.UUID, privileges []town.Privilege) error
	DeleteMember(ctx context.Context, userID uuid.UUID) error

	GetUser(ctx context.Context, handle string) (user.User, error)
	SaveUser(ctx context.Context, u user.User) error

	GetClaimWorld(ctx context.Context, id claim.WorldID) (*claim.World, error)
	ListClaimWorlds(ctx context.Context) ([]*claim.World, error)
	UpdateClaimWorld(ctx context.Context, w *claim.World) error

	Close() error
}
