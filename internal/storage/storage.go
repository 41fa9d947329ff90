// internal/storage/storage.go
package storage

import (
	"context"
	"encoding/json"

	"github.com/chiwar/encounter/pkg/core"
)

// Store is the interface all storage implementations must satisfy.
// Reads return ErrNotFound (pkg/core) for missing rows; duplicate active
// chases surface as ErrConstraintViolation.
type Store interface {
	// Lifecycle
	Init() error
	Close() error

	// Transaction runs fn against a transaction-scoped Store. Returning an
	// error from fn rolls back every write made through that Store.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// Fight aggregate
	CreateFight(ctx context.Context, f *core.Fight) error
	// LoadFight through a transaction's Store also locks the fight until
	// commit, so concurrent writers to one fight cannot lose updates.
	LoadFight(ctx context.Context, id uint) (*core.Fight, error)
	// AdvanceSequence increments the fight's sequence in the store and
	// returns the new value.
	AdvanceSequence(ctx context.Context, fightID uint) (int, error)
	// EndFight marks an active fight ended. A fight that is already ended
	// yields ErrFightEnded.
	EndFight(ctx context.Context, fightID uint) error

	// Roster
	CreateCharacter(ctx context.Context, c *core.Character) error
	CreateVehicle(ctx context.Context, v *core.Vehicle) error
	AddShot(ctx context.Context, s *core.Shot) error
	RemoveShot(ctx context.Context, fightID, shotID uint) error

	// State written by combat actions
	SaveShot(ctx context.Context, s *core.Shot) error
	SaveCharacter(ctx context.Context, c *core.Character) error

	// Chases
	CreateChase(ctx context.Context, c *core.ChaseRelationship) error
	UpdateChasePosition(ctx context.Context, fightID, chaseID uint, pos core.ChasePosition) error
	DeactivateChase(ctx context.Context, fightID, chaseID uint) error
	ActiveChases(ctx context.Context, fightID uint) ([]core.ChaseRelationship, error)

	// Effects
	AddEffect(ctx context.Context, e *core.CharacterEffect) error

	// History
	RecordFightEvent(ctx context.Context, fightID uint, kind string, payload json.RawMessage) error
}
