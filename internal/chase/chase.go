// Package chase manages pursuer/evader relationships between vehicles in a fight.
package chase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chiwar/encounter/internal/broadcast"
	"github.com/chiwar/encounter/internal/storage"
	"github.com/chiwar/encounter/pkg/core"
)

// Fight event kinds recorded by the manager.
const (
	EventStart    = "chase_start"
	EventPosition = "chase_position"
	EventResolve  = "chase_resolve"
)

// Dependencies holds all dependencies for the chase Manager.
type Dependencies struct {
	Store     storage.Store
	Logger    *slog.Logger
	Publisher broadcast.Publisher // optional
}

// Manager starts, moves and resolves chases. Uniqueness of active pairs is
// left to the store so concurrent starts cannot both succeed.
type Manager struct {
	deps     Dependencies
	notifier broadcast.Notifier
}

// NewManager creates a chase Manager.
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:     deps,
		notifier: broadcast.Notifier{Publisher: deps.Publisher, Logger: deps.Logger},
	}
}

// Start creates an active chase between two vehicles that are both in the
// fight. A second active chase for the same pair, in either direction,
// fails with core.ErrConstraintViolation.
func (m *Manager) Start(ctx context.Context, fightID, pursuerID, evaderID uint, pos core.ChasePosition) (*core.ChaseRelationship, error) {
	if pursuerID == evaderID {
		return nil, fmt.Errorf("vehicle %d cannot chase itself: %w", pursuerID, core.ErrInvalid)
	}
	if pos == "" {
		pos = core.ChaseFar
	}
	if !pos.Valid() {
		return nil, fmt.Errorf("chase position %q: %w", pos, core.ErrInvalid)
	}

	rel := &core.ChaseRelationship{FightID: fightID, PursuerID: pursuerID, EvaderID: evaderID, Position: pos}
	f, err := m.mutate(ctx, fightID, "chase start", func(tx storage.Store, f *core.Fight) error {
		for _, id := range []uint{pursuerID, evaderID} {
			if _, ok := f.ShotForVehicle(id); !ok {
				return fmt.Errorf("vehicle %d in fight %d: %w", id, fightID, core.ErrNotFound)
			}
		}
		if err := tx.CreateChase(ctx, rel); err != nil {
			return err
		}
		return record(ctx, tx, fightID, EventStart, rel)
	})
	if err != nil {
		return nil, err
	}

	m.deps.Logger.InfoContext(ctx, "chase started", "fightID", fightID, "chaseID", rel.ID, "pursuer", pursuerID, "evader", evaderID, "position", pos)
	m.notifier.FightChanged(ctx, f, EventStart)
	return rel, nil
}

// SetPosition moves an active chase to near or far.
func (m *Manager) SetPosition(ctx context.Context, fightID, chaseID uint, pos core.ChasePosition) error {
	if !pos.Valid() {
		return fmt.Errorf("chase position %q: %w", pos, core.ErrInvalid)
	}
	f, err := m.mutate(ctx, fightID, "chase position", func(tx storage.Store, _ *core.Fight) error {
		if err := tx.UpdateChasePosition(ctx, fightID, chaseID, pos); err != nil {
			return err
		}
		return record(ctx, tx, fightID, EventPosition, map[string]any{"chase_id": chaseID, "position": pos})
	})
	if err != nil {
		return err
	}
	m.notifier.FightChanged(ctx, f, EventPosition)
	return nil
}

// Resolve deactivates a chase. The row is kept for the fight's history.
func (m *Manager) Resolve(ctx context.Context, fightID, chaseID uint) error {
	f, err := m.mutate(ctx, fightID, "chase resolve", func(tx storage.Store, _ *core.Fight) error {
		if err := tx.DeactivateChase(ctx, fightID, chaseID); err != nil {
			return err
		}
		return record(ctx, tx, fightID, EventResolve, map[string]any{"chase_id": chaseID})
	})
	if err != nil {
		return err
	}
	m.deps.Logger.InfoContext(ctx, "chase resolved", "fightID", fightID, "chaseID", chaseID)
	m.notifier.FightChanged(ctx, f, EventResolve)
	return nil
}

// ForVehicle returns the active chases involving vehicleID, tagged with
// whether the vehicle is the pursuer.
func (m *Manager) ForVehicle(ctx context.Context, fightID, vehicleID uint) ([]core.VehicleChase, error) {
	rels, err := m.deps.Store.ActiveChases(ctx, fightID)
	if err != nil {
		return nil, err
	}
	return core.ActiveChasesFor(rels, vehicleID), nil
}

// ForFight returns every active chase in the fight.
func (m *Manager) ForFight(ctx context.Context, fightID uint) ([]core.ChaseRelationship, error) {
	return m.deps.Store.ActiveChases(ctx, fightID)
}

// mutate runs fn in a transaction against the freshly loaded fight and
// returns the fight as it stands after commit.
func (m *Manager) mutate(ctx context.Context, fightID uint, op string, fn func(tx storage.Store, f *core.Fight) error) (*core.Fight, error) {
	var after *core.Fight
	err := m.deps.Store.Transaction(ctx, func(tx storage.Store) error {
		f, err := tx.LoadFight(ctx, fightID)
		if err != nil {
			return err
		}
		if err := fn(tx, f); err != nil {
			return err
		}
		after, err = tx.LoadFight(ctx, fightID)
		return err
	})
	if err != nil {
		err = core.WrapCommit(op, err)
		m.deps.Logger.WarnContext(ctx, op+" failed", "fightID", fightID, "error", err)
		return nil, err
	}
	return after, nil
}

func record(ctx context.Context, tx storage.Store, fightID uint, kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.RecordFightEvent(ctx, fightID, kind, payload)
}
