// Package fight owns the fight lifecycle and roster: creating fights,
// adding and removing shots, driver links, effects and the sequence counter.
package fight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chiwar/encounter/internal/broadcast"
	"github.com/chiwar/encounter/internal/projector"
	"github.com/chiwar/encounter/internal/storage"
	"github.com/chiwar/encounter/pkg/core"
)

// Fight event kinds recorded by the service.
const (
	EventJoin     = "shot_join"
	EventLeave    = "shot_leave"
	EventDrive    = "drive"
	EventEffect   = "effect_add"
	EventSequence = "sequence"
	EventEnd      = "fight_end"
	EventRefresh  = "refresh"
)

// Dependencies holds all dependencies for the fight Service.
type Dependencies struct {
	Store     storage.Store
	Logger    *slog.Logger
	Publisher broadcast.Publisher // optional
}

// Service manages fights outside of combat actions.
type Service struct {
	deps     Dependencies
	notifier broadcast.Notifier
}

// NewService creates a fight Service.
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		notifier: broadcast.Notifier{Publisher: deps.Publisher, Logger: deps.Logger},
	}
}

// JoinRequest puts a character or a vehicle into a fight.
type JoinRequest struct {
	CharacterID *uint  `json:"character_id,omitempty"`
	VehicleID   *uint  `json:"vehicle_id,omitempty"`
	Shot        *int   `json:"shot"`
	Color       string `json:"color,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Create starts a new active fight at sequence 1.
func (s *Service) Create(ctx context.Context, campaignID uint, name string) (*core.Fight, error) {
	if name == "" {
		return nil, fmt.Errorf("fight name is required: %w", core.ErrInvalid)
	}
	f := &core.Fight{CampaignID: campaignID, Name: name, Sequence: 1, Active: true}
	if err := s.deps.Store.CreateFight(ctx, f); err != nil {
		return nil, core.WrapCommit("fight create", err)
	}
	s.deps.Logger.InfoContext(ctx, "fight created", "fightID", f.ID, "campaignID", campaignID, "name", name)
	return f, nil
}

// Join binds a character or vehicle to the fight with a new shot. Each
// character or vehicle holds at most one shot per fight.
func (s *Service) Join(ctx context.Context, fightID uint, req JoinRequest) (*core.Shot, error) {
	if (req.CharacterID == nil) == (req.VehicleID == nil) {
		return nil, fmt.Errorf("join needs exactly one of character_id and vehicle_id: %w", core.ErrInvalid)
	}

	shot := &core.Shot{
		FightID:     fightID,
		Shot:        req.Shot,
		Color:       req.Color,
		Location:    req.Location,
		CharacterID: req.CharacterID,
		VehicleID:   req.VehicleID,
	}
	f, err := s.mutate(ctx, fightID, "shot join", func(tx storage.Store, f *core.Fight) error {
		if req.CharacterID != nil {
			if _, ok := f.ShotForCharacter(*req.CharacterID); ok {
				return fmt.Errorf("character %d already in fight %d: %w", *req.CharacterID, fightID, core.ErrConstraintViolation)
			}
		} else if _, ok := f.ShotForVehicle(*req.VehicleID); ok {
			return fmt.Errorf("vehicle %d already in fight %d: %w", *req.VehicleID, fightID, core.ErrConstraintViolation)
		}
		if err := tx.AddShot(ctx, shot); err != nil {
			return err
		}
		return record(ctx, tx, fightID, EventJoin, shot)
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.InfoContext(ctx, "shot joined", "fightID", fightID, "shotID", shot.ID)
	s.notifier.FightChanged(ctx, f, EventJoin)
	return shot, nil
}

// Leave removes a shot from the fight. Driver links pointing at it are
// cleared and its shot-scoped effects are dropped.
func (s *Service) Leave(ctx context.Context, fightID, shotID uint) error {
	f, err := s.mutate(ctx, fightID, "shot leave", func(tx storage.Store, _ *core.Fight) error {
		if err := tx.RemoveShot(ctx, fightID, shotID); err != nil {
			return err
		}
		return record(ctx, tx, fightID, EventLeave, map[string]any{"shot_id": shotID})
	})
	if err != nil {
		return err
	}
	s.notifier.FightChanged(ctx, f, EventLeave)
	return nil
}

// Drive links a character shot to a vehicle shot in both directions.
// Any previous link held by either side is released first.
func (s *Service) Drive(ctx context.Context, fightID, driverShotID, vehicleShotID uint) error {
	f, err := s.mutate(ctx, fightID, "drive", func(tx storage.Store, f *core.Fight) error {
		driver, ok := f.Shot(driverShotID)
		if !ok {
			return fmt.Errorf("shot %d: %w", driverShotID, core.ErrNotFound)
		}
		vehicle, ok := f.Shot(vehicleShotID)
		if !ok {
			return fmt.Errorf("shot %d: %w", vehicleShotID, core.ErrNotFound)
		}
		if !driver.IsCharacter() || !vehicle.IsVehicle() {
			return fmt.Errorf("shot %d cannot drive shot %d: %w", driverShotID, vehicleShotID, core.ErrInvalid)
		}

		touched := map[uint]*core.Shot{driver.ID: driver, vehicle.ID: vehicle}
		if driver.DrivingID != nil && *driver.DrivingID != vehicle.ID {
			if prev, ok := f.Shot(*driver.DrivingID); ok {
				prev.DriverID = nil
				touched[prev.ID] = prev
			}
		}
		if vehicle.DriverID != nil && *vehicle.DriverID != driver.ID {
			if prev, ok := f.Shot(*vehicle.DriverID); ok {
				prev.DrivingID = nil
				touched[prev.ID] = prev
			}
		}
		driver.DrivingID = &vehicle.ID
		vehicle.DriverID = &driver.ID

		if err := saveShots(ctx, tx, touched); err != nil {
			return err
		}
		return record(ctx, tx, fightID, EventDrive, map[string]any{"driver_shot_id": driver.ID, "vehicle_shot_id": vehicle.ID})
	})
	if err != nil {
		return err
	}
	s.notifier.FightChanged(ctx, f, EventDrive)
	return nil
}

// StopDriving releases the vehicle the character shot is driving, if any.
func (s *Service) StopDriving(ctx context.Context, fightID, driverShotID uint) error {
	f, err := s.mutate(ctx, fightID, "stop driving", func(tx storage.Store, f *core.Fight) error {
		driver, ok := f.Shot(driverShotID)
		if !ok {
			return fmt.Errorf("shot %d: %w", driverShotID, core.ErrNotFound)
		}
		if driver.DrivingID == nil {
			return nil
		}

		touched := map[uint]*core.Shot{driver.ID: driver}
		if vehicle, ok := f.Shot(*driver.DrivingID); ok && vehicle.DriverID != nil && *vehicle.DriverID == driver.ID {
			vehicle.DriverID = nil
			touched[vehicle.ID] = vehicle
		}
		driver.DrivingID = nil

		if err := saveShots(ctx, tx, touched); err != nil {
			return err
		}
		return record(ctx, tx, fightID, EventDrive, map[string]any{"driver_shot_id": driver.ID, "vehicle_shot_id": nil})
	})
	if err != nil {
		return err
	}
	s.notifier.FightChanged(ctx, f, EventDrive)
	return nil
}

// AddEffect attaches an effect to the fight. A shot-scoped effect must
// name a shot that is in the fight.
func (s *Service) AddEffect(ctx context.Context, fightID uint, e *core.CharacterEffect) error {
	if e.Name == "" {
		return fmt.Errorf("effect name is required: %w", core.ErrInvalid)
	}
	if e.EndShot != nil && e.EndSequence == nil {
		return fmt.Errorf("effect end_shot needs end_sequence: %w", core.ErrInvalid)
	}
	e.FightID = fightID

	f, err := s.mutate(ctx, fightID, "effect add", func(tx storage.Store, f *core.Fight) error {
		if e.ShotID != nil {
			if _, ok := f.Shot(*e.ShotID); !ok {
				return fmt.Errorf("shot %d: %w", *e.ShotID, core.ErrNotFound)
			}
		}
		if err := tx.AddEffect(ctx, e); err != nil {
			return err
		}
		return record(ctx, tx, fightID, EventEffect, e)
	})
	if err != nil {
		return err
	}
	s.notifier.FightChanged(ctx, f, EventEffect)
	return nil
}

// AdvanceSequence moves the fight to its next sequence and returns it.
// Concurrent calls each observe a distinct value.
func (s *Service) AdvanceSequence(ctx context.Context, fightID uint) (int, error) {
	var seq int
	f, err := s.mutate(ctx, fightID, "advance sequence", func(tx storage.Store, _ *core.Fight) error {
		var err error
		if seq, err = tx.AdvanceSequence(ctx, fightID); err != nil {
			return err
		}
		return record(ctx, tx, fightID, EventSequence, map[string]any{"sequence": seq})
	})
	if err != nil {
		return 0, err
	}
	s.deps.Logger.InfoContext(ctx, "sequence advanced", "fightID", fightID, "sequence", seq)
	s.notifier.FightChanged(ctx, f, EventSequence)
	return seq, nil
}

// End finalizes the fight. Only the first call succeeds; later calls get
// core.ErrFightEnded.
func (s *Service) End(ctx context.Context, fightID uint) error {
	f, err := s.mutate(ctx, fightID, "fight end", func(tx storage.Store, _ *core.Fight) error {
		if err := tx.EndFight(ctx, fightID); err != nil {
			return err
		}
		return record(ctx, tx, fightID, EventEnd, map[string]any{})
	})
	if err != nil {
		return err
	}
	s.deps.Logger.InfoContext(ctx, "fight ended", "fightID", fightID)
	s.notifier.FightChanged(ctx, f, EventEnd)
	return nil
}

// Show returns the current projection of the fight.
func (s *Service) Show(ctx context.Context, fightID uint) (projector.Encounter, error) {
	f, err := s.deps.Store.LoadFight(ctx, fightID)
	if err != nil {
		return projector.Encounter{}, err
	}
	return projector.Project(f), nil
}

// Broadcast republishes the fight's current state without changing it, so
// clients that missed updates can resync.
func (s *Service) Broadcast(ctx context.Context, fightID uint) error {
	f, err := s.deps.Store.LoadFight(ctx, fightID)
	if err != nil {
		return err
	}
	s.notifier.FightChanged(ctx, f, EventRefresh)
	return nil
}

func (s *Service) mutate(ctx context.Context, fightID uint, op string, fn func(tx storage.Store, f *core.Fight) error) (*core.Fight, error) {
	var after *core.Fight
	err := s.deps.Store.Transaction(ctx, func(tx storage.Store) error {
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
		s.deps.Logger.WarnContext(ctx, op+" failed", "fightID", fightID, "error", err)
		return nil, err
	}
	return after, nil
}

func saveShots(ctx context.Context, tx storage.Store, shots map[uint]*core.Shot) error {
	for _, sh := range shots {
		if err := tx.SaveShot(ctx, sh); err != nil {
			return err
		}
	}
	return nil
}

func record(ctx context.Context, tx storage.Store, fightID uint, kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.RecordFightEvent(ctx, fightID, kind, payload)
}
