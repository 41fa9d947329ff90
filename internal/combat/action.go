// Package combat applies player and GM actions to a fight: batched shot
// updates, wound routing with up-check enforcement, and up-check results.
package combat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chiwar/encounter/internal/broadcast"
	"github.com/chiwar/encounter/internal/storage"
	"github.com/chiwar/encounter/pkg/core"
)

// Fight event kinds recorded by this package.
const (
	EventCombatAction = "combat_action"
	EventUpCheck      = "up_check"
)

// Skip reasons reported on the combat.updates.skipped counter.
const (
	SkipMissingShotID = "missing_shot_id"
	SkipUnknownShot   = "unknown_shot"
)

// Dependencies holds all dependencies for the combat Service.
type Dependencies struct {
	Store     storage.Store
	Logger    *slog.Logger
	Publisher broadcast.Publisher // optional
	Stats     Stats               // optional
}

// Service applies combat actions and up-checks.
type Service struct {
	deps     Dependencies
	notifier broadcast.Notifier
	metrics  *instruments
}

// NewService creates a combat Service.
// Uses the global OTel meter for metrics (no-op if not configured).
func NewService(deps Dependencies) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("combat: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	in, err := newInstruments()
	if err != nil {
		return nil, err
	}
	return &Service{
		deps:     deps,
		notifier: broadcast.Notifier{Publisher: deps.Publisher, Logger: deps.Logger},
		metrics:  in,
	}, nil
}

// ActionResult reports a committed combat action.
type ActionResult struct {
	Fight   *core.Fight `json:"fight"`
	Applied int         `json:"applied"`
	Skipped int         `json:"skipped"`
}

// ApplyCombatAction applies updates to the fight in order, inside one
// transaction. Updates without a shot id, or naming a shot that is not in
// the fight, are skipped. Any store failure rolls back the whole batch and
// is returned as a *core.CommitError. The argument is never modified; the
// returned fight is reloaded from the store.
func (s *Service) ApplyCombatAction(ctx context.Context, fight *core.Fight, updates []core.ShotUpdate) (*ActionResult, error) {
	start := time.Now()
	log := s.deps.Logger.With("fightID", fight.ID)

	var res ActionResult
	err := s.deps.Store.Transaction(ctx, func(tx storage.Store) error {
		res = ActionResult{}

		f, err := tx.LoadFight(ctx, fight.ID)
		if err != nil {
			return err
		}

		var touched []*core.Shot
		seen := make(map[uint]bool)

		for i, u := range updates {
			if u.ShotID == nil {
				log.WarnContext(ctx, "skipping update without shot_id", "index", i)
				s.metrics.skip(ctx, SkipMissingShotID)
				res.Skipped++
				continue
			}
			shot, ok := f.Shot(*u.ShotID)
			if !ok {
				log.WarnContext(ctx, "skipping update for unknown shot", "index", i, "shotID", *u.ShotID)
				s.metrics.skip(ctx, SkipUnknownShot)
				res.Skipped++
				continue
			}

			s.applyUpdate(ctx, log, shot, u)
			if !seen[shot.ID] {
				seen[shot.ID] = true
				touched = append(touched, shot)
			}

			if len(u.Event) > 0 {
				if err := tx.RecordFightEvent(ctx, f.ID, EventCombatAction, u.Event); err != nil {
					return err
				}
			}
			res.Applied++
		}

		for _, shot := range touched {
			if err := tx.SaveShot(ctx, shot); err != nil {
				return err
			}
			if shot.Character != nil {
				if err := tx.SaveCharacter(ctx, shot.Character); err != nil {
					return err
				}
			}
		}

		res.Fight = f
		return nil
	})
	if err != nil {
		err = core.WrapCommit("combat action", err)
		if errors.Is(err, core.ErrCommitFailure) {
			s.metrics.commitFailure(ctx, EventCombatAction)
		}
		log.ErrorContext(ctx, "combat action failed", "updates", len(updates), "error", err)
		return nil, err
	}

	s.metrics.applied.Add(ctx, int64(res.Applied))
	if s.deps.Stats != nil {
		s.deps.Stats.RecordAction(ctx, fight.ID, res.Applied, res.Skipped, time.Since(start))
	}
	log.DebugContext(ctx, "combat action applied", "applied", res.Applied, "skipped", res.Skipped, "duration", time.Since(start))

	s.notifier.FightChanged(ctx, res.Fight, EventCombatAction)
	return &res, nil
}

// applyUpdate merges one update record into the shot and its character.
// Wounds run before status changes, and removals before additions, so one
// record can swap a tag for another.
func (s *Service) applyUpdate(ctx context.Context, log *slog.Logger, shot *core.Shot, u core.ShotUpdate) {
	if u.Shot.Set {
		shot.Shot = u.Shot.Value
	}
	if u.Count.Set {
		shot.Count = u.Count.Value
	}
	if u.Impairments.Set {
		shot.Impairments = u.Impairments.Value
	}
	if u.Location.Set {
		shot.Location = u.Location.Value
	}
	if u.Color.Set {
		shot.Color = u.Color.Value
	}
	if u.WasRammedOrDamaged.Set {
		shot.WasRammedOrDamaged = u.WasRammedOrDamaged.Value
	}

	c := shot.Character
	if c == nil {
		if u.Wounds.Set || len(u.AddStatus) > 0 || len(u.RemoveStatus) > 0 {
			log.DebugContext(ctx, "ignoring wounds and status on vehicle shot", "shotID", shot.ID)
		}
		return
	}

	woundAffecting := false
	if u.Wounds.Set {
		applyWoundDelta(c, shot, u.Wounds.Value)
		woundAffecting = true
	}
	if u.Count.Set && TracksWoundsOnShot(c.Type) {
		woundAffecting = true
	}
	if woundAffecting {
		EnforceUpCheck(c, shot)
	}

	if len(u.RemoveStatus) > 0 {
		c.Status = RemoveTags(c.Status, u.RemoveStatus)
	}
	if len(u.AddStatus) > 0 {
		c.Status = AddTags(c.Status, u.AddStatus)
	}
}
