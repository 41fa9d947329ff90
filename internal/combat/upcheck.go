package combat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chiwar/encounter/internal/storage"
	"github.com/chiwar/encounter/pkg/core"
)

// ApplyUpCheck resolves an up-check roll for a character in the fight.
// Success clears up_check_required and leaves wounds as they are; failure
// clears it and marks the character out_of_fight. A character that is not
// in the fight yields core.ErrNotFound.
func (s *Service) ApplyUpCheck(ctx context.Context, fight *core.Fight, check core.UpCheck) (*core.Fight, error) {
	log := s.deps.Logger.With("fightID", fight.ID, "characterID", check.CharacterID)

	var result *core.Fight
	err := s.deps.Store.Transaction(ctx, func(tx storage.Store) error {
		f, err := tx.LoadFight(ctx, fight.ID)
		if err != nil {
			return err
		}
		shot, ok := f.ShotForCharacter(check.CharacterID)
		if !ok || shot.Character == nil {
			return fmt.Errorf("character %d in fight %d: %w", check.CharacterID, f.ID, core.ErrNotFound)
		}

		c := shot.Character
		c.Status = RemoveTags(c.Status, []string{core.StatusUpCheckRequired})
		if !check.Success {
			c.Status = AddTags(c.Status, []string{core.StatusOutOfFight})
		}
		if err := tx.SaveCharacter(ctx, c); err != nil {
			return err
		}

		payload, err := json.Marshal(check)
		if err != nil {
			return err
		}
		if err := tx.RecordFightEvent(ctx, f.ID, EventUpCheck, payload); err != nil {
			return err
		}

		result = f
		return nil
	})
	if err != nil {
		err = core.WrapCommit("up check", err)
		if errors.Is(err, core.ErrCommitFailure) {
			s.metrics.commitFailure(ctx, EventUpCheck)
		}
		log.ErrorContext(ctx, "up check failed", "error", err)
		return nil, err
	}

	s.metrics.upCheck(ctx, check.Success)
	if s.deps.Stats != nil {
		s.deps.Stats.RecordUpCheck(ctx, fight.ID, check.CharacterID, check.Success)
	}
	log.InfoContext(ctx, "up check resolved", "success", check.Success, "result", check.Result)

	s.notifier.FightChanged(ctx, result, EventUpCheck)
	return result, nil
}
