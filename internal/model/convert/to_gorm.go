package convert

import (
	"encoding/json"
	"fmt"

	"github.com/chiwar/encounter/internal/model"
	"github.com/chiwar/encounter/pkg/core"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CoreToCharacter converts a core.Character to a GORM Character.
func CoreToCharacter(c core.Character) (model.Character, error) {
	av := c.ActionValues
	if av == nil {
		av = core.ActionValues{}
	}
	avJSON, err := json.Marshal(av)
	if err != nil {
		return model.Character{}, fmt.Errorf("marshal action values: %w", err)
	}
	status := c.Status
	if status == nil {
		status = []string{}
	}
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return model.Character{}, fmt.Errorf("marshal status: %w", err)
	}
	return model.Character{
		Model:        gorm.Model{ID: c.ID},
		CampaignID:   c.CampaignID,
		Name:         c.Name,
		CharacterTyp: c.Type.String(),
		ActionValues: datatypes.JSON(avJSON),
		Status:       datatypes.JSON(statusJSON),
		Impairments:  c.Impairments,
	}, nil
}

// CoreToVehicle converts a core.Vehicle to a GORM Vehicle.
func CoreToVehicle(v core.Vehicle) (model.Vehicle, error) {
	av := v.ActionValues
	if av == nil {
		av = core.ActionValues{}
	}
	avJSON, err := json.Marshal(av)
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("marshal action values: %w", err)
	}
	return model.Vehicle{
		Model:        gorm.Model{ID: v.ID},
		CampaignID:   v.CampaignID,
		Name:         v.Name,
		ActionValues: datatypes.JSON(avJSON),
		Impairments:  v.Impairments,
	}, nil
}

// CoreToShot converts a core.Shot to a GORM Shot. The nested character and
// vehicle are not carried; they are saved separately.
func CoreToShot(s core.Shot) model.Shot {
	return model.Shot{
		ID:                 s.ID,
		FightID:            s.FightID,
		Shot:               s.Shot,
		Count:              s.Count,
		Impairments:        s.Impairments,
		Color:              s.Color,
		Location:           s.Location,
		CharacterID:        s.CharacterID,
		VehicleID:          s.VehicleID,
		DriverID:           s.DriverID,
		DrivingID:          s.DrivingID,
		WasRammedOrDamaged: s.WasRammedOrDamaged,
	}
}

// CoreToChase converts a core.ChaseRelationship to a GORM ChaseRelationship,
// filling the ordered pair columns.
func CoreToChase(c core.ChaseRelationship) model.ChaseRelationship {
	low, high := c.PursuerID, c.EvaderID
	if low > high {
		low, high = high, low
	}
	return model.ChaseRelationship{
		ID:        c.ID,
		FightID:   c.FightID,
		PursuerID: c.PursuerID,
		EvaderID:  c.EvaderID,
		PairLow:   low,
		PairHigh:  high,
		Position:  string(c.Position),
		Active:    c.Active,
	}
}

// CoreToEffect converts a core.CharacterEffect to a GORM CharacterEffect.
func CoreToEffect(e core.CharacterEffect) model.CharacterEffect {
	return model.CharacterEffect{
		ID:          e.ID,
		FightID:     e.FightID,
		ShotID:      e.ShotID,
		CharacterID: e.CharacterID,
		VehicleID:   e.VehicleID,
		Name:        e.Name,
		Description: e.Description,
		Severity:    e.Severity,
		ActionValue: e.ActionValue,
		Change:      e.Change,
		EndSequence: e.EndSequence,
		EndShot:     e.EndShot,
	}
}

// CoreToFight converts the fight row fields of a core.Fight.
func CoreToFight(f core.Fight) model.Fight {
	return model.Fight{
		Model:      gorm.Model{ID: f.ID},
		CampaignID: f.CampaignID,
		Name:       f.Name,
		Sequence:   f.Sequence,
		Active:     f.Active,
		StartedAt:  f.StartedAt,
		EndedAt:    f.EndedAt,
	}
}
