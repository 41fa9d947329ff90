// Package convert provides functions to convert GORM models to core models
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/chiwar/encounter/internal/model"
	"github.com/chiwar/encounter/pkg/core"
)

// actionValues decodes a JSON action value document. An empty column is an
// empty map; a malformed one is an error so a later save cannot overwrite
// the stored values with a partial map.
func actionValues(raw []byte) (core.ActionValues, error) {
	av := core.ActionValues{}
	if len(raw) == 0 {
		return av, nil
	}
	if err := json.Unmarshal(raw, &av); err != nil {
		return nil, fmt.Errorf("decode action_values: %w", err)
	}
	if av == nil {
		av = core.ActionValues{}
	}
	return av, nil
}

func statusTags(raw []byte) ([]string, error) {
	var tags []string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &tags); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// CharacterToCore converts a GORM Character to a core.Character.
func CharacterToCore(c model.Character) (core.Character, error) {
	av, err := actionValues(c.ActionValues)
	if err != nil {
		return core.Character{}, fmt.Errorf("character %d: %w", c.ID, err)
	}
	status, err := statusTags(c.Status)
	if err != nil {
		return core.Character{}, fmt.Errorf("character %d: %w", c.ID, err)
	}
	return core.Character{
		ID:           c.ID,
		CampaignID:   c.CampaignID,
		Name:         c.Name,
		Type:         core.ParseCharacterType(c.CharacterTyp),
		ActionValues: av,
		Status:       status,
		Impairments:  c.Impairments,
	}, nil
}

// VehicleToCore converts a GORM Vehicle to a core.Vehicle.
func VehicleToCore(v model.Vehicle) (core.Vehicle, error) {
	av, err := actionValues(v.ActionValues)
	if err != nil {
		return core.Vehicle{}, fmt.Errorf("vehicle %d: %w", v.ID, err)
	}
	return core.Vehicle{
		ID:           v.ID,
		CampaignID:   v.CampaignID,
		Name:         v.Name,
		ActionValues: av,
		Impairments:  v.Impairments,
	}, nil
}

// ShotToCore converts a GORM Shot and its preloaded character or vehicle.
func ShotToCore(s model.Shot) (core.Shot, error) {
	out := core.Shot{
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
	if s.Character != nil {
		c, err := CharacterToCore(*s.Character)
		if err != nil {
			return core.Shot{}, fmt.Errorf("shot %d: %w", s.ID, err)
		}
		out.Character = &c
	}
	if s.Vehicle != nil {
		v, err := VehicleToCore(*s.Vehicle)
		if err != nil {
			return core.Shot{}, fmt.Errorf("shot %d: %w", s.ID, err)
		}
		out.Vehicle = &v
	}
	return out, nil
}

// ChaseToCore converts a GORM ChaseRelationship to a core.ChaseRelationship.
func ChaseToCore(c model.ChaseRelationship) core.ChaseRelationship {
	return core.ChaseRelationship{
		ID:        c.ID,
		FightID:   c.FightID,
		PursuerID: c.PursuerID,
		EvaderID:  c.EvaderID,
		Position:  core.ChasePosition(c.Position),
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// EffectToCore converts a GORM CharacterEffect to a core.CharacterEffect.
func EffectToCore(e model.CharacterEffect) core.CharacterEffect {
	return core.CharacterEffect{
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

// FightToCore assembles the fight aggregate from its row, preloaded shots,
// chase relationships and effects.
func FightToCore(f model.Fight, chases []model.ChaseRelationship, effects []model.CharacterEffect) (core.Fight, error) {
	out := core.Fight{
		ID:                 f.ID,
		CampaignID:         f.CampaignID,
		Name:               f.Name,
		Sequence:           f.Sequence,
		Active:             f.Active,
		StartedAt:          f.StartedAt,
		EndedAt:            f.EndedAt,
		Shots:              make([]core.Shot, 0, len(f.Shots)),
		ChaseRelationships: make([]core.ChaseRelationship, 0, len(chases)),
		Effects:            make([]core.CharacterEffect, 0, len(effects)),
	}
	for _, s := range f.Shots {
		shot, err := ShotToCore(s)
		if err != nil {
			return core.Fight{}, err
		}
		out.Shots = append(out.Shots, shot)
	}
	for _, c := range chases {
		out.ChaseRelationships = append(out.ChaseRelationships, ChaseToCore(c))
	}
	for _, e := range effects {
		out.Effects = append(out.Effects, EffectToCore(e))
	}
	return out, nil
}
