// Package parser decodes command payloads into typed requests. It does no
// storage work; validation is limited to what can be checked from the
// payload alone.
package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chiwar/encounter/internal/fight"
	"github.com/chiwar/encounter/pkg/core"
)

// Parser provides pure JSON -> request conversion.
// It has zero external dependencies beyond a logger.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new parser with only a logger dependency
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload: %w", core.ErrInvalid)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalid, err)
	}
	return nil
}

func required(name string, v ID) error {
	if v == 0 {
		return fmt.Errorf("%s is required: %w", name, core.ErrInvalid)
	}
	return nil
}

// ParseCombatAction decodes {"fight_id", "updates": [...]}. An update
// record that fails to decode is logged and left out of the batch instead
// of failing the whole action.
func (p *Parser) ParseCombatAction(data json.RawMessage) (CombatAction, error) {
	var raw struct {
		FightID ID                `json:"fight_id"`
		Updates []json.RawMessage `json:"updates"`
	}
	if err := decode(data, &raw); err != nil {
		return CombatAction{}, err
	}
	if err := required("fight_id", raw.FightID); err != nil {
		return CombatAction{}, err
	}

	out := CombatAction{FightID: uint(raw.FightID), Updates: make([]core.ShotUpdate, 0, len(raw.Updates))}
	for i, rec := range raw.Updates {
		u, err := parseShotUpdate(rec)
		if err != nil {
			p.logger.Warn("Dropping malformed update record", "fightID", out.FightID, "index", i, "error", err)
			out.Malformed++
			continue
		}
		out.Updates = append(out.Updates, u)
	}
	return out, nil
}

func parseShotUpdate(rec json.RawMessage) (core.ShotUpdate, error) {
	var u core.ShotUpdate
	var ids struct {
		ShotID *ID `json:"shot_id"`
	}
	if err := json.Unmarshal(rec, &ids); err != nil {
		return u, err
	}

	// shot_id is decoded leniently above; blank it before the strict pass.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec, &fields); err != nil {
		return u, err
	}
	delete(fields, "shot_id")
	rest, err := json.Marshal(fields)
	if err != nil {
		return u, err
	}
	if err := json.Unmarshal(rest, &u); err != nil {
		return u, err
	}

	if ids.ShotID != nil && *ids.ShotID != 0 {
		v := uint(*ids.ShotID)
		u.ShotID = &v
	}
	return u, nil
}

// ParseUpCheck decodes {"fight_id", "character_id", "success", "result"}.
func (p *Parser) ParseUpCheck(data json.RawMessage) (UpCheck, error) {
	var raw struct {
		FightID     ID    `json:"fight_id"`
		CharacterID ID    `json:"character_id"`
		Success     *bool `json:"success"`
		Result      int   `json:"result"`
	}
	if err := decode(data, &raw); err != nil {
		return UpCheck{}, err
	}
	if err := required("fight_id", raw.FightID); err != nil {
		return UpCheck{}, err
	}
	if err := required("character_id", raw.CharacterID); err != nil {
		return UpCheck{}, err
	}
	if raw.Success == nil {
		return UpCheck{}, fmt.Errorf("success is required: %w", core.ErrInvalid)
	}
	return UpCheck{
		FightID: uint(raw.FightID),
		Check:   core.UpCheck{CharacterID: uint(raw.CharacterID), Success: *raw.Success, Result: raw.Result},
	}, nil
}

// ParseChaseStart decodes {"fight_id", "pursuer_id", "evader_id", "position"}.
// Position defaults to far.
func (p *Parser) ParseChaseStart(data json.RawMessage) (ChaseStart, error) {
	var raw struct {
		FightID   ID     `json:"fight_id"`
		PursuerID ID     `json:"pursuer_id"`
		EvaderID  ID     `json:"evader_id"`
		Position  string `json:"position"`
	}
	if err := decode(data, &raw); err != nil {
		return ChaseStart{}, err
	}
	for name, v := range map[string]ID{"fight_id": raw.FightID, "pursuer_id": raw.PursuerID, "evader_id": raw.EvaderID} {
		if err := required(name, v); err != nil {
			return ChaseStart{}, err
		}
	}
	pos := core.ChasePosition(raw.Position)
	if pos == "" {
		pos = core.ChaseFar
	}
	return ChaseStart{FightID: uint(raw.FightID), PursuerID: uint(raw.PursuerID), EvaderID: uint(raw.EvaderID), Position: pos}, nil
}

// ParseChaseRef decodes {"fight_id", "chase_id", "position"?}.
func (p *Parser) ParseChaseRef(data json.RawMessage) (ChaseRef, error) {
	var raw struct {
		FightID  ID     `json:"fight_id"`
		ChaseID  ID     `json:"chase_id"`
		Position string `json:"position"`
	}
	if err := decode(data, &raw); err != nil {
		return ChaseRef{}, err
	}
	if err := required("fight_id", raw.FightID); err != nil {
		return ChaseRef{}, err
	}
	if err := required("chase_id", raw.ChaseID); err != nil {
		return ChaseRef{}, err
	}
	return ChaseRef{FightID: uint(raw.FightID), ChaseID: uint(raw.ChaseID), Position: core.ChasePosition(raw.Position)}, nil
}

// ParseFightRef decodes {"fight_id", "vehicle_id"?}.
func (p *Parser) ParseFightRef(data json.RawMessage) (FightRef, error) {
	var raw struct {
		FightID   ID `json:"fight_id"`
		VehicleID ID `json:"vehicle_id"`
	}
	if err := decode(data, &raw); err != nil {
		return FightRef{}, err
	}
	if err := required("fight_id", raw.FightID); err != nil {
		return FightRef{}, err
	}
	return FightRef{FightID: uint(raw.FightID), VehicleID: uint(raw.VehicleID)}, nil
}

// ParseFightCreate decodes {"campaign_id", "name"}.
func (p *Parser) ParseFightCreate(data json.RawMessage) (FightCreate, error) {
	var raw struct {
		CampaignID ID     `json:"campaign_id"`
		Name       string `json:"name"`
	}
	if err := decode(data, &raw); err != nil {
		return FightCreate{}, err
	}
	if err := required("campaign_id", raw.CampaignID); err != nil {
		return FightCreate{}, err
	}
	return FightCreate{CampaignID: uint(raw.CampaignID), Name: raw.Name}, nil
}

// ParseShotJoin decodes {"fight_id", "character_id" | "vehicle_id", "shot", "color", "location"}.
func (p *Parser) ParseShotJoin(data json.RawMessage) (ShotJoin, error) {
	var raw struct {
		FightID     ID     `json:"fight_id"`
		CharacterID ID     `json:"character_id"`
		VehicleID   ID     `json:"vehicle_id"`
		Shot        *int   `json:"shot"`
		Color       string `json:"color"`
		Location    string `json:"location"`
	}
	if err := decode(data, &raw); err != nil {
		return ShotJoin{}, err
	}
	if err := required("fight_id", raw.FightID); err != nil {
		return ShotJoin{}, err
	}

	req := fight.JoinRequest{Shot: raw.Shot, Color: raw.Color, Location: raw.Location}
	if raw.CharacterID != 0 {
		v := uint(raw.CharacterID)
		req.CharacterID = &v
	}
	if raw.VehicleID != 0 {
		v := uint(raw.VehicleID)
		req.VehicleID = &v
	}
	return ShotJoin{FightID: uint(raw.FightID), Request: req}, nil
}

// ParseShotRef decodes {"fight_id", "shot_id"}.
func (p *Parser) ParseShotRef(data json.RawMessage) (ShotRef, error) {
	var raw struct {
		FightID ID `json:"fight_id"`
		ShotID  ID `json:"shot_id"`
	}
	if err := decode(data, &raw); err != nil {
		return ShotRef{}, err
	}
	if err := required("fight_id", raw.FightID); err != nil {
		return ShotRef{}, err
	}
	if err := required("shot_id", raw.ShotID); err != nil {
		return ShotRef{}, err
	}
	return ShotRef{FightID: uint(raw.FightID), ShotID: uint(raw.ShotID)}, nil
}

// ParseDrive decodes {"fight_id", "driver_shot_id", "vehicle_shot_id"?}.
func (p *Parser) ParseDrive(data json.RawMessage) (Drive, error) {
	var raw struct {
		FightID       ID `json:"fight_id"`
		DriverShotID  ID `json:"driver_shot_id"`
		VehicleShotID ID `json:"vehicle_shot_id"`
	}
	if err := decode(data, &raw); err != nil {
		return Drive{}, err
	}
	if err := required("fight_id", raw.FightID); err != nil {
		return Drive{}, err
	}
	if err := required("driver_shot_id", raw.DriverShotID); err != nil {
		return Drive{}, err
	}
	return Drive{FightID: uint(raw.FightID), DriverShotID: uint(raw.DriverShotID), VehicleShotID: uint(raw.VehicleShotID)}, nil
}

// ParseEffectAdd decodes {"fight_id", "effect": {...}}.
func (p *Parser) ParseEffectAdd(data json.RawMessage) (EffectAdd, error) {
	var raw struct {
		FightID ID                   `json:"fight_id"`
		Effect  core.CharacterEffect `json:"effect"`
	}
	if err := decode(data, &raw); err != nil {
		return EffectAdd{}, err
	}
	if err := required("fight_id", raw.FightID); err != nil {
		return EffectAdd{}, err
	}
	return EffectAdd{FightID: uint(raw.FightID), Effect: raw.Effect}, nil
}
