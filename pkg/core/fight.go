// pkg/core/fight.go
package core

import (
	"time"
)

// Fight is the aggregate root for one combat encounter.
type Fight struct {
	ID         uint       `json:"id"`
	CampaignID uint       `json:"campaign_id"`
	Name       string     `json:"name"`
	Sequence   int        `json:"sequence"`
	Active     bool       `json:"active"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	Shots              []Shot              `json:"shots"`
	ChaseRelationships []ChaseRelationship `json:"chase_relationships"`
	Effects            []CharacterEffect   `json:"effects"`
}

// Shot returns the shot with the given id.
func (f *Fight) Shot(id uint) (*Shot, bool) {
	for i := range f.Shots {
		if f.Shots[i].ID == id {
			return &f.Shots[i], true
		}
	}
	return nil, false
}

// ShotForCharacter returns the shot binding the given character to this fight.
func (f *Fight) ShotForCharacter(characterID uint) (*Shot, bool) {
	for i := range f.Shots {
		if id := f.Shots[i].CharacterID; id != nil && *id == characterID {
			return &f.Shots[i], true
		}
	}
	return nil, false
}

// ShotForVehicle returns the shot binding the given vehicle to this fight.
func (f *Fight) ShotForVehicle(vehicleID uint) (*Shot, bool) {
	for i := range f.Shots {
		if id := f.Shots[i].VehicleID; id != nil && *id == vehicleID {
			return &f.Shots[i], true
		}
	}
	return nil, false
}

// CurrentShot is the highest visible initiative value in the fight, or nil
// when every shot is hidden.
func (f *Fight) CurrentShot() *int {
	var current *int
	for i := range f.Shots {
		s := f.Shots[i].Shot
		if s == nil {
			continue
		}
		if current == nil || *s > *current {
			v := *s
			current = &v
		}
	}
	return current
}

// Shot is a turn slot binding one character or vehicle to a fight.
type Shot struct {
	ID                 uint   `json:"id"`
	FightID            uint   `json:"fight_id"`
	Shot               *int   `json:"shot"`
	Count              int    `json:"count"`
	Impairments        int    `json:"impairments"`
	Color              string `json:"color,omitempty"`
	Location           string `json:"location,omitempty"`
	CharacterID        *uint  `json:"character_id,omitempty"`
	VehicleID          *uint  `json:"vehicle_id,omitempty"`
	DriverID           *uint  `json:"driver_id,omitempty"`
	DrivingID          *uint  `json:"driving_id,omitempty"`
	WasRammedOrDamaged bool   `json:"was_rammed_or_damaged"`

	Character *Character `json:"character,omitempty"`
	Vehicle   *Vehicle   `json:"vehicle,omitempty"`
}

// IsCharacter reports whether the shot binds a character.
func (s *Shot) IsCharacter() bool { return s.CharacterID != nil }

// IsVehicle reports whether the shot binds a vehicle.
func (s *Shot) IsVehicle() bool { return s.VehicleID != nil }

// ChasePosition is the qualitative distance between pursuer and evader.
type ChasePosition string

const (
	ChaseNear ChasePosition = "near"
	ChaseFar  ChasePosition = "far"
)

// Valid reports whether p is a known position.
func (p ChasePosition) Valid() bool {
	return p == ChaseNear || p == ChaseFar
}

// ChaseRelationship pairs a pursuing vehicle with an evading one.
type ChaseRelationship struct {
	ID        uint          `json:"id"`
	FightID   uint          `json:"fight_id"`
	PursuerID uint          `json:"pursuer_id"`
	EvaderID  uint          `json:"evader_id"`
	Position  ChasePosition `json:"position"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Involves reports whether vehicleID is the pursuer or the evader.
func (c ChaseRelationship) Involves(vehicleID uint) bool {
	return c.PursuerID == vehicleID || c.EvaderID == vehicleID
}

// VehicleChase is a chase relationship seen from one vehicle.
type VehicleChase struct {
	ChaseRelationship
	IsPursuer bool `json:"is_pursuer"`
}

// ActiveChasesFor returns the active relationships involving vehicleID,
// tagged with the vehicle's role.
func ActiveChasesFor(rels []ChaseRelationship, vehicleID uint) []VehicleChase {
	out := []VehicleChase{}
	for _, r := range rels {
		if !r.Active || !r.Involves(vehicleID) {
			continue
		}
		out = append(out, VehicleChase{ChaseRelationship: r, IsPursuer: r.PursuerID == vehicleID})
	}
	return out
}

// CharacterEffect is a status-bearing modifier scoped to a shot, character or vehicle.
type CharacterEffect struct {
	ID          uint   `json:"id"`
	FightID     uint   `json:"fight_id"`
	ShotID      *uint  `json:"shot_id,omitempty"`
	CharacterID *uint  `json:"character_id,omitempty"`
	VehicleID   *uint  `json:"vehicle_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
	ActionValue string `json:"action_value,omitempty"`
	Change      string `json:"change,omitempty"`
	EndSequence *int   `json:"end_sequence,omitempty"`
	EndShot     *int   `json:"end_shot,omitempty"`
}

// ActiveAt reports whether the effect is still in force at the given
// sequence and current shot. Shots count down within a sequence, so an end
// shot is passed once the current shot drops below it.
func (e CharacterEffect) ActiveAt(sequence int, currentShot *int) bool {
	if e.EndSequence == nil {
		return true
	}
	if sequence != *e.EndSequence {
		return sequence < *e.EndSequence
	}
	if e.EndShot == nil || currentShot == nil {
		return true
	}
	return *currentShot >= *e.EndShot
}

// UpCheck is the outcome of a wound-threshold recovery roll.
type UpCheck struct {
	CharacterID uint `json:"character_id"`
	Success     bool `json:"success"`
	Result      int  `json:"result"`
}
