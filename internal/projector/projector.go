// Package projector builds the per-shot view of a fight that clients render:
// who acts at each initiative value, in what order, driving what.
package projector

import (
	"cmp"
	"slices"
	"strings"

	"github.com/chiwar/encounter/pkg/core"
)

// Encounter is the rendered state of one fight.
type Encounter struct {
	FightID     uint        `json:"fight_id"`
	CampaignID  uint        `json:"campaign_id"`
	Name        string      `json:"name"`
	Sequence    int         `json:"sequence"`
	Active      bool        `json:"active"`
	CurrentShot *int        `json:"current_shot"`
	Shots       []ShotGroup `json:"shots"`
}

// ShotGroup holds everyone acting at one initiative value. A nil Shot is
// the hidden group.
type ShotGroup struct {
	Shot       *int             `json:"shot"`
	Characters []CharacterEntry `json:"characters"`
	Vehicles   []VehicleEntry   `json:"vehicles"`
}

// ShotState is the per-fight state carried by a shot.
type ShotState struct {
	ShotID             uint   `json:"shot_id"`
	Shot               *int   `json:"shot"`
	Count              int    `json:"count"`
	Impairments        int    `json:"impairments"`
	Color              string `json:"color,omitempty"`
	Location           string `json:"location,omitempty"`
	WasRammedOrDamaged bool   `json:"was_rammed_or_damaged"`
}

// CharacterEntry is a character at a shot.
type CharacterEntry struct {
	ShotState
	Character      core.Character         `json:"character"`
	EffectiveSpeed int                    `json:"effective_speed"`
	Effects        []core.CharacterEffect `json:"effects"`
	Driving        *VehicleEntry          `json:"driving,omitempty"`
}

// VehicleEntry is a vehicle at a shot.
type VehicleEntry struct {
	ShotState
	Vehicle core.Vehicle           `json:"vehicle"`
	Effects []core.CharacterEffect `json:"effects"`
	Chases  []core.VehicleChase    `json:"chase_relationships"`
	Driver  *DriverRef             `json:"driver,omitempty"`
}

// DriverRef identifies the character driving a vehicle.
type DriverRef struct {
	ShotID      uint   `json:"shot_id"`
	CharacterID uint   `json:"character_id"`
	Name        string `json:"name"`
}

// typePrecedence orders characters within a shot; lower acts first.
var typePrecedence = map[core.CharacterType]int{
	core.CharacterTypeUberBoss:    1,
	core.CharacterTypeBoss:        2,
	core.CharacterTypePC:          3,
	core.CharacterTypeAlly:        4,
	core.CharacterTypeFeaturedFoe: 5,
	core.CharacterTypeMook:        6,
}

const otherPrecedence = 7

func precedence(t core.CharacterType) int {
	if p, ok := typePrecedence[t]; ok {
		return p
	}
	return otherPrecedence
}

// EffectiveSpeed is Speed minus impairments. PCs carry impairments on the
// character; everyone else carries them on the shot.
func EffectiveSpeed(c *core.Character, s *core.Shot) int {
	impairments := s.Impairments
	if c.Type == core.CharacterTypePC {
		impairments = c.Impairments
	}
	return c.ActionValues.Int(core.ActionValueSpeed) - impairments
}

// Project renders f without modifying it.
func Project(f *core.Fight) Encounter {
	current := f.CurrentShot()
	p := projection{
		fight:   f,
		byID:    make(map[uint]*core.Shot, len(f.Shots)),
		driven:  make(map[uint]bool),
		current: current,
	}
	for i := range f.Shots {
		p.byID[f.Shots[i].ID] = &f.Shots[i]
	}
	for i := range f.Shots {
		s := &f.Shots[i]
		if !s.IsCharacter() || s.DrivingID == nil {
			continue
		}
		if target, ok := p.byID[*s.DrivingID]; ok && target.IsVehicle() {
			p.driven[target.ID] = true
		}
	}

	return Encounter{
		FightID:     f.ID,
		CampaignID:  f.CampaignID,
		Name:        f.Name,
		Sequence:    f.Sequence,
		Active:      f.Active,
		CurrentShot: current,
		Shots:       p.groups(),
	}
}

type projection struct {
	fight   *core.Fight
	byID    map[uint]*core.Shot
	driven  map[uint]bool // vehicle shot ids with a driver in the fight
	current *int
}

func (p *projection) groups() []ShotGroup {
	values := make(map[int]*ShotGroup)
	var hidden *ShotGroup

	groupFor := func(v *int) *ShotGroup {
		if v == nil {
			if hidden == nil {
				hidden = newGroup(nil)
			}
			return hidden
		}
		g, ok := values[*v]
		if !ok {
			n := *v
			g = newGroup(&n)
			values[*v] = g
		}
		return g
	}

	for i := range p.fight.Shots {
		s := &p.fight.Shots[i]
		switch {
		case s.IsCharacter():
			if s.Character == nil {
				continue
			}
			g := groupFor(s.Shot)
			g.Characters = append(g.Characters, p.characterEntry(s))
		case s.IsVehicle():
			if s.Vehicle == nil || p.driven[s.ID] {
				continue
			}
			g := groupFor(s.Shot)
			g.Vehicles = append(g.Vehicles, p.vehicleEntry(s))
		}
	}

	out := make([]ShotGroup, 0, len(values)+1)
	for _, g := range values {
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b ShotGroup) int {
		return cmp.Compare(*b.Shot, *a.Shot)
	})
	if hidden != nil {
		out = append(out, *hidden)
	}

	result := out[:0]
	for _, g := range out {
		if len(g.Characters) == 0 && len(g.Vehicles) == 0 {
			continue
		}
		sortCharacters(g.Characters)
		sortVehicles(g.Vehicles)
		result = append(result, g)
	}
	return result
}

func newGroup(shot *int) *ShotGroup {
	return &ShotGroup{Shot: shot, Characters: []CharacterEntry{}, Vehicles: []VehicleEntry{}}
}

func (p *projection) characterEntry(s *core.Shot) CharacterEntry {
	e := CharacterEntry{
		ShotState:      stateOf(s),
		Character:      *s.Character,
		EffectiveSpeed: EffectiveSpeed(s.Character, s),
		Effects:        p.effectsFor(s.ID),
	}
	if s.DrivingID != nil {
		if v, ok := p.byID[*s.DrivingID]; ok && v.IsVehicle() && v.Vehicle != nil {
			ve := p.vehicleEntry(v)
			e.Driving = &ve
		}
	}
	return e
}

func (p *projection) vehicleEntry(s *core.Shot) VehicleEntry {
	e := VehicleEntry{
		ShotState: stateOf(s),
		Vehicle:   *s.Vehicle,
		Effects:   p.effectsFor(s.ID),
		Chases:    core.ActiveChasesFor(p.fight.ChaseRelationships, s.Vehicle.ID),
	}
	if s.DriverID != nil {
		if d, ok := p.byID[*s.DriverID]; ok && d.IsCharacter() && d.Character != nil {
			e.Driver = &DriverRef{ShotID: d.ID, CharacterID: d.Character.ID, Name: d.Character.Name}
		}
	}
	return e
}

// effectsFor returns the shot-scoped effects still in force.
func (p *projection) effectsFor(shotID uint) []core.CharacterEffect {
	out := []core.CharacterEffect{}
	for _, eff := range p.fight.Effects {
		if eff.ShotID == nil || *eff.ShotID != shotID {
			continue
		}
		if !eff.ActiveAt(p.fight.Sequence, p.current) {
			continue
		}
		out = append(out, eff)
	}
	return out
}

func stateOf(s *core.Shot) ShotState {
	return ShotState{
		ShotID:             s.ID,
		Shot:               s.Shot,
		Count:              s.Count,
		Impairments:        s.Impairments,
		Color:              s.Color,
		Location:           s.Location,
		WasRammedOrDamaged: s.WasRammedOrDamaged,
	}
}

func sortCharacters(entries []CharacterEntry) {
	slices.SortStableFunc(entries, func(a, b CharacterEntry) int {
		if c := cmp.Compare(precedence(a.Character.Type), precedence(b.Character.Type)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.EffectiveSpeed, a.EffectiveSpeed); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(a.Character.Name), strings.ToLower(b.Character.Name))
	})
}

func sortVehicles(entries []VehicleEntry) {
	slices.SortStableFunc(entries, func(a, b VehicleEntry) int {
		if c := cmp.Compare(strings.ToLower(a.Vehicle.Name), strings.ToLower(b.Vehicle.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.ShotID, b.ShotID)
	})
}
