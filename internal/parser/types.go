package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/chiwar/encounter/internal/fight"
	"github.com/chiwar/encounter/pkg/core"
	"github.com/spf13/cast"
)

// ID is a row id that tolerates clients sending 12, 12.0 or "12".
type ID uint

// UnmarshalJSON accepts integral numbers and numeric strings.
func (id *ID) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*id = 0
		return nil
	}
	switch v := raw.(type) {
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return fmt.Errorf("id %v is not a whole number", v)
		}
		n, err := cast.ToUintE(v)
		if err != nil {
			return fmt.Errorf("invalid id %s: %w", b, err)
		}
		*id = ID(n)
	case string:
		// decimal only; "010" is 10, not octal
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 0)
		if err != nil {
			return fmt.Errorf("invalid id %s: %w", b, err)
		}
		*id = ID(n)
	default:
		return fmt.Errorf("invalid id %s", b)
	}
	return nil
}

// CombatAction is a batch of shot updates for one fight.
type CombatAction struct {
	FightID uint
	Updates []core.ShotUpdate
	// Malformed counts update records that could not be decoded.
	Malformed int
}

// UpCheck is an up-check result for a character in a fight.
type UpCheck struct {
	FightID uint
	Check   core.UpCheck
}

// ChaseStart opens a chase between two vehicles.
type ChaseStart struct {
	FightID   uint
	PursuerID uint
	EvaderID  uint
	Position  core.ChasePosition
}

// ChaseRef addresses one chase, optionally with a new position.
type ChaseRef struct {
	FightID  uint
	ChaseID  uint
	Position core.ChasePosition
}

// FightRef addresses a fight, optionally narrowed to a vehicle.
type FightRef struct {
	FightID   uint
	VehicleID uint
}

// FightCreate names a new fight.
type FightCreate struct {
	CampaignID uint
	Name       string
}

// ShotJoin adds a character or vehicle to a fight.
type ShotJoin struct {
	FightID uint
	Request fight.JoinRequest
}

// ShotRef addresses one shot.
type ShotRef struct {
	FightID uint
	ShotID  uint
}

// Drive links a driver shot to a vehicle shot. A zero VehicleShotID means
// the driver gets out.
type Drive struct {
	FightID       uint
	DriverShotID  uint
	VehicleShotID uint
}

// EffectAdd attaches an effect to a fight.
type EffectAdd struct {
	FightID uint
	Effect  core.CharacterEffect
}
