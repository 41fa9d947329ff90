// pkg/core/character.go
package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Well-known action value keys.
const (
	ActionValueWounds = "Wounds"
	ActionValueSpeed  = "Speed"
)

// Status tags with engine-level meaning.
const (
	StatusUpCheckRequired = "up_check_required"
	StatusOutOfFight      = "out_of_fight"
)

// CharacterType is the closed set of character kinds. It selects wound
// routing, up-check thresholds and initiative sort precedence.
type CharacterType int

const (
	CharacterTypeOther CharacterType = iota
	CharacterTypeUberBoss
	CharacterTypeBoss
	CharacterTypePC
	CharacterTypeAlly
	CharacterTypeFeaturedFoe
	CharacterTypeMook
)

var characterTypeNames = map[CharacterType]string{
	CharacterTypeOther:       "Other",
	CharacterTypeUberBoss:    "Uber-Boss",
	CharacterTypeBoss:        "Boss",
	CharacterTypePC:          "PC",
	CharacterTypeAlly:        "Ally",
	CharacterTypeFeaturedFoe: "Featured Foe",
	CharacterTypeMook:        "Mook",
}

// ParseCharacterType maps a stored type name to a CharacterType.
// Matching ignores case and surrounding whitespace; unknown names are Other.
func ParseCharacterType(s string) CharacterType {
	s = strings.TrimSpace(s)
	for t, name := range characterTypeNames {
		if strings.EqualFold(name, s) {
			return t
		}
	}
	return CharacterTypeOther
}

func (t CharacterType) String() string {
	if name, ok := characterTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("CharacterType(%d)", int(t))
}

// MarshalText encodes the type as its display name.
func (t CharacterType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a display name.
func (t *CharacterType) UnmarshalText(b []byte) error {
	*t = ParseCharacterType(string(b))
	return nil
}

// ActionValues holds a character's or vehicle's game attributes. Values come
// from loosely typed JSON, so numbers may arrive as strings.
type ActionValues map[string]any

// Int returns the value under key as an integer, or 0 when missing or
// unparseable. Strings are read as decimal, so "010" is 10; a decimal
// fraction such as "13.5" truncates.
func (av ActionValues) Int(key string) int {
	v, ok := av[key]
	if !ok || v == nil {
		return 0
	}
	if s, ok := v.(string); ok {
		return parseDecimal(s)
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0
	}
	return n
}

func parseDecimal(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 0); err == nil {
		return int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f)
	}
	return 0
}

// SetInt stores an integer value under key.
func (av ActionValues) SetInt(key string, n int) {
	av[key] = n
}

// Clone returns a shallow copy.
func (av ActionValues) Clone() ActionValues {
	out := make(ActionValues, len(av))
	for k, v := range av {
		out[k] = v
	}
	return out
}

// Character is the participant view of a campaign character.
type Character struct {
	ID           uint          `json:"id"`
	CampaignID   uint          `json:"campaign_id"`
	Name         string        `json:"name"`
	Type         CharacterType `json:"type"`
	ActionValues ActionValues  `json:"action_values"`
	Status       []string      `json:"status"`
	Impairments  int           `json:"impairments"`
}

// Vehicle is the participant view of a campaign vehicle.
type Vehicle struct {
	ID           uint         `json:"id"`
	CampaignID   uint         `json:"campaign_id"`
	Name         string       `json:"name"`
	ActionValues ActionValues `json:"action_values"`
	Impairments  int          `json:"impairments"`
}
