package combat

import "github.com/chiwar/encounter/pkg/core"

// woundChannel is where a character type accumulates damage.
type woundChannel int

const (
	channelActionValue woundChannel = iota // action_values.Wounds
	channelShotCount                       // the owning shot's count
)

type woundRule struct {
	channel woundChannel
	// threshold at or above which up_check_required is warranted; 0 disables the up-check path
	threshold int
}

var woundRules = map[core.CharacterType]woundRule{
	core.CharacterTypePC:          {channel: channelActionValue, threshold: 35},
	core.CharacterTypeBoss:        {channel: channelShotCount, threshold: 50},
	core.CharacterTypeUberBoss:    {channel: channelShotCount, threshold: 50},
	core.CharacterTypeAlly:        {channel: channelActionValue},
	core.CharacterTypeFeaturedFoe: {channel: channelActionValue},
	core.CharacterTypeMook:        {channel: channelActionValue},
}

func ruleFor(t core.CharacterType) woundRule {
	if r, ok := woundRules[t]; ok {
		return r
	}
	return woundRule{channel: channelActionValue}
}

// TracksWoundsOnShot reports whether damage for the type lands on the shot count.
func TracksWoundsOnShot(t core.CharacterType) bool {
	return ruleFor(t).channel == channelShotCount
}

// UpCheckThreshold returns the wound total that requires an up-check, and
// false for types that never roll one.
func UpCheckThreshold(t core.CharacterType) (int, bool) {
	r := ruleFor(t)
	return r.threshold, r.threshold > 0
}

// CurrentWounds reads the wound total through the type's channel.
func CurrentWounds(c *core.Character, s *core.Shot) int {
	if TracksWoundsOnShot(c.Type) {
		return s.Count
	}
	return c.ActionValues.Int(core.ActionValueWounds)
}

// applyWoundDelta adds delta through the type's channel. Healing past zero
// clamps at zero.
func applyWoundDelta(c *core.Character, s *core.Shot, delta int) int {
	next := CurrentWounds(c, s) + delta
	if next < 0 {
		next = 0
	}
	if TracksWoundsOnShot(c.Type) {
		s.Count = next
	} else {
		if c.ActionValues == nil {
			c.ActionValues = core.ActionValues{}
		}
		c.ActionValues.SetInt(core.ActionValueWounds, next)
	}
	return next
}

// EnforceUpCheck makes the up_check_required tag match the character's
// current wounds: present exactly once at or above the threshold, absent
// below it. Types without a threshold are left untouched. It reports
// whether the status changed.
func EnforceUpCheck(c *core.Character, s *core.Shot) bool {
	threshold, ok := UpCheckThreshold(c.Type)
	if !ok {
		return false
	}
	has := HasTag(c.Status, core.StatusUpCheckRequired)
	want := CurrentWounds(c, s) >= threshold
	switch {
	case want && !has:
		c.Status = AddTags(c.Status, []string{core.StatusUpCheckRequired})
		return true
	case !want && has:
		c.Status = RemoveTags(c.Status, []string{core.StatusUpCheckRequired})
		return true
	}
	return false
}
