package combat

import (
	"testing"

	"github.com/chiwar/encounter/pkg/core"
	"github.com/stretchr/testify/assert"
)

func pc(wounds int, status ...string) *core.Character {
	return &core.Character{Type: core.CharacterTypePC, ActionValues: core.ActionValues{"Wounds": wounds}, Status: status}
}

func TestUpCheckThreshold(t *testing.T) {
	tests := []struct {
		typ       core.CharacterType
		threshold int
		ok        bool
		onShot    bool
	}{
		{core.CharacterTypePC, 35, true, false},
		{core.CharacterTypeBoss, 50, true, true},
		{core.CharacterTypeUberBoss, 50, true, true},
		{core.CharacterTypeAlly, 0, false, false},
		{core.CharacterTypeFeaturedFoe, 0, false, false},
		{core.CharacterTypeMook, 0, false, false},
		{core.CharacterTypeOther, 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			threshold, ok := UpCheckThreshold(tt.typ)
			assert.Equal(t, tt.threshold, threshold)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.onShot, TracksWoundsOnShot(tt.typ))
		})
	}
}

func TestEnforceUpCheck_PC(t *testing.T) {
	for wounds := 0; wounds <= 60; wounds++ {
		c := pc(wounds, "dazed")
		EnforceUpCheck(c, &core.Shot{})
		if wounds >= 35 {
			assert.Equal(t, []string{"dazed", core.StatusUpCheckRequired}, c.Status, "wounds=%d", wounds)
		} else {
			assert.Equal(t, []string{"dazed"}, c.Status, "wounds=%d", wounds)
		}
	}
}

func TestEnforceUpCheck_IsIdempotent(t *testing.T) {
	c := pc(40, core.StatusUpCheckRequired)
	assert.False(t, EnforceUpCheck(c, &core.Shot{}))
	assert.Equal(t, []string{core.StatusUpCheckRequired}, c.Status)
}

func TestEnforceUpCheck_RemovesBelowThreshold(t *testing.T) {
	c := pc(34, core.StatusUpCheckRequired, "cheesing_it")
	assert.True(t, EnforceUpCheck(c, &core.Shot{}))
	assert.Equal(t, []string{"cheesing_it"}, c.Status)
}

func TestEnforceUpCheck_BossReadsShotCount(t *testing.T) {
	boss := &core.Character{Type: core.CharacterTypeBoss, ActionValues: core.ActionValues{"Wounds": 80}}

	EnforceUpCheck(boss, &core.Shot{Count: 49})
	assert.NotContains(t, boss.Status, core.StatusUpCheckRequired, "action value wounds are ignored for bosses")

	EnforceUpCheck(boss, &core.Shot{Count: 50})
	assert.Contains(t, boss.Status, core.StatusUpCheckRequired)
}

func TestEnforceUpCheck_NoThresholdTypes(t *testing.T) {
	for _, typ := range []core.CharacterType{core.CharacterTypeFeaturedFoe, core.CharacterTypeAlly, core.CharacterTypeMook} {
		c := &core.Character{Type: typ, ActionValues: core.ActionValues{"Wounds": 500}}
		assert.False(t, EnforceUpCheck(c, &core.Shot{Count: 500}))
		assert.Empty(t, c.Status, typ.String())
	}
}

func TestApplyWoundDelta(t *testing.T) {
	c := pc(30)
	assert.Equal(t, 40, applyWoundDelta(c, &core.Shot{}, 10))
	assert.Equal(t, 40, c.ActionValues.Int(core.ActionValueWounds))

	assert.Equal(t, 0, applyWoundDelta(c, &core.Shot{}, -55), "healing clamps at zero")

	uber := &core.Character{Type: core.CharacterTypeUberBoss}
	s := &core.Shot{Count: 12}
	assert.Equal(t, 20, applyWoundDelta(uber, s, 8))
	assert.Equal(t, 20, s.Count)
	assert.Nil(t, uber.ActionValues)

	mook := &core.Character{Type: core.CharacterTypeMook}
	applyWoundDelta(mook, &core.Shot{}, 3)
	assert.Equal(t, 3, mook.ActionValues.Int(core.ActionValueWounds))
}
