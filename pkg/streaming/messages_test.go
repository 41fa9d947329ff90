package streaming

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannels(t *testing.T) {
	assert.Equal(t, "fight:12", FightChannel(12))
	assert.Equal(t, "campaign:3", CampaignChannel(3))
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(TypeCampaignUpdated, CampaignChannel(3), CampaignUpdatedPayload{CampaignID: 3, FightID: 9, Reason: "combat_action"})
	require.NoError(t, err)
	assert.Len(t, env.ID, 36)
	assert.Equal(t, TypeCampaignUpdated, env.Type)
	assert.JSONEq(t, `{"campaign_id":3,"fight_id":9,"reason":"combat_action"}`, string(env.Payload))

	other, err := NewEnvelope(TypeCampaignUpdated, CampaignChannel(3), nil)
	require.NoError(t, err)
	assert.NotEqual(t, env.ID, other.ID)
}

func TestNewEnvelope_MarshalError(t *testing.T) {
	_, err := NewEnvelope(TypeFightUpdated, FightChannel(1), make(chan int))
	assert.Error(t, err)
}

func TestCommand_Decode(t *testing.T) {
	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a1","command":":UP:CHECK:","payload":{"fight_id":1}}`), &cmd))
	assert.Equal(t, ":UP:CHECK:", cmd.Command)
	assert.JSONEq(t, `{"fight_id":1}`, string(cmd.Payload))
}
