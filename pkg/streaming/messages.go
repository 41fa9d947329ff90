package streaming

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message type constants matching the realtime protocol.
const (
	TypeFightUpdated    = "fight_updated"
	TypeCampaignUpdated = "campaign_updated"
	TypeHello           = "hello"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Channel string          `json:"channel"` // fight:<id> or campaign:<id>
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the envelope id being acknowledged
}

// FightChannel names the channel subscribers of one fight listen on.
func FightChannel(fightID uint) string {
	return fmt.Sprintf("fight:%d", fightID)
}

// CampaignChannel names the channel subscribers of one campaign listen on.
func CampaignChannel(campaignID uint) string {
	return fmt.Sprintf("campaign:%d", campaignID)
}

// NewEnvelope marshals payload into an envelope with a fresh id.
func NewEnvelope(msgType, channel string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{
		ID:      uuid.NewString(),
		Type:    msgType,
		Channel: channel,
		SentAt:  time.Now().UTC(),
		Payload: raw,
	}, nil
}

// CampaignUpdatedPayload tells campaign subscribers which fight changed.
type CampaignUpdatedPayload struct {
	CampaignID uint   `json:"campaign_id"`
	FightID    uint   `json:"fight_id"`
	Reason     string `json:"reason"`
}

// HelloPayload identifies a publisher to the realtime server. The server
// acks it before any fight traffic is accepted.
type HelloPayload struct {
	Source string `json:"source"`
}

// Command is one request read by the command loop.
type Command struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// Result is the response written for each Command.
type Result struct {
	ID     string `json:"id,omitempty"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"` // not_found, commit_failure, constraint_violation, invalid
}
