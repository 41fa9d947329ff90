package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Campaign{},
	&Character{},
	&Vehicle{},
	&Fight{},
	&Shot{},
	&ChaseRelationship{},
	&CharacterEffect{},
	&FightEvent{},
}

////////////////////////
// CAMPAIGN MODELS
////////////////////////

// Campaign groups characters, vehicles and fights
type Campaign struct {
	gorm.Model
	Name string `json:"name" gorm:"size:255"`
}

func (*Campaign) TableName() string {
	return "campaigns"
}

// Character is a campaign character. ActionValues and Status are JSON documents.
type Character struct {
	gorm.Model
	CampaignID   uint           `json:"campaignId" gorm:"index:idx_character_campaign_id"`
	Name         string         `json:"name" gorm:"size:255"`
	CharacterTyp string         `json:"type" gorm:"column:character_type;size:32"` // PC, Ally, Featured Foe, Boss, Uber-Boss, Mook
	ActionValues datatypes.JSON `json:"actionValues" gorm:"default:'{}'"`
	Status       datatypes.JSON `json:"status" gorm:"default:'[]'"`
	Impairments  int            `json:"impairments" gorm:"default:0"`
}

func (*Character) TableName() string {
	return "characters"
}

// Vehicle is a campaign vehicle
type Vehicle struct {
	gorm.Model
	CampaignID   uint           `json:"campaignId" gorm:"index:idx_vehicle_campaign_id"`
	Name         string         `json:"name" gorm:"size:255"`
	ActionValues datatypes.JSON `json:"actionValues" gorm:"default:'{}'"`
	Impairments  int            `json:"impairments" gorm:"default:0"`
}

func (*Vehicle) TableName() string {
	return "vehicles"
}

////////////////////////
// FIGHT MODELS
////////////////////////

// Fight is one combat encounter
type Fight struct {
	gorm.Model
	CampaignID uint       `json:"campaignId" gorm:"index:idx_fight_campaign_id"`
	Name       string     `json:"name" gorm:"size:255"`
	Sequence   int        `json:"sequence" gorm:"not null;default:1"` // incremented in SQL, never read-modify-write
	Active     bool       `json:"active" gorm:"not null;default:true;index:idx_fight_active"`
	StartedAt  *time.Time `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt"`
	Shots      []Shot     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (*Fight) TableName() string {
	return "fights"
}

// Shot binds exactly one character or vehicle to a fight.
// DriverID/DrivingID are shot ids within the same fight.
type Shot struct {
	ID                 uint       `json:"id" gorm:"primarykey"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	FightID            uint       `json:"fightId" gorm:"not null;index:idx_shot_fight_id"`
	Shot               *int       `json:"shot" gorm:"column:shot"` // NULL = hidden
	Count              int        `json:"count" gorm:"not null;default:0"`
	Impairments        int        `json:"impairments" gorm:"not null;default:0"`
	Color              string     `json:"color" gorm:"size:32"`
	Location           string     `json:"location" gorm:"size:255"`
	CharacterID        *uint      `json:"characterId" gorm:"index:idx_shot_character_id;check:chk_shots_binding,(character_id IS NULL) <> (vehicle_id IS NULL)"`
	VehicleID          *uint      `json:"vehicleId" gorm:"index:idx_shot_vehicle_id"`
	DriverID           *uint      `json:"driverId"`
	DrivingID          *uint      `json:"drivingId"`
	WasRammedOrDamaged bool       `json:"wasRammedOrDamaged" gorm:"not null;default:false"`
	Character          *Character `gorm:"foreignkey:CharacterID"`
	Vehicle            *Vehicle   `gorm:"foreignkey:VehicleID"`
}

func (*Shot) TableName() string {
	return "shots"
}

// ChaseRelationship pairs two vehicles in a fight. PairLow/PairHigh hold the
// ordered vehicle ids so the partial unique index covers the unordered pair.
type ChaseRelationship struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	FightID   uint      `json:"fightId" gorm:"not null;index:idx_chase_fight_id"`
	PursuerID uint      `json:"pursuerId" gorm:"not null;check:chk_chase_distinct,pursuer_id <> evader_id"`
	EvaderID  uint      `json:"evaderId" gorm:"not null"`
	PairLow   uint      `json:"-" gorm:"not null"`
	PairHigh  uint      `json:"-" gorm:"not null"`
	Position  string    `json:"position" gorm:"size:8;not null;default:far"`
	Active    bool      `json:"active" gorm:"not null;default:true"`
	Fight     Fight     `gorm:"foreignkey:FightID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (*ChaseRelationship) TableName() string {
	return "chase_relationships"
}

// ActiveChasePairIndex enforces one active chase per unordered pair per fight.
const ActiveChasePairIndex = "idx_chase_active_pair"

// CharacterEffect is a modifier scoped to a shot, character or vehicle
type CharacterEffect struct {
	ID          uint      `json:"id" gorm:"primarykey"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	FightID     uint      `json:"fightId" gorm:"not null;index:idx_effect_fight_id"`
	ShotID      *uint     `json:"shotId" gorm:"index:idx_effect_shot_id"`
	CharacterID *uint     `json:"characterId"`
	VehicleID   *uint     `json:"vehicleId"`
	Name        string    `json:"name" gorm:"size:255"`
	Description string    `json:"description" gorm:"size:2000"`
	Severity    string    `json:"severity" gorm:"size:32"`
	ActionValue string    `json:"actionValue" gorm:"size:64"`
	Change      string    `json:"change" gorm:"size:32"`
	EndSequence *int      `json:"endSequence"`
	EndShot     *int      `json:"endShot"`
	Fight       Fight     `gorm:"foreignkey:FightID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (*CharacterEffect) TableName() string {
	return "character_effects"
}

////////////////////////
// HISTORY
////////////////////////

// FightEvent is an append-only audit record of something that happened in a fight
type FightEvent struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	UUID      string         `json:"uuid" gorm:"size:36;uniqueIndex:idx_fight_event_uuid"`
	CreatedAt time.Time      `json:"createdAt" gorm:"index:idx_fight_event_created_at"`
	FightID   uint           `json:"fightId" gorm:"not null;index:idx_fight_event_fight_id"`
	Kind      string         `json:"kind" gorm:"size:32"` // combat_action, up_check, chase_start, chase_resolve, ...
	Payload   datatypes.JSON `json:"payload"`
	Fight     Fight          `gorm:"foreignkey:FightID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (*FightEvent) TableName() string {
	return "fight_events"
}
