package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a state change published to the notification collaborator
type EventType string

const (
	EventCampaignStateChanged EventType = "campaign_state_changed"
	EventAttackStateChanged   EventType = "attack_state_changed"
	EventTaskStateChanged     EventType = "task_state_changed"
	EventHashCracked          EventType = "hash_cracked"
	EventTaskFailedPermanent  EventType = "task_failed_permanently"
)

// Event is a fire-and-forget notification about engine state
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Type       EventType              `json:"type"`
	CampaignID int64                  `json:"campaign_id"`
	AttackID   *int64                 `json:"attack_id,omitempty"`
	TaskID     *uuid.UUID             `json:"task_id,omitempty"`
	AgentID    *int                   `json:"agent_id,omitempty"`
	OldState   string                 `json:"old_state,omitempty"`
	NewState   string                 `json:"new_state,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewEvent creates an event stamped with a fresh id and the current time
func NewEvent(eventType EventType, campaignID int64) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		CampaignID: campaignID,
		OccurredAt: time.Now().UTC(),
	}
}
