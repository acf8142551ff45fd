package notify

import (
	"context"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
)

// LogDeliverer writes events to the structured log
type LogDeliverer struct{}

func (LogDeliverer) Name() string { return "log" }

func (LogDeliverer) Deliver(ctx context.Context, event models.Event) error {
	fields := map[string]interface{}{
		"event_id":    event.ID.String(),
		"type":        event.Type,
		"campaign_id": event.CampaignID,
	}
	if event.AttackID != nil {
		fields["attack_id"] = *event.AttackID
	}
	if event.TaskID != nil {
		fields["task_id"] = event.TaskID.String()
	}
	if event.AgentID != nil {
		fields["agent_id"] = *event.AgentID
	}
	if event.OldState != "" || event.NewState != "" {
		fields["old_state"] = event.OldState
		fields["new_state"] = event.NewState
	}
	for k, v := range event.Data {
		fields[k] = v
	}
	debug.Log("Event", fields)
	return nil
}
