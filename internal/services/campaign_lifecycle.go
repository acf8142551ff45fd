package services

import (
	"context"
	"fmt"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
)

// transitionCampaign moves the campaign from one of `from` to `to` and
// publishes the change. Returns false if the campaign was in another state.
func transitionCampaign(ctx context.Context, stores Stores, events eventPublisher, campaign *models.Campaign, from []models.CampaignState, to models.CampaignState, data map[string]interface{}) (bool, error) {
	ok, err := stores.Campaigns.TransitionState(ctx, campaign.ID, from, to)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	debug.Log("Campaign state changed", map[string]interface{}{
		"campaign_id": campaign.ID,
		"old_state":   campaign.State,
		"new_state":   to,
	})
	events.campaignState(campaign.ID, campaign.State, to, data)
	campaign.State = to
	return true, nil
}

// finishCampaign completes the campaign and cancels every task that has not
// finished. Agents still holding a cancelled chunk get stop on their next heartbeat.
func finishCampaign(ctx context.Context, stores Stores, events eventPublisher, campaign *models.Campaign, reason string) (bool, error) {
	from := []models.CampaignState{models.CampaignStateActive, models.CampaignStatePaused}
	ok, err := transitionCampaign(ctx, stores, events, campaign, from, models.CampaignStateCompleted,
		map[string]interface{}{"reason": reason})
	if err != nil {
		return false, fmt.Errorf("failed to complete campaign %d: %w", campaign.ID, err)
	}
	if !ok {
		return false, nil
	}

	cancelled, err := stores.Tasks.CancelByCampaign(ctx, campaign.ID)
	if err != nil {
		return true, fmt.Errorf("failed to cancel tasks of campaign %d: %w", campaign.ID, err)
	}

	debug.Info("Campaign %d completed (%s), %d unfinished tasks cancelled", campaign.ID, reason, cancelled)
	return true, nil
}
