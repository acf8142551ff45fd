package services

import (
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/google/uuid"
)

// eventPublisher builds events and hands them to the sink
type eventPublisher struct {
	sink EventSink
}

func newEventPublisher(sink EventSink) eventPublisher {
	if sink == nil {
		sink = nopSink{}
	}
	return eventPublisher{sink: sink}
}

func (p eventPublisher) campaignState(campaignID int64, from, to models.CampaignState, data map[string]interface{}) {
	e := models.NewEvent(models.EventCampaignStateChanged, campaignID)
	e.OldState, e.NewState = string(from), string(to)
	e.Data = data
	p.sink.Publish(e)
}

func (p eventPublisher) attackState(campaignID, attackID int64, from, to models.AttackState) {
	e := models.NewEvent(models.EventAttackStateChanged, campaignID)
	e.AttackID = &attackID
	e.OldState, e.NewState = string(from), string(to)
	p.sink.Publish(e)
}

func (p eventPublisher) taskState(task *models.Task, agentID *int, from, to models.TaskState, data map[string]interface{}) {
	e := models.NewEvent(models.EventTaskStateChanged, task.CampaignID)
	attackID, taskID := task.AttackID, task.ID
	e.AttackID, e.TaskID, e.AgentID = &attackID, &taskID, agentID
	e.OldState, e.NewState = string(from), string(to)
	e.Data = data
	p.sink.Publish(e)
}

func (p eventPublisher) taskFailed(task *models.Task, agentID int, retries int, reason string) {
	e := models.NewEvent(models.EventTaskFailedPermanent, task.CampaignID)
	attackID, taskID := task.AttackID, task.ID
	e.AttackID, e.TaskID, e.AgentID = &attackID, &taskID, &agentID
	e.OldState, e.NewState = string(task.State), string(models.TaskStateFailed)
	e.Data = map[string]interface{}{"retry_count": retries, "reason": reason}
	p.sink.Publish(e)
}

func (p eventPublisher) hashCracked(campaignID, attackID int64, taskID uuid.UUID, agentID int, hashValue string) {
	e := models.NewEvent(models.EventHashCracked, campaignID)
	e.AttackID, e.TaskID, e.AgentID = &attackID, &taskID, &agentID
	e.Data = map[string]interface{}{"hash": hashValue}
	p.sink.Publish(e)
}
