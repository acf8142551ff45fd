// Package integration pushes engine state changes to agents connected over WebSocket.
package integration

import (
	"context"
	"fmt"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	wsservice "github.com/ZerkerEOD/krakenhashes/coordinator/internal/services/websocket"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/google/uuid"
)

// AgentConnections is the part of the WebSocket handler the pusher needs
type AgentConnections interface {
	SendMessage(agentID int, msg *wsservice.Message) error
	GetConnectedAgents() []int
}

// AgentPusher turns engine events into messages for connected agents so they
// do not wait for their next heartbeat. Agents polling over HTTP are unaffected.
type AgentPusher struct {
	wsHandler AgentConnections
}

// NewAgentPusher creates a pusher over the given connections
func NewAgentPusher(wsHandler AgentConnections) *AgentPusher {
	return &AgentPusher{wsHandler: wsHandler}
}

func (p *AgentPusher) Name() string { return "agent_push" }

// Deliver implements the notification channel interface
func (p *AgentPusher) Deliver(ctx context.Context, event models.Event) error {
	switch event.Type {
	case models.EventCampaignStateChanged:
		switch models.CampaignState(event.NewState) {
		case models.CampaignStateActive, models.CampaignStatePaused, models.CampaignStateCompleted:
			p.RequestCheckIns()
		}
	case models.EventTaskStateChanged:
		if event.AgentID == nil || event.TaskID == nil {
			return nil
		}
		reason, _ := event.Data["reason"].(string)
		if models.TaskState(event.NewState) == models.TaskStatePending && reason == "agent disabled" {
			return p.SendJobStop(*event.AgentID, *event.TaskID, reason)
		}
	}
	return nil
}

// SendJobStop tells an agent to abandon a chunk
func (p *AgentPusher) SendJobStop(agentID int, taskID uuid.UUID, reason string) error {
	msg, err := wsservice.NewMessage(wsservice.TypeJobStop, wsservice.JobStopPayload{TaskID: taskID, Reason: reason})
	if err != nil {
		return err
	}
	if !p.connected(agentID) {
		return nil
	}
	if err := p.wsHandler.SendMessage(agentID, msg); err != nil {
		return fmt.Errorf("failed to send job stop via WebSocket: %w", err)
	}

	debug.Log("Job stop command sent", map[string]interface{}{
		"task_id":  taskID,
		"agent_id": agentID,
		"reason":   reason,
	})
	return nil
}

// RequestCheckIns asks every connected agent to heartbeat immediately
func (p *AgentPusher) RequestCheckIns() {
	msg := &wsservice.Message{Type: wsservice.TypeCheckInRequest}
	for _, agentID := range p.wsHandler.GetConnectedAgents() {
		if err := p.wsHandler.SendMessage(agentID, msg); err != nil {
			debug.Warning("Failed to request check-in from agent %d: %v", agentID, err)
		}
	}
}

func (p *AgentPusher) connected(agentID int) bool {
	for _, id := range p.wsHandler.GetConnectedAgents() {
		if id == agentID {
			return true
		}
	}
	return false
}
