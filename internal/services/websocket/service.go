package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/google/uuid"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Agent -> Server messages
	TypeHeartbeat   MessageType = "heartbeat"
	TypeJobProgress MessageType = "job_progress"
	TypeCrackBatch  MessageType = "crack_batch"
	TypeAgentStatus MessageType = "agent_status"

	// Server -> Agent messages
	TypeTaskAssignment MessageType = "task_assignment"
	TypeJobStop        MessageType = "job_stop"
	TypeNoWork         MessageType = "no_work"
	TypeAck            MessageType = "ack"
	TypeCrackBatchAck  MessageType = "crack_batch_ack"
	TypeError          MessageType = "error"
	TypeCheckInRequest MessageType = "check_in_request" // asks the agent to heartbeat now
)

// Agent status values that release the agent's lease
const (
	AgentStatusOffline  = "offline"
	AgentStatusDisabled = "disabled"
)

// Message represents a WebSocket message
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AgentStatusPayload is sent when the agent changes its own availability
type AgentStatusPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// JobStopPayload tells the agent to abandon a chunk
type JobStopPayload struct {
	TaskID uuid.UUID `json:"task_id"`
	Reason string    `json:"reason,omitempty"`
}

// ErrorPayload reports a message the server could not process
type ErrorPayload struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	InReply MessageType `json:"in_reply_to,omitempty"`
}

// Service translates agent messages into engine operations
type Service struct {
	engine *services.Engine
}

// NewService creates a new WebSocket service
func NewService(engine *services.Engine) *Service {
	return &Service{engine: engine}
}

// SetEngine binds the engine when the service has to exist before it, as
// when the engine's event sink pushes to agent connections
func (s *Service) SetEngine(engine *services.Engine) {
	s.engine = engine
}

// NewMessage marshals a payload into a message of the given type
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	msg := &Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	msg.Payload = data
	return msg, nil
}

// ErrorMessage builds an error reply
func ErrorMessage(code, message string, inReply MessageType) *Message {
	msg, err := NewMessage(TypeError, ErrorPayload{Code: code, Message: message, InReply: inReply})
	if err != nil {
		return &Message{Type: TypeError}
	}
	return msg
}

// HandleMessage processes one message from an agent and returns the replies to send back
func (s *Service) HandleMessage(ctx context.Context, agentID int, msg *Message) ([]*Message, error) {
	switch msg.Type {
	case TypeHeartbeat:
		return s.handleHeartbeat(ctx, agentID, msg)
	case TypeJobProgress:
		return s.handleJobProgress(ctx, agentID, msg)
	case TypeCrackBatch:
		return s.handleCrackBatch(ctx, agentID, msg)
	case TypeAgentStatus:
		return s.handleAgentStatus(ctx, agentID, msg)
	default:
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *Service) handleHeartbeat(ctx context.Context, agentID int, msg *Message) ([]*Message, error) {
	var req services.CheckInRequest
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, fmt.Errorf("failed to unmarshal heartbeat payload: %w", err)
		}
	}
	req.AgentID = agentID

	resp, err := s.engine.Scheduler.CheckIn(ctx, req)
	if err != nil {
		return nil, err
	}

	var reply *Message
	switch resp.Action {
	case services.ActionAssign:
		debug.Info("Agent %d: assigning task %s", agentID, resp.Chunk.TaskID)
		reply, err = NewMessage(TypeTaskAssignment, resp.Chunk)
	case services.ActionStop:
		stop := JobStopPayload{Reason: resp.Reason}
		if resp.TaskID != nil {
			stop.TaskID = *resp.TaskID
		}
		reply, err = NewMessage(TypeJobStop, stop)
	case services.ActionContinue:
		reply, err = NewMessage(TypeAck, resp)
	default:
		reply, err = NewMessage(TypeNoWork, resp)
	}
	if err != nil {
		return nil, err
	}
	return []*Message{reply}, nil
}

func (s *Service) handleJobProgress(ctx context.Context, agentID int, msg *Message) ([]*Message, error) {
	var report services.ProgressReport
	if err := json.Unmarshal(msg.Payload, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress payload: %w", err)
	}
	report.AgentID = agentID

	ack, err := s.engine.Progress.Report(ctx, report)
	if err != nil {
		return nil, err
	}

	if ack.Stop {
		reply, err := NewMessage(TypeJobStop, JobStopPayload{TaskID: ack.TaskID, Reason: "task no longer runnable"})
		if err != nil {
			return nil, err
		}
		return []*Message{reply}, nil
	}

	reply, err := NewMessage(TypeAck, ack)
	if err != nil {
		return nil, err
	}
	return []*Message{reply}, nil
}

func (s *Service) handleCrackBatch(ctx context.Context, agentID int, msg *Message) ([]*Message, error) {
	var batch services.CrackBatch
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal crack batch payload: %w", err)
	}
	batch.AgentID = agentID

	result, err := s.engine.Results.IngestBatch(ctx, batch)
	if err != nil {
		return nil, err
	}

	debug.Log("Processed crack batch", map[string]interface{}{
		"agent_id":      agentID,
		"task_id":       batch.TaskID,
		"newly_cracked": result.NewlyCracked,
		"duplicates":    result.Duplicates,
		"rejected":      len(result.Rejected),
	})

	reply, err := NewMessage(TypeCrackBatchAck, result)
	if err != nil {
		return nil, err
	}
	return []*Message{reply}, nil
}

func (s *Service) handleAgentStatus(ctx context.Context, agentID int, msg *Message) ([]*Message, error) {
	var status AgentStatusPayload
	if err := json.Unmarshal(msg.Payload, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent status payload: %w", err)
	}

	switch status.Status {
	case AgentStatusOffline:
		reason := status.Reason
		if reason == "" {
			reason = "agent reported offline"
		}
		if err := s.engine.Leases.OnAgentOffline(ctx, agentID, reason); err != nil {
			return nil, err
		}
	case AgentStatusDisabled:
		if err := s.engine.Leases.SetAgentEnabled(ctx, agentID, false); err != nil {
			return nil, err
		}
	default:
		debug.Debug("Agent %d: ignoring status %q", agentID, status.Status)
	}
	return nil, nil
}

// AgentDisconnected reclaims the lease of an agent whose connection dropped
func (s *Service) AgentDisconnected(ctx context.Context, agentID int) error {
	return s.engine.Leases.OnAgentOffline(ctx, agentID, "websocket disconnected")
}
