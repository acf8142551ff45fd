package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	wsservice "github.com/ZerkerEOD/krakenhashes/coordinator/internal/services/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnections struct {
	mu        sync.Mutex
	connected []int
	sent      map[int][]*wsservice.Message
}

func newFakeConnections(agents ...int) *fakeConnections {
	return &fakeConnections{connected: agents, sent: make(map[int][]*wsservice.Message)}
}

func (f *fakeConnections) SendMessage(agentID int, msg *wsservice.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[agentID] = append(f.sent[agentID], msg)
	return nil
}

func (f *fakeConnections) GetConnectedAgents() []int {
	return f.connected
}

func TestCampaignStateRequestsCheckIns(t *testing.T) {
	conns := newFakeConnections(1, 2)
	pusher := NewAgentPusher(conns)

	event := models.NewEvent(models.EventCampaignStateChanged, 7)
	event.OldState, event.NewState = "draft", "active"
	require.NoError(t, pusher.Deliver(context.Background(), event))

	for _, id := range []int{1, 2} {
		require.Len(t, conns.sent[id], 1)
		assert.Equal(t, wsservice.TypeCheckInRequest, conns.sent[id][0].Type)
	}

	event.OldState, event.NewState = "completed", "archived"
	require.NoError(t, pusher.Deliver(context.Background(), event))
	assert.Len(t, conns.sent[1], 1, "archiving does not concern agents")
}

func TestDisabledAgentGetsJobStop(t *testing.T) {
	conns := newFakeConnections(3)
	pusher := NewAgentPusher(conns)

	agentID, taskID, attackID := 3, uuid.New(), int64(4)
	event := models.NewEvent(models.EventTaskStateChanged, 7)
	event.AgentID, event.TaskID, event.AttackID = &agentID, &taskID, &attackID
	event.OldState, event.NewState = "running", "pending"
	event.Data = map[string]interface{}{"reason": "agent disabled"}
	require.NoError(t, pusher.Deliver(context.Background(), event))

	require.Len(t, conns.sent[3], 1)
	msg := conns.sent[3][0]
	assert.Equal(t, wsservice.TypeJobStop, msg.Type)

	var stop wsservice.JobStopPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &stop))
	assert.Equal(t, taskID, stop.TaskID)
	assert.Equal(t, "agent disabled", stop.Reason)
}

func TestJobStopSkipsDisconnectedAgents(t *testing.T) {
	conns := newFakeConnections()
	pusher := NewAgentPusher(conns)

	require.NoError(t, pusher.SendJobStop(8, uuid.New(), "agent disabled"))
	assert.Empty(t, conns.sent)
}
