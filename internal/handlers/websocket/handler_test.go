package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
	wsservice "github.com/ZerkerEOD/krakenhashes/coordinator/internal/services/websocket"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*testutil.Env, *Handler, *httptest.Server) {
	t.Helper()
	env := testutil.NewEnv(t)
	h := NewHandler(wsservice.NewService(env.Engine), DefaultConfig())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	return env, h, srv
}

func dial(t *testing.T, srv *httptest.Server, agentID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Set("X-Agent-ID", agentID)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msgType wsservice.MessageType, payload interface{}) *wsservice.Message {
	t.Helper()
	msg, err := wsservice.NewMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var reply wsservice.Message
	require.NoError(t, conn.ReadJSON(&reply))
	return &reply
}

func TestServeWSRequiresAgentID(t *testing.T) {
	_, _, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeWSAssignsAndReclaimsOnDisconnect(t *testing.T) {
	env, h, srv := newTestServer(t)
	_, attack := env.SeedMaskCampaign(t, 400)

	conn := dial(t, srv, "5")
	require.Eventually(t, func() bool {
		return len(h.GetConnectedAgents()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{5}, h.GetConnectedAgents())

	reply := roundTrip(t, conn, wsservice.TypeHeartbeat, testutil.CheckIn(5))
	require.Equal(t, wsservice.TypeTaskAssignment, reply.Type)

	var chunk services.ChunkDescriptor
	require.NoError(t, json.Unmarshal(reply.Payload, &chunk))
	assert.Equal(t, attack.ID, chunk.AttackID)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(h.GetConnectedAgents()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		tasks, err := env.Engine.Campaigns.ListTasks(env.Ctx, attack.ID)
		return err == nil && len(tasks) == 1 && tasks[0].State == models.TaskStatePending
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeWSRepliesWithErrors(t *testing.T) {
	_, _, srv := newTestServer(t)
	conn := dial(t, srv, "3")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var reply wsservice.Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, wsservice.TypeError, reply.Type)

	reply = *roundTrip(t, conn, "benchmark_result", map[string]int{"speed": 1})
	require.Equal(t, wsservice.TypeError, reply.Type)

	var payload wsservice.ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Payload, &payload))
	assert.Equal(t, "MESSAGE_FAILED", payload.Code)
	assert.Equal(t, wsservice.MessageType("benchmark_result"), payload.InReply)
}

func TestSendMessageToUnknownAgent(t *testing.T) {
	_, h, _ := newTestServer(t)
	err := h.SendMessage(9, &wsservice.Message{Type: wsservice.TypeNoWork})
	assert.ErrorContains(t, err, "not connected")
}

func TestSendMessageReachesAgent(t *testing.T) {
	_, h, srv := newTestServer(t)
	conn := dial(t, srv, "4")
	defer conn.Close()

	require.Eventually(t, func() bool {
		return h.SendMessage(4, &wsservice.Message{Type: wsservice.TypeNoWork}) == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsservice.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, wsservice.TypeNoWork, msg.Type)
}

func TestAgentIDFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/agent?agent_id=12", nil)
	id, err := agentIDFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, 12, id)

	r = httptest.NewRequest(http.MethodGet, "/ws/agent?agent_id=abc", nil)
	_, err = agentIDFromRequest(r)
	assert.Error(t, err)
}
